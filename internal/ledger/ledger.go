package ledger

import (
	"fmt"
	"math/bits"
	"sort"
	"sync"

	"github.com/xtrntr/wattex/internal/models"

	"go.uber.org/zap"
)

// Ledger holds GRID and WATT balances for every account.
// A single mutex guards all mutators; every mutator is all-or-nothing.
type Ledger struct {
	mu       sync.RWMutex
	accounts map[string]*models.Account
	supply   map[models.Token]uint64
	log      *zap.Logger
}

// New creates an empty ledger
func New(log *zap.Logger) *Ledger {
	if log == nil {
		log = zap.NewNop()
	}
	return &Ledger{
		accounts: make(map[string]*models.Account),
		supply:   map[models.Token]uint64{models.GRID: 0, models.WATT: 0},
		log:      log,
	}
}

// account returns the account, creating it if create is set
func (l *Ledger) account(id string, create bool) *models.Account {
	acc, ok := l.accounts[id]
	if !ok && create {
		acc = &models.Account{ID: id}
		l.accounts[id] = acc
	}
	return acc
}

func balanceRef(acc *models.Account, kind models.Token) *uint64 {
	if kind == models.GRID {
		return &acc.Grid
	}
	return &acc.Watt
}

func checkArgs(kind models.Token, id string, amount uint64) error {
	if !kind.Valid() {
		return fmt.Errorf("unknown token %q: %w", kind, models.ErrInvalidAmount)
	}
	if id == "" {
		return models.ErrInvalidAccount
	}
	if amount == 0 {
		return models.ErrInvalidAmount
	}
	return nil
}

// Mint credits amount to account, creating the account on first mint
func (l *Ledger) Mint(kind models.Token, id string, amount uint64) error {
	if err := checkArgs(kind, id, amount); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	supply, carry := bits.Add64(l.supply[kind], amount, 0)
	if carry != 0 {
		return fmt.Errorf("mint %d %s: %w", amount, kind, models.ErrOverflow)
	}
	acc := l.account(id, true)
	bal := balanceRef(acc, kind)
	// balance <= supply, so this cannot carry if supply did not
	*bal += amount
	l.supply[kind] = supply

	l.log.Debug("minted", zap.String("token", string(kind)), zap.String("account", id), zap.Uint64("amount", amount))
	return nil
}

// Burn debits amount from account and removes it from supply
func (l *Ledger) Burn(kind models.Token, id string, amount uint64) error {
	if err := checkArgs(kind, id, amount); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	acc := l.account(id, false)
	if acc == nil || *balanceRef(acc, kind) < amount {
		return fmt.Errorf("burn %d %s from %s: %w", amount, kind, id, models.ErrInsufficientBalance)
	}
	if l.supply[kind] < amount {
		return fmt.Errorf("burn %d %s: supply below balance: %w", amount, kind, models.ErrInternal)
	}
	*balanceRef(acc, kind) -= amount
	l.supply[kind] -= amount
	acc.Nonce++

	l.log.Debug("burned", zap.String("token", string(kind)), zap.String("account", id), zap.Uint64("amount", amount))
	return nil
}

// Transfer moves amount from one account to another.
// Transfers to self are rejected with ErrInvalidAccount.
func (l *Ledger) Transfer(kind models.Token, from, to string, amount uint64) error {
	if err := checkArgs(kind, from, amount); err != nil {
		return err
	}
	if to == "" || from == to {
		return fmt.Errorf("transfer %s -> %s: %w", from, to, models.ErrInvalidAccount)
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	src := l.account(from, false)
	if src == nil || *balanceRef(src, kind) < amount {
		return fmt.Errorf("transfer %d %s from %s: %w", amount, kind, from, models.ErrInsufficientBalance)
	}
	dst := l.account(to, true)
	*balanceRef(src, kind) -= amount
	*balanceRef(dst, kind) += amount
	src.Nonce++
	return nil
}

// Settle debits notional+fee from payer and credits notional to payee and fee
// to sink, as a single atomic step. Either every balance changes or none does.
func (l *Ledger) Settle(kind models.Token, payer, payee, sink string, notional, fee uint64) error {
	if !kind.Valid() {
		return fmt.Errorf("unknown token %q: %w", kind, models.ErrInvalidAmount)
	}
	if payer == "" || payee == "" || payer == payee {
		return fmt.Errorf("settle %s -> %s: %w", payer, payee, models.ErrInvalidAccount)
	}
	if fee > 0 && sink == "" {
		return fmt.Errorf("settle fee without sink: %w", models.ErrInvalidAccount)
	}
	total, carry := bits.Add64(notional, fee, 0)
	if carry != 0 {
		return fmt.Errorf("settle %d+%d: %w", notional, fee, models.ErrOverflow)
	}
	if total == 0 {
		return models.ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	src := l.account(payer, false)
	if src == nil || *balanceRef(src, kind) < total {
		return fmt.Errorf("settle %d %s from %s: %w", total, kind, payer, models.ErrInsufficientBalance)
	}
	*balanceRef(src, kind) -= total
	if notional > 0 {
		*balanceRef(l.account(payee, true), kind) += notional
	}
	if fee > 0 {
		*balanceRef(l.account(sink, true), kind) += fee
	}
	src.Nonce++
	return nil
}

// Stake moves GRID from the free balance into the staked balance
func (l *Ledger) Stake(id string, amount uint64) error {
	if err := checkArgs(models.GRID, id, amount); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	acc := l.account(id, false)
	if acc == nil || acc.Grid < amount {
		return fmt.Errorf("stake %d from %s: %w", amount, id, models.ErrInsufficientBalance)
	}
	acc.Grid -= amount
	acc.Staked += amount
	acc.Nonce++
	return nil
}

// Unstake moves GRID from the staked balance back to the free balance
func (l *Ledger) Unstake(id string, amount uint64) error {
	if err := checkArgs(models.GRID, id, amount); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	acc := l.account(id, false)
	if acc == nil || acc.Staked < amount {
		return fmt.Errorf("unstake %d from %s: %w", amount, id, models.ErrInsufficientBalance)
	}
	acc.Staked -= amount
	acc.Grid += amount
	acc.Nonce++
	return nil
}

// BalanceOf returns the free balance; unknown accounts read as zero
func (l *Ledger) BalanceOf(kind models.Token, id string) uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	acc := l.account(id, false)
	if acc == nil || !kind.Valid() {
		return 0
	}
	return *balanceRef(acc, kind)
}

// StakedOf returns the staked GRID of an account
func (l *Ledger) StakedOf(id string) uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if acc := l.account(id, false); acc != nil {
		return acc.Staked
	}
	return 0
}

// TotalBalance is the account's GRID holding including stake. Governance
// uses it as voting power.
func (l *Ledger) TotalBalance(id string) uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	acc := l.account(id, false)
	if acc == nil {
		return 0
	}
	return acc.Grid + acc.Staked
}

// TotalSupply returns the minted-minus-burned supply of a token
func (l *Ledger) TotalSupply(kind models.Token) uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.supply[kind]
}

// Account returns a copy of an account record
func (l *Ledger) Account(id string) (models.Account, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	acc := l.account(id, false)
	if acc == nil {
		return models.Account{}, false
	}
	return *acc, true
}

// Accounts returns a copy of every account, sorted by id
func (l *Ledger) Accounts() []models.Account {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]models.Account, 0, len(l.accounts))
	for _, acc := range l.accounts {
		out = append(out, *acc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Restore replaces the ledger contents with a snapshot and recomputes supply
func (l *Ledger) Restore(accounts []models.Account) error {
	accs := make(map[string]*models.Account, len(accounts))
	var grid, watt uint64
	for _, a := range accounts {
		if a.ID == "" {
			return models.ErrInvalidAccount
		}
		var c1, c2, c3 uint64
		grid, c1 = bits.Add64(grid, a.Grid, 0)
		grid, c2 = bits.Add64(grid, a.Staked, 0)
		watt, c3 = bits.Add64(watt, a.Watt, 0)
		if c1|c2|c3 != 0 {
			return fmt.Errorf("restore %s: %w", a.ID, models.ErrOverflow)
		}
		acc := a
		accs[a.ID] = &acc
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.accounts = accs
	l.supply = map[models.Token]uint64{models.GRID: grid, models.WATT: watt}
	return nil
}
