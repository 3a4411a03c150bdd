package ledger

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/xtrntr/wattex/internal/models"
)

func TestLedger_MintAndBurn(t *testing.T) {
	l := New(nil)

	require.NoError(t, l.Mint(models.GRID, "alice", 1000))
	assert.Equal(t, uint64(1000), l.BalanceOf(models.GRID, "alice"))
	assert.Equal(t, uint64(1000), l.TotalSupply(models.GRID))

	err := l.Burn(models.GRID, "alice", 1200)
	assert.ErrorIs(t, err, models.ErrInsufficientBalance)
	assert.Equal(t, uint64(1000), l.BalanceOf(models.GRID, "alice"))
	assert.Equal(t, uint64(1000), l.TotalSupply(models.GRID))

	require.NoError(t, l.Burn(models.GRID, "alice", 400))
	assert.Equal(t, uint64(600), l.BalanceOf(models.GRID, "alice"))
	assert.Equal(t, uint64(600), l.TotalSupply(models.GRID))
}

func TestLedger_MintValidation(t *testing.T) {
	l := New(nil)

	assert.ErrorIs(t, l.Mint(models.WATT, "alice", 0), models.ErrInvalidAmount)
	assert.ErrorIs(t, l.Mint(models.Token("FOO"), "alice", 1), models.ErrInvalidAmount)
	assert.ErrorIs(t, l.Mint(models.WATT, "", 1), models.ErrInvalidAccount)

	require.NoError(t, l.Mint(models.WATT, "alice", math.MaxUint64))
	assert.ErrorIs(t, l.Mint(models.WATT, "bob", 1), models.ErrOverflow)
	_, ok := l.Account("bob")
	assert.False(t, ok, "failed mint must not create the account")
}

func TestLedger_Transfer(t *testing.T) {
	tests := []struct {
		name      string
		from, to  string
		amount    uint64
		expectErr error
		expectSrc uint64
		expectDst uint64
	}{
		{name: "Success", from: "alice", to: "bob", amount: 300, expectSrc: 700, expectDst: 300},
		{name: "InsufficientBalance", from: "alice", to: "bob", amount: 1001, expectErr: models.ErrInsufficientBalance, expectSrc: 1000},
		{name: "UnknownSender", from: "carol", to: "bob", amount: 1, expectErr: models.ErrInsufficientBalance},
		{name: "SelfTransfer", from: "alice", to: "alice", amount: 1, expectErr: models.ErrInvalidAccount, expectSrc: 1000, expectDst: 1000},
		{name: "ZeroAmount", from: "alice", to: "bob", amount: 0, expectErr: models.ErrInvalidAmount, expectSrc: 1000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := New(nil)
			require.NoError(t, l.Mint(models.WATT, "alice", 1000))

			err := l.Transfer(models.WATT, tt.from, tt.to, tt.amount)
			if tt.expectErr != nil {
				assert.ErrorIs(t, err, tt.expectErr)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.expectSrc, l.BalanceOf(models.WATT, tt.from))
			assert.Equal(t, tt.expectDst, l.BalanceOf(models.WATT, tt.to))
			assert.Equal(t, uint64(1000), l.TotalSupply(models.WATT))
		})
	}
}

func TestLedger_BalanceOfDoesNotCreateAccounts(t *testing.T) {
	l := New(nil)
	assert.Equal(t, uint64(0), l.BalanceOf(models.WATT, "ghost"))
	assert.Equal(t, uint64(0), l.TotalBalance("ghost"))
	_, ok := l.Account("ghost")
	assert.False(t, ok)
	assert.Empty(t, l.Accounts())
}

func TestLedger_StakeUnstake(t *testing.T) {
	l := New(nil)
	require.NoError(t, l.Mint(models.GRID, "alice", 1000))

	require.NoError(t, l.Stake("alice", 600))
	assert.Equal(t, uint64(400), l.BalanceOf(models.GRID, "alice"))
	assert.Equal(t, uint64(600), l.StakedOf("alice"))
	assert.Equal(t, uint64(1000), l.TotalBalance("alice"))

	assert.ErrorIs(t, l.Stake("alice", 401), models.ErrInsufficientBalance)
	assert.ErrorIs(t, l.Unstake("alice", 601), models.ErrInsufficientBalance)
	assert.Equal(t, uint64(600), l.StakedOf("alice"))

	require.NoError(t, l.Unstake("alice", 100))
	acc, ok := l.Account("alice")
	require.True(t, ok)
	assert.Equal(t, uint64(500), acc.Grid)
	assert.Equal(t, uint64(500), acc.Staked)
	assert.Equal(t, uint64(2), acc.Nonce)

	// staked GRID still counts toward supply and cannot be burned
	assert.Equal(t, uint64(1000), l.TotalSupply(models.GRID))
	assert.ErrorIs(t, l.Burn(models.GRID, "alice", 501), models.ErrInsufficientBalance)
}

func TestLedger_Settle(t *testing.T) {
	l := New(nil)
	require.NoError(t, l.Mint(models.WATT, "bob", 1000))

	require.NoError(t, l.Settle(models.WATT, "bob", "alice", "grid", 600, 30))
	assert.Equal(t, uint64(370), l.BalanceOf(models.WATT, "bob"))
	assert.Equal(t, uint64(600), l.BalanceOf(models.WATT, "alice"))
	assert.Equal(t, uint64(30), l.BalanceOf(models.WATT, "grid"))

	// notional fits but notional+fee does not: nothing moves
	err := l.Settle(models.WATT, "bob", "alice", "grid", 360, 20)
	assert.ErrorIs(t, err, models.ErrInsufficientBalance)
	assert.Equal(t, uint64(370), l.BalanceOf(models.WATT, "bob"))
	assert.Equal(t, uint64(600), l.BalanceOf(models.WATT, "alice"))
	assert.Equal(t, uint64(30), l.BalanceOf(models.WATT, "grid"))

	assert.ErrorIs(t, l.Settle(models.WATT, "bob", "bob", "grid", 1, 0), models.ErrInvalidAccount)
	assert.ErrorIs(t, l.Settle(models.WATT, "bob", "alice", "", 1, 1), models.ErrInvalidAccount)
	assert.ErrorIs(t, l.Settle(models.WATT, "bob", "alice", "grid", math.MaxUint64, 1), models.ErrOverflow)
	assert.Equal(t, uint64(1000), l.TotalSupply(models.WATT))
}

func TestLedger_Restore(t *testing.T) {
	l := New(nil)
	require.NoError(t, l.Mint(models.WATT, "stale", 5))

	err := l.Restore([]models.Account{
		{ID: "alice", Grid: 100, Staked: 50, Watt: 10},
		{ID: "bob", Watt: 20, Nonce: 7},
	})
	require.NoError(t, err)

	assert.Equal(t, uint64(150), l.TotalSupply(models.GRID))
	assert.Equal(t, uint64(30), l.TotalSupply(models.WATT))
	assert.Equal(t, uint64(0), l.BalanceOf(models.WATT, "stale"))
	accs := l.Accounts()
	require.Len(t, accs, 2)
	assert.Equal(t, "alice", accs[0].ID)
	assert.Equal(t, uint64(7), accs[1].Nonce)

	assert.ErrorIs(t, l.Restore([]models.Account{{ID: ""}}), models.ErrInvalidAccount)
}

// Supply changes only through mint and burn, and no balance ever goes
// negative, whatever sequence of operations is applied.
func TestLedger_ConservationProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		l := New(nil)
		ids := []string{"a", "b", "c", "sink"}
		kinds := []models.Token{models.GRID, models.WATT}
		expected := map[models.Token]uint64{}

		steps := rapid.IntRange(1, 60).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			kind := rapid.SampledFrom(kinds).Draw(t, "kind")
			from := rapid.SampledFrom(ids).Draw(t, "from")
			to := rapid.SampledFrom(ids).Draw(t, "to")
			amount := rapid.Uint64Range(0, 500).Draw(t, "amount")

			switch rapid.IntRange(0, 5).Draw(t, "op") {
			case 0:
				if l.Mint(kind, from, amount) == nil {
					expected[kind] += amount
				}
			case 1:
				if l.Burn(kind, from, amount) == nil {
					expected[kind] -= amount
				}
			case 2:
				_ = l.Transfer(kind, from, to, amount)
			case 3:
				_ = l.Stake(from, amount)
			case 4:
				_ = l.Unstake(from, amount)
			case 5:
				fee := rapid.Uint64Range(0, 50).Draw(t, "fee")
				_ = l.Settle(kind, from, to, "sink", amount, fee)
			}
		}

		for _, kind := range kinds {
			var sum uint64
			for _, acc := range l.Accounts() {
				sum += acc.Balance(kind)
				if kind == models.GRID {
					sum += acc.Staked
				}
			}
			if sum != expected[kind] || l.TotalSupply(kind) != expected[kind] {
				t.Fatalf("%s: balances sum %d, supply %d, expected %d", kind, sum, l.TotalSupply(kind), expected[kind])
			}
		}
	})
}
