// Package chain keeps an append-only, hash-linked log of settlement
// transactions. Settled trades enter as pending transactions and are sealed
// into blocks by ProduceBlock.
package chain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xtrntr/wattex/internal/models"
)

type TxType string

const (
	TxEnergyTrade    TxType = "energy_trade"
	TxGridFee        TxType = "grid_fee"
	TxStaking        TxType = "staking"
	TxGovernanceVote TxType = "governance_vote"
)

func (t TxType) Valid() bool {
	switch t {
	case TxEnergyTrade, TxGridFee, TxStaking, TxGovernanceVote:
		return true
	}
	return false
}

var (
	ErrInvalidTransaction = errors.New("invalid transaction")
	ErrBrokenChain        = errors.New("block chain verification failed")
)

// Transaction is one entry of the log. Quantity is energy in centi-kWh,
// Amount is the WATT moved. Reference points at the originating trade,
// proposal or account action.
type Transaction struct {
	ID        string    `json:"id"`
	Type      TxType    `json:"type"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Quantity  uint64    `json:"quantity"`
	Price     uint64    `json:"price"`
	Amount    uint64    `json:"amount"`
	Reference string    `json:"reference,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type Block struct {
	Index        uint64        `json:"index"`
	Timestamp    time.Time     `json:"timestamp"`
	Transactions []Transaction `json:"transactions"`
	PrevHash     string        `json:"prev_hash"`
	Hash         string        `json:"hash"`
	Nonce        uint64        `json:"nonce"`
}

// ComputeHash hashes every field of the block except Hash itself
func (b *Block) ComputeHash() string {
	txs, _ := json.Marshal(b.Transactions)
	h := sha256.New()
	fmt.Fprintf(h, "%d|%d|%s|%s|%d", b.Index, b.Timestamp.UnixNano(), txs, b.PrevHash, b.Nonce)
	return hex.EncodeToString(h.Sum(nil))
}

// Chain is safe for concurrent use
type Chain struct {
	mu         sync.Mutex
	blocks     []Block
	pending    []Transaction
	feeSink    string
	difficulty int

	log   *zap.Logger
	now   func() time.Time
	newID func() string
}

type Option func(*Chain)

func WithLogger(l *zap.Logger) Option { return func(c *Chain) { c.log = l } }

func WithClock(now func() time.Time) Option { return func(c *Chain) { c.now = now } }

func WithIDGenerator(f func() string) Option { return func(c *Chain) { c.newID = f } }

// WithFeeSink names the recipient of grid_fee transactions
func WithFeeSink(account string) Option { return func(c *Chain) { c.feeSink = account } }

// WithDifficulty requires block hashes to start with n zero hex digits
func WithDifficulty(n int) Option { return func(c *Chain) { c.difficulty = n } }

// New creates a chain holding only the genesis block
func New(opts ...Option) *Chain {
	c := &Chain{
		feeSink: models.DefaultMarketConfig().FeeSink,
		log:     zap.NewNop(),
		now:     time.Now,
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(c)
	}
	genesis := Block{Index: 0, Timestamp: c.now().UTC(), PrevHash: "0"}
	genesis.Hash = genesis.ComputeHash()
	c.blocks = []Block{genesis}
	return c
}

// RecordTrade queues the energy transfer and grid fee of a settled trade.
// It satisfies exchange.TradeSink.
func (c *Chain) RecordTrade(t models.Trade) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = append(c.pending, Transaction{
		ID:        c.newID(),
		Type:      TxEnergyTrade,
		From:      t.Seller,
		To:        t.Buyer,
		Quantity:  t.Quantity,
		Price:     t.Price,
		Amount:    t.Notional,
		Reference: t.ID,
		Timestamp: t.ExecutedAt,
	})
	if t.GridFee > 0 {
		c.pending = append(c.pending, Transaction{
			ID:        c.newID(),
			Type:      TxGridFee,
			From:      t.Buyer,
			To:        c.feeSink,
			Amount:    t.GridFee,
			Reference: t.ID,
			Timestamp: t.ExecutedAt,
		})
	}
}

// Submit queues an arbitrary transaction. ID and Timestamp are filled in
// when empty.
func (c *Chain) Submit(tx Transaction) (Transaction, error) {
	if !tx.Type.Valid() {
		return Transaction{}, fmt.Errorf("type %q: %w", tx.Type, ErrInvalidTransaction)
	}
	if tx.From == "" || tx.To == "" {
		return Transaction{}, fmt.Errorf("missing party: %w", ErrInvalidTransaction)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if tx.ID == "" {
		tx.ID = c.newID()
	}
	if tx.Timestamp.IsZero() {
		tx.Timestamp = c.now().UTC()
	}
	c.pending = append(c.pending, tx)
	return tx, nil
}

// ProduceBlock seals all pending transactions into a new block. It reports
// false when nothing is pending.
func (c *Chain) ProduceBlock() (Block, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.pending) == 0 {
		return Block{}, false
	}
	prev := c.blocks[len(c.blocks)-1]
	b := Block{
		Index:        prev.Index + 1,
		Timestamp:    c.now().UTC(),
		Transactions: c.pending,
		PrevHash:     prev.Hash,
	}
	b.Hash = b.ComputeHash()
	target := strings.Repeat("0", c.difficulty)
	for !strings.HasPrefix(b.Hash, target) {
		b.Nonce++
		b.Hash = b.ComputeHash()
	}
	c.blocks = append(c.blocks, b)
	c.pending = nil
	c.log.Info("block produced",
		zap.Uint64("index", b.Index),
		zap.Int("transactions", len(b.Transactions)),
		zap.String("hash", b.Hash))
	return b, true
}

// Verify recomputes every block hash and checks the links between blocks
func (c *Chain) Verify() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return verify(c.blocks)
}

func verify(blocks []Block) error {
	for i := range blocks {
		b := &blocks[i]
		if b.Hash != b.ComputeHash() {
			return fmt.Errorf("block %d hash mismatch: %w", b.Index, ErrBrokenChain)
		}
		if i == 0 {
			continue
		}
		prev := blocks[i-1]
		if b.PrevHash != prev.Hash || b.Index != prev.Index+1 {
			return fmt.Errorf("block %d not linked to %d: %w", b.Index, prev.Index, ErrBrokenChain)
		}
	}
	return nil
}

// Blocks returns a copy of the chain, genesis first
func (c *Chain) Blocks() []Block {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Block, len(c.blocks))
	for i, b := range c.blocks {
		b.Transactions = append([]Transaction(nil), b.Transactions...)
		out[i] = b
	}
	return out
}

func (c *Chain) Pending() []Transaction {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Transaction(nil), c.pending...)
}

// TransactionsFor returns sealed transactions where account is either party
func (c *Chain) TransactionsFor(account string) []Transaction {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Transaction
	for _, b := range c.blocks {
		for _, tx := range b.Transactions {
			if tx.From == account || tx.To == account {
				out = append(out, tx)
			}
		}
	}
	return out
}

// EnergyBalance is the net energy an account received through sealed
// energy_trade transactions.
func (c *Chain) EnergyBalance(account string) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	var net int64
	for _, b := range c.blocks {
		for _, tx := range b.Transactions {
			if tx.Type != TxEnergyTrade {
				continue
			}
			if tx.To == account {
				net += int64(tx.Quantity)
			}
			if tx.From == account {
				net -= int64(tx.Quantity)
			}
		}
	}
	return net
}
