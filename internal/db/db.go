package db

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xtrntr/wattex/internal/models"
)

//go:embed schema.sql
var schema string

// ErrNotFound is returned when a looked-up row does not exist
var ErrNotFound = errors.New("not found")

const uniqueViolation = "23505"

// DB wraps a PostgreSQL connection pool
type DB struct {
	Pool *pgxpool.Pool
}

// NewDB initializes a new database connection pool and checks connectivity
func NewDB(ctx context.Context, connString string) (*DB, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}
	return &DB{Pool: pool}, nil
}

// Close closes the database connection pool
func (db *DB) Close() {
	db.Pool.Close()
}

// Migrate creates any missing tables and indexes
func (db *DB) Migrate(ctx context.Context) error {
	if _, err := db.Pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// CreateParticipant inserts a participant with its password hash. A
// duplicate account yields models.ErrInvalidAccount.
func (db *DB) CreateParticipant(ctx context.Context, p models.Participant, passwordHash string) error {
	kind, production, consumption, source, class := models.FlattenProfile(p.Profile)
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO participants (account, name, kind, production, consumption, source, class, active, password_hash, registered_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		p.Account, p.Name, kind, production, consumption, source, class, p.Active, passwordHash, p.RegisteredAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("participant %s exists: %w", p.Account, models.ErrInvalidAccount)
		}
		return fmt.Errorf("failed to create participant: %w", err)
	}
	return nil
}

// SetParticipantActive updates the active flag of a participant
func (db *DB) SetParticipantActive(ctx context.Context, account string, active bool) error {
	tag, err := db.Pool.Exec(ctx, "UPDATE participants SET active = $1 WHERE account = $2", active, account)
	if err != nil {
		return fmt.Errorf("failed to update participant: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("participant %s: %w", account, ErrNotFound)
	}
	return nil
}

// GetPasswordHash returns the stored bcrypt hash for an account
func (db *DB) GetPasswordHash(ctx context.Context, account string) (string, error) {
	var hash string
	err := db.Pool.QueryRow(ctx,
		"SELECT password_hash FROM participants WHERE account = $1", account).Scan(&hash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", fmt.Errorf("participant %s: %w", account, ErrNotFound)
		}
		return "", fmt.Errorf("failed to get password hash: %w", err)
	}
	return hash, nil
}

// ListParticipants returns all participants ordered by account
func (db *DB) ListParticipants(ctx context.Context) ([]models.Participant, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT account, name, kind, production, consumption, source, class, active, registered_at
		FROM participants
		ORDER BY account`)
	if err != nil {
		return nil, fmt.Errorf("failed to list participants: %w", err)
	}
	defer rows.Close()

	var out []models.Participant
	for rows.Next() {
		var (
			p                       models.Participant
			kind                    models.ParticipantKind
			production, consumption uint64
			source                  models.EnergySource
			class                   models.ConsumerClass
		)
		if err := rows.Scan(&p.Account, &p.Name, &kind, &production, &consumption, &source, &class, &p.Active, &p.RegisteredAt); err != nil {
			return nil, fmt.Errorf("failed to scan participant: %w", err)
		}
		p.Profile, err = models.NewProfile(kind, production, consumption, source, class)
		if err != nil {
			return nil, fmt.Errorf("participant %s has kind %q: %w", p.Account, kind, err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// querier is satisfied by both the pool and a transaction
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func saveOrder(ctx context.Context, q querier, o models.Order) error {
	_, err := q.Exec(ctx, `
		INSERT INTO orders (id, owner, side, quantity, price, filled, status, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET filled = EXCLUDED.filled, status = EXCLUDED.status`,
		o.ID, o.Owner, o.Side, o.Quantity, o.Price, o.Filled, o.Status, o.CreatedAt, o.ExpiresAt)
	if err != nil {
		return fmt.Errorf("failed to save order %s: %w", o.ID, err)
	}
	return nil
}

func saveTrade(ctx context.Context, q querier, t models.Trade) error {
	_, err := q.Exec(ctx, `
		INSERT INTO trades (id, buy_order_id, sell_order_id, buyer, seller, quantity, price, notional, grid_fee, status, executed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO NOTHING`,
		t.ID, t.BuyOrderID, t.SellOrderID, t.Buyer, t.Seller, t.Quantity, t.Price, t.Notional, t.GridFee, t.Status, t.ExecutedAt)
	if err != nil {
		return fmt.Errorf("failed to save trade %s: %w", t.ID, err)
	}
	return nil
}

const accountUpsert = `
	INSERT INTO accounts (id, grid, watt, staked, nonce, updated_at)
	VALUES ($1, $2, $3, $4, $5, now())
	ON CONFLICT (id) DO UPDATE SET grid = EXCLUDED.grid, watt = EXCLUDED.watt,
		staked = EXCLUDED.staked, nonce = EXCLUDED.nonce, updated_at = now()`

func saveAccount(ctx context.Context, q querier, a models.Account) error {
	_, err := q.Exec(ctx, accountUpsert, a.ID, a.Grid, a.Watt, a.Staked, a.Nonce)
	if err != nil {
		return fmt.Errorf("failed to save account %s: %w", a.ID, err)
	}
	return nil
}

// SaveOrder inserts an order or updates its fill state and status
func (db *DB) SaveOrder(ctx context.Context, o models.Order) error {
	return saveOrder(ctx, db.Pool, o)
}

// SaveTrade inserts a trade; saving the same trade twice is a no-op
func (db *DB) SaveTrade(ctx context.Context, t models.Trade) error {
	return saveTrade(ctx, db.Pool, t)
}

// RecordPlacement persists the outcome of one order placement atomically:
// orders first so trades can reference them, then trades and balances.
func (db *DB) RecordPlacement(ctx context.Context, orders []models.Order, trades []models.Trade, accounts []models.Account) error {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, o := range orders {
		if err := saveOrder(ctx, tx, o); err != nil {
			return err
		}
	}
	for _, t := range trades {
		if err := saveTrade(ctx, tx, t); err != nil {
			return err
		}
	}
	for _, a := range accounts {
		if err := saveAccount(ctx, tx, a); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

const orderColumns = "id, owner, side, quantity, price, filled, status, created_at, expires_at"

func scanOrders(rows pgx.Rows) ([]models.Order, error) {
	defer rows.Close()
	var orders []models.Order
	for rows.Next() {
		var o models.Order
		if err := rows.Scan(&o.ID, &o.Owner, &o.Side, &o.Quantity, &o.Price, &o.Filled, &o.Status, &o.CreatedAt, &o.ExpiresAt); err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// GetOpenOrders retrieves all pending and partially filled orders, oldest first
func (db *DB) GetOpenOrders(ctx context.Context) ([]models.Order, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE status IN ($1, $2)
		ORDER BY created_at ASC, id ASC`,
		models.OrderPending, models.OrderPartiallyFilled)
	if err != nil {
		return nil, fmt.Errorf("failed to get open orders: %w", err)
	}
	return scanOrders(rows)
}

// GetUserOrders retrieves all orders placed by an account
func (db *DB) GetUserOrders(ctx context.Context, owner string) ([]models.Order, error) {
	rows, err := db.Pool.Query(ctx,
		"SELECT "+orderColumns+" FROM orders WHERE owner = $1 ORDER BY created_at ASC, id ASC", owner)
	if err != nil {
		return nil, fmt.Errorf("failed to get user orders: %w", err)
	}
	return scanOrders(rows)
}

const tradeColumns = "id, buy_order_id, sell_order_id, buyer, seller, quantity, price, notional, grid_fee, status, executed_at"

func scanTrades(rows pgx.Rows) ([]models.Trade, error) {
	defer rows.Close()
	var trades []models.Trade
	for rows.Next() {
		var t models.Trade
		if err := rows.Scan(&t.ID, &t.BuyOrderID, &t.SellOrderID, &t.Buyer, &t.Seller,
			&t.Quantity, &t.Price, &t.Notional, &t.GridFee, &t.Status, &t.ExecutedAt); err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// ListTrades returns the full trade history in execution order
func (db *DB) ListTrades(ctx context.Context) ([]models.Trade, error) {
	rows, err := db.Pool.Query(ctx, "SELECT "+tradeColumns+" FROM trades ORDER BY executed_at ASC, id ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to list trades: %w", err)
	}
	return scanTrades(rows)
}

// GetUserTrades retrieves trades where the account was buyer or seller
func (db *DB) GetUserTrades(ctx context.Context, account string) ([]models.Trade, error) {
	rows, err := db.Pool.Query(ctx,
		"SELECT "+tradeColumns+" FROM trades WHERE buyer = $1 OR seller = $1 ORDER BY executed_at ASC, id ASC", account)
	if err != nil {
		return nil, fmt.Errorf("failed to get user trades: %w", err)
	}
	return scanTrades(rows)
}

// SaveAccounts upserts a balance snapshot in a single batch
func (db *DB) SaveAccounts(ctx context.Context, accounts []models.Account) error {
	if len(accounts) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, a := range accounts {
		batch.Queue(accountUpsert, a.ID, a.Grid, a.Watt, a.Staked, a.Nonce)
	}
	if err := db.Pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to save accounts: %w", err)
	}
	return nil
}

// LoadAccounts returns the last saved balance snapshot
func (db *DB) LoadAccounts(ctx context.Context) ([]models.Account, error) {
	rows, err := db.Pool.Query(ctx, "SELECT id, grid, watt, staked, nonce FROM accounts ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to load accounts: %w", err)
	}
	defer rows.Close()

	var out []models.Account
	for rows.Next() {
		var a models.Account
		if err := rows.Scan(&a.ID, &a.Grid, &a.Watt, &a.Staked, &a.Nonce); err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
