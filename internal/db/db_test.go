package db

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xtrntr/wattex/internal/models"
)

var testDB *DB

// The tests run against a disposable database named by
// WATTEX_TEST_DATABASE_URL; without it they are skipped.
func TestMain(m *testing.M) {
	url := os.Getenv("WATTEX_TEST_DATABASE_URL")
	if url == "" {
		fmt.Fprintln(os.Stderr, "WATTEX_TEST_DATABASE_URL not set, skipping database tests")
		os.Exit(m.Run())
	}

	ctx := context.Background()
	var err error
	testDB, err = NewDB(ctx, url)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Unable to connect to database: %v\n", err)
		os.Exit(1)
	}
	if err := testDB.Migrate(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Unable to apply schema: %v\n", err)
		os.Exit(1)
	}
	code := m.Run()
	testDB.Close()
	os.Exit(code)
}

func reset(t *testing.T) context.Context {
	t.Helper()
	if testDB == nil {
		t.Skip("no test database")
	}
	ctx := context.Background()
	_, err := testDB.Pool.Exec(ctx, "TRUNCATE TABLE trades, orders, accounts, participants")
	require.NoError(t, err)
	return ctx
}

var at = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func participant(account string, profile models.Profile) models.Participant {
	return models.Participant{Account: account, Name: account, Profile: profile, Active: true, RegisteredAt: at}
}

func TestDB_Participants(t *testing.T) {
	ctx := reset(t)

	require.NoError(t, testDB.CreateParticipant(ctx, participant("alice", models.Producer{ProductionCapacity: 500, Source: models.SourceSolar}), "hash-a"))
	require.NoError(t, testDB.CreateParticipant(ctx, participant("bob", models.Consumer{ConsumptionCapacity: 300, Class: models.ClassResidential}), "hash-b"))

	err := testDB.CreateParticipant(ctx, participant("alice", models.Aggregator{}), "x")
	assert.ErrorIs(t, err, models.ErrInvalidAccount)

	hash, err := testDB.GetPasswordHash(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, "hash-b", hash)
	_, err = testDB.GetPasswordHash(ctx, "nobody")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, testDB.SetParticipantActive(ctx, "bob", false))
	assert.ErrorIs(t, testDB.SetParticipantActive(ctx, "nobody", false), ErrNotFound)

	ps, err := testDB.ListParticipants(ctx)
	require.NoError(t, err)
	require.Len(t, ps, 2)
	assert.Equal(t, models.Producer{ProductionCapacity: 500, Source: models.SourceSolar}, ps[0].Profile)
	assert.False(t, ps[1].Active)
	assert.True(t, ps[0].RegisteredAt.Equal(at))
}

func TestDB_RecordPlacement(t *testing.T) {
	ctx := reset(t)
	require.NoError(t, testDB.CreateParticipant(ctx, participant("alice", models.Producer{}), "h"))
	require.NoError(t, testDB.CreateParticipant(ctx, participant("bob", models.Consumer{}), "h"))

	exp := at.Add(time.Hour)
	sell := models.Order{ID: "o1", Owner: "alice", Side: models.Sell, Quantity: 80, Price: 95, Status: models.OrderPending, CreatedAt: at, ExpiresAt: &exp}
	require.NoError(t, testDB.SaveOrder(ctx, sell))

	sell.Filled = 70
	sell.Status = models.OrderPartiallyFilled
	buy := models.Order{ID: "o2", Owner: "bob", Side: models.Buy, Quantity: 70, Price: 100, Filled: 70, Status: models.OrderFilled, CreatedAt: at.Add(time.Second)}
	trade := models.Trade{
		ID: "t1", BuyOrderID: "o2", SellOrderID: "o1", Buyer: "bob", Seller: "alice",
		Quantity: 70, Price: 95, Notional: 6650, GridFee: 332, Status: models.TradeSettled, ExecutedAt: at.Add(time.Second),
	}
	accounts := []models.Account{
		{ID: "alice", Watt: 6650, Nonce: 0},
		{ID: "bob", Watt: 3018, Nonce: 1},
		{ID: "grid-operator", Watt: 332},
	}
	require.NoError(t, testDB.RecordPlacement(ctx, []models.Order{buy, sell}, []models.Trade{trade}, accounts))
	// replaying the same placement is harmless
	require.NoError(t, testDB.RecordPlacement(ctx, []models.Order{buy, sell}, []models.Trade{trade}, accounts))

	open, err := testDB.GetOpenOrders(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, uint64(70), open[0].Filled)
	require.NotNil(t, open[0].ExpiresAt)
	assert.True(t, open[0].ExpiresAt.Equal(exp))

	orders, err := testDB.GetUserOrders(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Nil(t, orders[0].ExpiresAt)

	trades, err := testDB.GetUserTrades(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, uint64(332), trades[0].GridFee)

	all, err := testDB.ListTrades(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	loaded, err := testDB.LoadAccounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, accounts, loaded)
}

func TestDB_RecordPlacementRollsBack(t *testing.T) {
	ctx := reset(t)
	require.NoError(t, testDB.CreateParticipant(ctx, participant("alice", models.Producer{}), "h"))

	// the trade references an order that does not exist
	trade := models.Trade{ID: "t1", BuyOrderID: "missing", SellOrderID: "o1", Buyer: "bob", Seller: "alice", Quantity: 1, Price: 1, Notional: 1, Status: models.TradeSettled, ExecutedAt: at}
	order := models.Order{ID: "o1", Owner: "alice", Side: models.Sell, Quantity: 1, Price: 1, Status: models.OrderPending, CreatedAt: at}
	err := testDB.RecordPlacement(ctx, []models.Order{order}, []models.Trade{trade}, nil)
	require.Error(t, err)

	open, err := testDB.GetOpenOrders(ctx)
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestDB_SaveAccounts(t *testing.T) {
	ctx := reset(t)
	require.NoError(t, testDB.SaveAccounts(ctx, nil))

	require.NoError(t, testDB.SaveAccounts(ctx, []models.Account{{ID: "a", Grid: 10}, {ID: "b", Watt: 5}}))
	require.NoError(t, testDB.SaveAccounts(ctx, []models.Account{{ID: "a", Grid: 4, Staked: 6, Nonce: 1}}))

	got, err := testDB.LoadAccounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, []models.Account{{ID: "a", Grid: 4, Staked: 6, Nonce: 1}, {ID: "b", Watt: 5}}, got)
}
