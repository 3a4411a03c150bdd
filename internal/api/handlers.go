package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/xtrntr/wattex/internal/auth"
	"github.com/xtrntr/wattex/internal/chain"
	"github.com/xtrntr/wattex/internal/exchange"
	"github.com/xtrntr/wattex/internal/governance"
	"github.com/xtrntr/wattex/internal/models"
)

// Store persists the state changes made through the API
type Store interface {
	CreateParticipant(ctx context.Context, p models.Participant, passwordHash string) error
	SetParticipantActive(ctx context.Context, account string, active bool) error
	RecordPlacement(ctx context.Context, orders []models.Order, trades []models.Trade, accounts []models.Account) error
	SaveOrder(ctx context.Context, o models.Order) error
	SaveAccounts(ctx context.Context, accounts []models.Account) error
}

// Notifier is told whenever the order book may have changed
type Notifier interface {
	Notify()
}

// Handler contains dependencies for HTTP handlers. Governance, Chain and
// Notifier are optional.
type Handler struct {
	Exchange    *exchange.Exchange
	Store       Store
	AuthService *auth.AuthService
	Governance  *governance.Governance
	Chain       *chain.Chain
	Notifier    Notifier
	Log         *zap.Logger
}

// NewHandler creates a new handler
func NewHandler(ex *exchange.Exchange, store Store, authService *auth.AuthService, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{Exchange: ex, Store: store, AuthService: authService, Log: log}
}

// Routes mounts every API endpoint on a new router
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(h.requestLogger)

	r.Post("/auth/register", h.Register)
	r.Post("/auth/login", h.Login)
	r.Get("/orderbook", h.GetOrderBook)
	r.Get("/stats", h.GetMarketStats)
	r.Get("/participants", h.ListParticipants)
	r.Get("/proposals", h.ListProposals)
	r.Get("/proposals/{id}", h.GetProposal)
	r.Get("/chain/blocks", h.GetBlocks)
	r.Get("/chain/verify", h.VerifyChain)

	r.Group(func(r chi.Router) {
		r.Use(h.JWTAuthMiddleware)
		r.Post("/orders", h.PlaceOrder)
		r.Get("/orders", h.GetUserOrders)
		r.Delete("/orders/{id}", h.CancelOrder)
		r.Get("/trades", h.GetUserTrades)
		r.Get("/balances", h.GetBalances)
		r.Post("/transfers", h.Transfer)
		r.Post("/stake", h.Stake)
		r.Post("/unstake", h.Unstake)
		r.Get("/report", h.GetReport)
		r.Post("/proposals", h.CreateProposal)
		r.Post("/proposals/{id}/votes", h.Vote)
		r.Post("/proposals/{id}/finalize", h.FinalizeProposal)

		r.Route("/admin", func(r chi.Router) {
			r.Use(h.operatorOnly)
			r.Post("/mint", h.Mint)
			r.Put("/market", h.UpdateMarket)
			r.Put("/market/open", h.SetMarketOpen)
			r.Put("/participants/{account}/active", h.SetParticipantActive)
			r.Post("/sweep", h.SweepExpired)
		})
	})
	return r
}

type ctxKey struct{}

func accountFrom(ctx context.Context) (string, bool) {
	account, ok := ctx.Value(ctxKey{}).(string)
	return account, ok && account != ""
}

// JWTAuthMiddleware verifies JWT tokens
func (h *Handler) JWTAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := r.Header.Get("Authorization")
		if tokenString == "" {
			writeError(w, http.StatusUnauthorized, "Authorization header required")
			return
		}
		tokenString = strings.TrimPrefix(tokenString, "Bearer ")

		account, err := h.AuthService.GetAccountFromToken(tokenString)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "Invalid or expired token")
			return
		}

		ctx := context.WithValue(r.Context(), ctxKey{}, account)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (h *Handler) operatorOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		account, _ := accountFrom(r.Context())
		if !h.Exchange.IsOperator(account) {
			writeError(w, http.StatusForbidden, "Operator privileges required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		h.Log.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}

// Register handles participant registration
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Account             string                 `json:"account"`
		Password            string                 `json:"password"`
		Name                string                 `json:"name"`
		Kind                models.ParticipantKind `json:"kind"`
		ProductionCapacity  uint64                 `json:"production_capacity"`
		ConsumptionCapacity uint64                 `json:"consumption_capacity"`
		Source              models.EnergySource    `json:"source"`
		Class               models.ConsumerClass   `json:"class"`
	}
	if !decode(w, r, &req) {
		return
	}
	if err := auth.ValidateAccount(req.Account); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	profile, err := models.NewProfile(req.Kind, req.ProductionCapacity, req.ConsumptionCapacity, req.Source, req.Class)
	if err != nil {
		writeError(w, http.StatusBadRequest, "kind must be producer, consumer, prosumer or aggregator")
		return
	}
	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	p := models.Participant{
		Account:      req.Account,
		Name:         req.Name,
		Profile:      profile,
		Active:       true,
		RegisteredAt: time.Now().UTC(),
	}
	if err := h.Store.CreateParticipant(r.Context(), p, hash); err != nil {
		if errors.Is(err, models.ErrInvalidAccount) {
			writeError(w, http.StatusConflict, "Account already registered")
			return
		}
		h.Log.Error("failed to store participant", zap.String("account", p.Account), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to register participant")
		return
	}
	if err := h.Exchange.RegisterParticipant(p); err != nil {
		writeError(w, http.StatusConflict, "Account already registered")
		return
	}

	registered, _ := h.Exchange.Participant(p.Account)
	writeJSON(w, http.StatusCreated, registered)
}

// Login handles participant login
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Account  string `json:"account"`
		Password string `json:"password"`
	}
	if !decode(w, r, &req) {
		return
	}

	token, err := h.AuthService.Login(r.Context(), req.Account, req.Password)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

// PlaceOrder handles order placement and matching
func (h *Handler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	account, ok := accountFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var req struct {
		Side      models.Side `json:"side"`
		Quantity  uint64      `json:"quantity"`
		Price     uint64      `json:"price"`
		ExpiresAt *time.Time  `json:"expires_at,omitempty"`
	}
	if !decode(w, r, &req) {
		return
	}

	p, err := h.Exchange.PlaceOrder(exchange.OrderRequest{
		Account:   account,
		Side:      req.Side,
		Quantity:  req.Quantity,
		Price:     req.Price,
		ExpiresAt: req.ExpiresAt,
	})
	if err != nil && p.Order.ID == "" {
		h.writeErr(w, err)
		return
	}
	if err != nil {
		h.Log.Error("matching stopped on broken invariant", zap.String("order_id", p.Order.ID), zap.Error(err))
	}

	orders := append([]models.Order{p.Order}, p.Updated...)
	if err := h.Store.RecordPlacement(r.Context(), orders, p.Trades, h.accountsTouched(account, p.Trades)); err != nil {
		h.Log.Error("failed to record placement", zap.String("order_id", p.Order.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to record order")
		return
	}
	h.notify()

	trades := p.Trades
	if trades == nil {
		trades = []models.Trade{}
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"message":  "Order placed",
		"order_id": p.Order.ID,
		"order":    p.Order,
		"trades":   trades,
	})
}

// accountsTouched snapshots the balances changed by a placement
func (h *Handler) accountsTouched(account string, trades []models.Trade) []models.Account {
	ids := map[string]struct{}{account: {}}
	if len(trades) > 0 {
		ids[h.Exchange.Config().FeeSink] = struct{}{}
	}
	for _, t := range trades {
		ids[t.Buyer] = struct{}{}
		ids[t.Seller] = struct{}{}
	}
	return h.snapshot(ids)
}

func (h *Handler) snapshot(ids map[string]struct{}) []models.Account {
	out := make([]models.Account, 0, len(ids))
	for id := range ids {
		if acc, ok := h.Exchange.Ledger().Account(id); ok {
			out = append(out, acc)
		}
	}
	return out
}

// GetUserOrders retrieves the caller's orders
func (h *Handler) GetUserOrders(w http.ResponseWriter, r *http.Request) {
	account, ok := accountFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	orders := h.Exchange.OrdersFor(account)
	if orders == nil {
		orders = []models.Order{}
	}
	writeJSON(w, http.StatusOK, orders)
}

// GetOrderBook retrieves the current order book
func (h *Handler) GetOrderBook(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, BookSnapshot(h.Exchange))
}

// Book is the public view of the order book
type Book struct {
	BuyOrders  []models.Order `json:"buy_orders"`
	SellOrders []models.Order `json:"sell_orders"`
}

// BookSnapshot reads both sides of the book in priority order
func BookSnapshot(ex *exchange.Exchange) Book {
	bids, asks := ex.GetOrderBook()
	if bids == nil {
		bids = []models.Order{}
	}
	if asks == nil {
		asks = []models.Order{}
	}
	return Book{BuyOrders: bids, SellOrders: asks}
}

// GetMarketStats returns aggregate market statistics
func (h *Handler) GetMarketStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Exchange.GetMarketStats())
}

// ListParticipants returns all registered participants
func (h *Handler) ListParticipants(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Exchange.Participants())
}

// GetUserTrades retrieves the caller's trade history
func (h *Handler) GetUserTrades(w http.ResponseWriter, r *http.Request) {
	account, ok := accountFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	trades := h.Exchange.TradesFor(account)
	if trades == nil {
		trades = []models.Trade{}
	}
	writeJSON(w, http.StatusOK, trades)
}

// CancelOrder cancels an open order
func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	account, ok := accountFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	order, err := h.Exchange.CancelOrder(chi.URLParam(r, "id"), account)
	if err != nil {
		h.writeErr(w, err)
		return
	}
	if err := h.Store.SaveOrder(r.Context(), order); err != nil {
		h.Log.Error("failed to record cancellation", zap.String("order_id", order.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to record cancellation")
		return
	}
	h.notify()

	writeJSON(w, http.StatusOK, map[string]interface{}{"message": "Order cancelled", "order": order})
}

func (h *Handler) notify() {
	if h.Notifier != nil {
		h.Notifier.Notify()
	}
}

func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (h *Handler) writeErr(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.Log.Error("request failed", zap.Error(err))
		writeError(w, status, "Internal error")
		return
	}
	writeError(w, status, err.Error())
}

// statusFor maps domain errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrOrderNotFound), errors.Is(err, governance.ErrProposalNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrInsufficientBalance),
		errors.Is(err, governance.ErrInsufficientBalance),
		errors.Is(err, governance.ErrNoVotingPower):
		return http.StatusUnprocessableEntity
	case errors.Is(err, models.ErrMarketClosed),
		errors.Is(err, models.ErrAlreadyFilled),
		errors.Is(err, models.ErrAlreadyCancelled),
		errors.Is(err, models.ErrOrderExpired),
		errors.Is(err, governance.ErrProposalClosed),
		errors.Is(err, governance.ErrVotingEnded),
		errors.Is(err, governance.ErrVotingOpen),
		errors.Is(err, governance.ErrAlreadyVoted),
		errors.Is(err, governance.ErrOwnProposal):
		return http.StatusConflict
	case errors.Is(err, models.ErrInvalidAmount),
		errors.Is(err, models.ErrInvalidAccount),
		errors.Is(err, models.ErrInvalidSide),
		errors.Is(err, models.ErrOrderSizeOutOfBounds),
		errors.Is(err, models.ErrPriceOutOfBounds),
		errors.Is(err, models.ErrOverflow),
		errors.Is(err, governance.ErrInvalidProposal),
		errors.Is(err, chain.ErrInvalidTransaction):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
