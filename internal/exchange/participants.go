package exchange

import (
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/xtrntr/wattex/internal/models"
)

// RegisterParticipant admits an account to the market
func (e *Exchange) RegisterParticipant(p models.Participant) error {
	if p.Account == "" || p.Profile == nil {
		return fmt.Errorf("participant %q: %w", p.Account, models.ErrInvalidAccount)
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.participants[p.Account]; ok {
		return fmt.Errorf("participant %q already registered: %w", p.Account, models.ErrInvalidAccount)
	}
	if p.RegisteredAt.IsZero() {
		p.RegisteredAt = e.now()
	}
	e.participants[p.Account] = p
	e.log.Info("participant registered", zap.String("account", p.Account), zap.String("kind", string(p.Kind())))
	return nil
}

// SetParticipantActive enables or suspends trading for an account.
// Suspension does not touch the account's resting orders.
func (e *Exchange) SetParticipantActive(operator, account string, active bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.operators[operator] {
		return fmt.Errorf("%s is not an operator: %w", operator, models.ErrInvalidAccount)
	}
	p, ok := e.participants[account]
	if !ok {
		return fmt.Errorf("participant %q: %w", account, models.ErrInvalidAccount)
	}
	p.Active = active
	e.participants[account] = p
	return nil
}

// Participant looks up a registered participant
func (e *Exchange) Participant(account string) (models.Participant, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.participants[account]
	return p, ok
}

// Participants returns every registered participant sorted by account
func (e *Exchange) Participants() []models.Participant {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.participantsLocked()
}

func (e *Exchange) participantsLocked() []models.Participant {
	out := make([]models.Participant, 0, len(e.participants))
	for _, p := range e.participants {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Account < out[j].Account })
	return out
}

// Config returns the current market configuration
func (e *Exchange) Config() models.MarketConfig {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg
}

// IsOperator reports whether account may change market configuration
func (e *Exchange) IsOperator(account string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.operators[account]
}

// UpdateConfig replaces the market configuration. Resting orders outside
// the new bounds stay in the book.
func (e *Exchange) UpdateConfig(operator string, cfg models.MarketConfig) error {
	if err := validateConfig(cfg); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.operators[operator] {
		return fmt.Errorf("%s is not an operator: %w", operator, models.ErrInvalidAccount)
	}
	e.cfg = cfg
	e.log.Info("market config updated", zap.String("operator", operator), zap.Any("config", cfg))
	return nil
}

// SetMarketOpen opens or closes the market to non-operator orders
func (e *Exchange) SetMarketOpen(operator string, open bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.operators[operator] {
		return fmt.Errorf("%s is not an operator: %w", operator, models.ErrInvalidAccount)
	}
	e.cfg.Open = open
	e.log.Info("market open state changed", zap.String("operator", operator), zap.Bool("open", open))
	return nil
}
