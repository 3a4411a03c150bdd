// Package governance runs stake-weighted proposals over GRID holdings.
package governance

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrInvalidProposal     = errors.New("invalid proposal")
	ErrProposalNotFound    = errors.New("proposal not found")
	ErrProposalClosed      = errors.New("proposal is not active")
	ErrVotingEnded         = errors.New("voting period has ended")
	ErrVotingOpen          = errors.New("voting period still open")
	ErrAlreadyVoted        = errors.New("account already voted")
	ErrOwnProposal         = errors.New("cannot vote on own proposal")
	ErrInsufficientBalance = errors.New("insufficient GRID to create proposal")
	ErrNoVotingPower       = errors.New("no GRID to vote with")
)

type Status string

const (
	StatusActive   Status = "active"
	StatusPassed   Status = "passed"
	StatusRejected Status = "rejected"
)

// VotingPower reports the GRID weight of an account
type VotingPower interface {
	TotalBalance(account string) uint64
}

type Config struct {
	VotingPeriod       time.Duration
	MinProposalBalance uint64
}

func DefaultConfig() Config {
	return Config{VotingPeriod: 7 * 24 * time.Hour, MinProposalBalance: 1000}
}

type Vote struct {
	ProposalID string    `json:"proposal_id"`
	Voter      string    `json:"voter"`
	Support    bool      `json:"support"`
	Power      uint64    `json:"power"`
	CastAt     time.Time `json:"cast_at"`
}

type Proposal struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Description  string    `json:"description"`
	Proposer     string    `json:"proposer"`
	VotesFor     uint64    `json:"votes_for"`
	VotesAgainst uint64    `json:"votes_against"`
	Votes        []Vote    `json:"votes"`
	CreatedAt    time.Time `json:"created_at"`
	Deadline     time.Time `json:"deadline"`
	Status       Status    `json:"status"`
}

func (p *Proposal) votedBy(account string) bool {
	for _, v := range p.Votes {
		if v.Voter == account {
			return true
		}
	}
	return false
}

func (p *Proposal) clone() Proposal {
	c := *p
	c.Votes = append([]Vote(nil), p.Votes...)
	return c
}

// Governance is safe for concurrent use
type Governance struct {
	mu        sync.Mutex
	cfg       Config
	power     VotingPower
	proposals map[string]*Proposal
	onVote    func(Vote)

	log   *zap.Logger
	now   func() time.Time
	newID func() string
}

type Option func(*Governance)

func WithLogger(l *zap.Logger) Option { return func(g *Governance) { g.log = l } }

func WithClock(now func() time.Time) Option { return func(g *Governance) { g.now = now } }

func WithIDGenerator(f func() string) Option { return func(g *Governance) { g.newID = f } }

// WithVoteHook is called for every accepted vote while the lock is held
func WithVoteHook(f func(Vote)) Option { return func(g *Governance) { g.onVote = f } }

func New(cfg Config, power VotingPower, opts ...Option) *Governance {
	g := &Governance{
		cfg:       cfg,
		power:     power,
		proposals: make(map[string]*Proposal),
		log:       zap.NewNop(),
		now:       time.Now,
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// CreateProposal opens a proposal for the configured voting period. The
// proposer must hold at least MinProposalBalance GRID, free or staked.
func (g *Governance) CreateProposal(proposer, title, description string) (Proposal, error) {
	title = strings.TrimSpace(title)
	if proposer == "" || title == "" {
		return Proposal{}, fmt.Errorf("proposer and title required: %w", ErrInvalidProposal)
	}
	if bal := g.power.TotalBalance(proposer); bal < g.cfg.MinProposalBalance {
		return Proposal{}, fmt.Errorf("%s holds %d, need %d: %w", proposer, bal, g.cfg.MinProposalBalance, ErrInsufficientBalance)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.now()
	p := &Proposal{
		ID:          g.newID(),
		Title:       title,
		Description: description,
		Proposer:    proposer,
		CreatedAt:   now,
		Deadline:    now.Add(g.cfg.VotingPeriod),
		Status:      StatusActive,
	}
	g.proposals[p.ID] = p
	g.log.Info("proposal created", zap.String("proposal_id", p.ID), zap.String("proposer", proposer))
	return p.clone(), nil
}

// Vote casts the voter's current GRID weight for or against a proposal
func (g *Governance) Vote(proposalID, voter string, support bool) (Proposal, error) {
	power := g.power.TotalBalance(voter)
	if power == 0 {
		return Proposal{}, fmt.Errorf("%s: %w", voter, ErrNoVotingPower)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.proposals[proposalID]
	if !ok {
		return Proposal{}, fmt.Errorf("%s: %w", proposalID, ErrProposalNotFound)
	}
	now := g.now()
	switch {
	case p.Status != StatusActive:
		return p.clone(), ErrProposalClosed
	case !now.Before(p.Deadline):
		return p.clone(), ErrVotingEnded
	case p.Proposer == voter:
		return p.clone(), ErrOwnProposal
	case p.votedBy(voter):
		return p.clone(), ErrAlreadyVoted
	}

	v := Vote{ProposalID: p.ID, Voter: voter, Support: support, Power: power, CastAt: now}
	if support {
		p.VotesFor += power
	} else {
		p.VotesAgainst += power
	}
	p.Votes = append(p.Votes, v)
	if g.onVote != nil {
		g.onVote(v)
	}
	g.log.Debug("vote cast",
		zap.String("proposal_id", p.ID),
		zap.String("voter", voter),
		zap.Bool("support", support),
		zap.Uint64("power", power))
	return p.clone(), nil
}

// Finalize closes a proposal whose voting period has ended. It passes when
// weight for strictly exceeds weight against.
func (g *Governance) Finalize(proposalID string) (Proposal, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.proposals[proposalID]
	if !ok {
		return Proposal{}, fmt.Errorf("%s: %w", proposalID, ErrProposalNotFound)
	}
	if p.Status != StatusActive {
		return p.clone(), ErrProposalClosed
	}
	if g.now().Before(p.Deadline) {
		return p.clone(), ErrVotingOpen
	}
	g.finalizeLocked(p)
	return p.clone(), nil
}

// FinalizeDue closes every active proposal past its deadline
func (g *Governance) FinalizeDue() []Proposal {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.now()
	var out []Proposal
	for _, p := range g.proposals {
		if p.Status == StatusActive && !now.Before(p.Deadline) {
			g.finalizeLocked(p)
			out = append(out, p.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (g *Governance) finalizeLocked(p *Proposal) {
	p.Status = StatusRejected
	if p.VotesFor > p.VotesAgainst {
		p.Status = StatusPassed
	}
	g.log.Info("proposal finalized",
		zap.String("proposal_id", p.ID),
		zap.String("status", string(p.Status)),
		zap.Uint64("for", p.VotesFor),
		zap.Uint64("against", p.VotesAgainst))
}

func (g *Governance) Proposal(id string) (Proposal, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.proposals[id]
	if !ok {
		return Proposal{}, false
	}
	return p.clone(), true
}

// Proposals returns all proposals, newest first
func (g *Governance) Proposals() []Proposal {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]Proposal, 0, len(g.proposals))
	for _, p := range g.proposals {
		out = append(out, p.clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out
}
