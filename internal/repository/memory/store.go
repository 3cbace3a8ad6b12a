// Package memory is an in-process Persistence Gateway.
// Transactions are serialized and applied copy-on-commit, so a failed InTx leaves no trace.
// Repositories handed to an InTx callback must be used instead of the Store inside it.
package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"ideaflow/internal/domain/gateway"
	"ideaflow/internal/domain/idea"
	"ideaflow/internal/domain/pair"
	"ideaflow/internal/domain/portfolio"
	"ideaflow/internal/domain/proposal"
	"ideaflow/internal/domain/track"
)

var _ gateway.Gateway = (*Store)(nil)

type linkKey struct {
	ideaID, portfolioID uuid.UUID
}

type trackKey struct {
	subject     track.Subject
	portfolioID uuid.UUID
}

type memberKey struct {
	actorID, portfolioID uuid.UUID
}

type state struct {
	ideas     map[uuid.UUID]*idea.TradeIdea
	links     map[linkKey]*idea.Link
	proposals map[uuid.UUID]*proposal.Proposal
	tracks    map[trackKey]*track.PortfolioTrack
	pairs     map[uuid.UUID]*pair.PairTrade
	members   map[memberKey]*portfolio.Membership
}

func newState() *state {
	return &state{
		ideas:     make(map[uuid.UUID]*idea.TradeIdea),
		links:     make(map[linkKey]*idea.Link),
		proposals: make(map[uuid.UUID]*proposal.Proposal),
		tracks:    make(map[trackKey]*track.PortfolioTrack),
		pairs:     make(map[uuid.UUID]*pair.PairTrade),
		members:   make(map[memberKey]*portfolio.Membership),
	}
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.ideas {
		c.ideas[k] = copyIdea(v)
	}
	for k, v := range s.links {
		l := *v
		c.links[k] = &l
	}
	for k, v := range s.proposals {
		c.proposals[k] = copyProposal(v)
	}
	for k, v := range s.tracks {
		c.tracks[k] = copyTrack(v)
	}
	for k, v := range s.pairs {
		c.pairs[k] = copyPair(v)
	}
	for k, v := range s.members {
		m := *v
		c.members[k] = &m
	}
	return c
}

// Store is the in-memory Gateway
type Store struct {
	txMu sync.Mutex // serializes writers
	mu   sync.RWMutex
	data *state
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{data: newState()}
}

// InTx runs fn against a private copy and publishes it only when fn succeeds
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, repos gateway.Repositories) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.RLock()
	working := s.data.clone()
	s.mu.RUnlock()

	if err := fn(ctx, &view{st: working, tx: true}); err != nil {
		return err
	}

	s.mu.Lock()
	s.data = working
	s.mu.Unlock()
	return nil
}

func (s *Store) committed() *view { return &view{store: s} }

func (s *Store) Ideas() idea.Repository                      { return ideaRepo{s.committed()} }
func (s *Store) Links() idea.LinkRepository                  { return linkRepo{s.committed()} }
func (s *Store) Proposals() proposal.Repository              { return proposalRepo{s.committed()} }
func (s *Store) Tracks() track.Repository                    { return trackRepo{s.committed()} }
func (s *Store) Pairs() pair.Repository                      { return pairRepo{s.committed()} }
func (s *Store) Memberships() portfolio.MembershipRepository { return memberRepo{s.committed()} }

// view binds repositories either to the committed state (locking per call)
// or to a transaction's working copy (already serialized by InTx)
type view struct {
	store *Store
	st    *state
	tx    bool
}

func (v *view) Ideas() idea.Repository                      { return ideaRepo{v} }
func (v *view) Links() idea.LinkRepository                  { return linkRepo{v} }
func (v *view) Proposals() proposal.Repository              { return proposalRepo{v} }
func (v *view) Tracks() track.Repository                    { return trackRepo{v} }
func (v *view) Pairs() pair.Repository                      { return pairRepo{v} }
func (v *view) Memberships() portfolio.MembershipRepository { return memberRepo{v} }

func (v *view) read(fn func(st *state) error) error {
	if v.tx {
		return fn(v.st)
	}
	v.store.mu.RLock()
	defer v.store.mu.RUnlock()
	return fn(v.store.data)
}

func (v *view) write(fn func(st *state) error) error {
	if v.tx {
		return fn(v.st)
	}
	v.store.txMu.Lock()
	defer v.store.txMu.Unlock()
	v.store.mu.Lock()
	defer v.store.mu.Unlock()
	return fn(v.store.data)
}

func copyIdea(t *idea.TradeIdea) *idea.TradeIdea {
	c := *t
	if t.Collaborators != nil {
		c.Collaborators = append([]uuid.UUID(nil), t.Collaborators...)
	}
	if t.PreviousState != nil {
		ps := *t.PreviousState
		c.PreviousState = &ps
	}
	return &c
}

func copyProposal(p *proposal.Proposal) *proposal.Proposal {
	c := *p
	return &c
}

func copyTrack(t *track.PortfolioTrack) *track.PortfolioTrack {
	c := *t
	if t.LegWeights != nil {
		c.LegWeights = make(map[uuid.UUID]decimal.Decimal, len(t.LegWeights))
		for k, v := range t.LegWeights {
			c.LegWeights[k] = v
		}
	}
	return &c
}

func copyPair(p *pair.PairTrade) *pair.PairTrade {
	c := *p
	if p.PreviousState != nil {
		ps := *p.PreviousState
		c.PreviousState = &ps
	}
	return &c
}
