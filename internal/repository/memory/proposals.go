package memory

import (
	"context"
	"slices"
	"sort"

	"github.com/google/uuid"

	"ideaflow/internal/domain/proposal"
	"ideaflow/pkg/errors"
)

type proposalRepo struct{ v *view }

func activeByKey(st *state, key proposal.Key) *proposal.Proposal {
	for _, p := range st.proposals {
		if p.IsActive && p.Key() == key {
			return p
		}
	}
	return nil
}

func (r proposalRepo) Upsert(ctx context.Context, p *proposal.Proposal) (bool, error) {
	var created bool
	err := r.v.write(func(st *state) error {
		if _, ok := st.ideas[p.TradeIdeaID]; !ok {
			return errors.Wrapf(errors.ErrNotFound, "trade idea %s", p.TradeIdeaID)
		}
		p.IsActive = true
		if cur := activeByKey(st, p.Key()); cur != nil {
			p.ID = cur.ID
			p.CreatedAt = cur.CreatedAt
		} else {
			created = true
			if p.ID == uuid.Nil {
				p.ID = uuid.New()
			}
		}
		st.proposals[p.ID] = copyProposal(p)
		return nil
	})
	return created, err
}

func (r proposalRepo) GetByID(ctx context.Context, id uuid.UUID) (*proposal.Proposal, error) {
	var out *proposal.Proposal
	err := r.v.read(func(st *state) error {
		p, ok := st.proposals[id]
		if !ok {
			return errors.Wrapf(errors.ErrNotFound, "proposal %s", id)
		}
		out = copyProposal(p)
		return nil
	})
	return out, err
}

func (r proposalRepo) GetActiveByKey(ctx context.Context, key proposal.Key) (*proposal.Proposal, error) {
	var out *proposal.Proposal
	err := r.v.read(func(st *state) error {
		p := activeByKey(st, key)
		if p == nil {
			return errors.Wrapf(errors.ErrNotFound, "active proposal for idea %s portfolio %s", key.TradeIdeaID, key.PortfolioID)
		}
		out = copyProposal(p)
		return nil
	})
	return out, err
}

func (r proposalRepo) ListByIdea(ctx context.Context, ideaID uuid.UUID, includeInactive bool) ([]*proposal.Proposal, error) {
	out := r.collect(func(p *proposal.Proposal) bool {
		return p.TradeIdeaID == ideaID && (includeInactive || p.IsActive)
	})
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (r proposalRepo) ListActiveByIdeas(ctx context.Context, ideaIDs []uuid.UUID) ([]*proposal.Proposal, error) {
	return r.collect(func(p *proposal.Proposal) bool {
		return p.IsActive && slices.Contains(ideaIDs, p.TradeIdeaID)
	}), nil
}

func (r proposalRepo) ListActiveByPair(ctx context.Context, pairID, portfolioID uuid.UUID) ([]*proposal.Proposal, error) {
	return r.collect(func(p *proposal.Proposal) bool {
		return p.IsActive && p.PortfolioID == portfolioID && p.PairTradeID != nil && *p.PairTradeID == pairID
	}), nil
}

func (r proposalRepo) SetPairTrade(ctx context.Context, ideaID uuid.UUID, pairID *uuid.UUID) error {
	return r.v.write(func(st *state) error {
		for _, p := range st.proposals {
			if p.IsActive && p.TradeIdeaID == ideaID {
				if pairID == nil {
					p.PairTradeID = nil
				} else {
					id := *pairID
					p.PairTradeID = &id
				}
			}
		}
		return nil
	})
}

func (r proposalRepo) Deactivate(ctx context.Context, id uuid.UUID) error {
	return r.v.write(func(st *state) error {
		p, ok := st.proposals[id]
		if !ok {
			return errors.Wrapf(errors.ErrNotFound, "proposal %s", id)
		}
		p.IsActive = false
		return nil
	})
}

func (r proposalRepo) collect(keep func(*proposal.Proposal) bool) []*proposal.Proposal {
	var out []*proposal.Proposal
	_ = r.v.read(func(st *state) error {
		for _, p := range st.proposals {
			if keep(p) {
				out = append(out, copyProposal(p))
			}
		}
		return nil
	})
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out
}
