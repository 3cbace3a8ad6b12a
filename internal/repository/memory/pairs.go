package memory

import (
	"context"
	"slices"

	"github.com/google/uuid"

	"ideaflow/internal/domain/idea"
	"ideaflow/internal/domain/pair"
	"ideaflow/internal/domain/portfolio"
	"ideaflow/pkg/errors"
)

type pairRepo struct{ v *view }

func (r pairRepo) Create(ctx context.Context, p *pair.PairTrade) error {
	return r.v.write(func(st *state) error {
		if p.ID == uuid.Nil {
			p.ID = uuid.New()
		}
		if _, ok := st.pairs[p.ID]; ok {
			return errors.Wrapf(errors.ErrAlreadyExists, "pair trade %s", p.ID)
		}
		if p.VisibilityTier == "" {
			p.VisibilityTier = idea.TierActive
		}
		p.Version = 1
		st.pairs[p.ID] = copyPair(p)
		return nil
	})
}

func (r pairRepo) GetByID(ctx context.Context, id uuid.UUID) (*pair.PairTrade, error) {
	var out *pair.PairTrade
	err := r.v.read(func(st *state) error {
		p, ok := st.pairs[id]
		if !ok {
			return errors.Wrapf(errors.ErrNotFound, "pair trade %s", id)
		}
		out = copyPair(p)
		return nil
	})
	return out, err
}

func (r pairRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (*pair.PairTrade, error) {
	return r.GetByID(ctx, id)
}

func (r pairRepo) ListByIDs(ctx context.Context, ids []uuid.UUID) ([]*pair.PairTrade, error) {
	var out []*pair.PairTrade
	err := r.v.read(func(st *state) error {
		for id, p := range st.pairs {
			if slices.Contains(ids, id) {
				out = append(out, copyPair(p))
			}
		}
		return nil
	})
	return out, err
}

func (r pairRepo) Update(ctx context.Context, p *pair.PairTrade) error {
	return r.v.write(func(st *state) error {
		cur, ok := st.pairs[p.ID]
		if !ok {
			return errors.Wrapf(errors.ErrNotFound, "pair trade %s", p.ID)
		}
		if cur.Version != p.Version {
			return errors.Wrapf(errors.ErrConflict, "pair trade %s changed concurrently", p.ID)
		}
		p.Version++
		st.pairs[p.ID] = copyPair(p)
		return nil
	})
}

type memberRepo struct{ v *view }

func (r memberRepo) Upsert(ctx context.Context, m *portfolio.Membership) error {
	if !m.Role.Valid() {
		return errors.NewValidationError("role", "unknown role", m.Role)
	}
	return r.v.write(func(st *state) error {
		c := *m
		st.members[memberKey{m.ActorID, m.PortfolioID}] = &c
		return nil
	})
}

func (r memberRepo) Roles(ctx context.Context, actorID uuid.UUID, portfolioIDs []uuid.UUID) (map[uuid.UUID]portfolio.Role, error) {
	roles := make(map[uuid.UUID]portfolio.Role)
	err := r.v.read(func(st *state) error {
		for _, pid := range portfolioIDs {
			if m, ok := st.members[memberKey{actorID, pid}]; ok {
				roles[pid] = m.Role
			}
		}
		return nil
	})
	return roles, err
}
