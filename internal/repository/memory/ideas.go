package memory

import (
	"context"
	"slices"
	"sort"
	"time"

	"github.com/google/uuid"

	"ideaflow/internal/domain/idea"
	"ideaflow/pkg/errors"
)

type ideaRepo struct{ v *view }

func (r ideaRepo) Create(ctx context.Context, t *idea.TradeIdea) error {
	return r.v.write(func(st *state) error {
		if t.ID == uuid.Nil {
			t.ID = uuid.New()
		}
		if _, ok := st.ideas[t.ID]; ok {
			return errors.Wrapf(errors.ErrAlreadyExists, "trade idea %s", t.ID)
		}
		if t.VisibilityTier == "" {
			t.VisibilityTier = idea.TierActive
		}
		t.Version = 1
		st.ideas[t.ID] = copyIdea(t)
		return nil
	})
}

func (r ideaRepo) GetByID(ctx context.Context, id uuid.UUID) (*idea.TradeIdea, error) {
	var out *idea.TradeIdea
	err := r.v.read(func(st *state) error {
		t, ok := st.ideas[id]
		if !ok {
			return errors.Wrapf(errors.ErrNotFound, "trade idea %s", id)
		}
		out = copyIdea(t)
		return nil
	})
	return out, err
}

func (r ideaRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (*idea.TradeIdea, error) {
	return r.GetByID(ctx, id)
}

func (r ideaRepo) Query(ctx context.Context, f idea.Filter) ([]*idea.TradeIdea, error) {
	var out []*idea.TradeIdea
	err := r.v.read(func(st *state) error {
		for _, t := range st.ideas {
			if matchIdea(st, t, f) {
				out = append(out, copyIdea(t))
			}
		}
		return nil
	})
	sortIdeas(out)
	return out, err
}

func matchIdea(st *state, t *idea.TradeIdea, f idea.Filter) bool {
	switch {
	case f.OnlyTrashed && !t.IsTrashed():
		return false
	case !f.OnlyTrashed && !f.IncludeTrashed && t.IsTrashed():
		return false
	}
	if len(f.IDs) > 0 && !slices.Contains(f.IDs, t.ID) {
		return false
	}
	if len(f.Stages) > 0 && !slices.Contains(f.Stages, t.EffectiveStage()) {
		return false
	}
	if f.PairID != nil && (t.PairID == nil || *t.PairID != *f.PairID) {
		return false
	}
	if f.PortfolioID != nil {
		_, linked := st.links[linkKey{t.ID, *f.PortfolioID}]
		primary := t.PrimaryPortfolioID != nil && *t.PrimaryPortfolioID == *f.PortfolioID
		if !linked && !primary {
			return false
		}
	}
	return true
}

func (r ideaRepo) ListDeferredDue(ctx context.Context, onOrBefore time.Time) ([]*idea.TradeIdea, error) {
	var out []*idea.TradeIdea
	err := r.v.read(func(st *state) error {
		for _, t := range st.ideas {
			if t.IsTrashed() || t.Stage != idea.StageDeferred || t.DeferredUntil == nil {
				continue
			}
			if !t.DeferredUntil.After(onOrBefore) {
				out = append(out, copyIdea(t))
			}
		}
		return nil
	})
	sortIdeas(out)
	return out, err
}

func (r ideaRepo) Update(ctx context.Context, t *idea.TradeIdea) error {
	return r.v.write(func(st *state) error {
		cur, ok := st.ideas[t.ID]
		if !ok {
			return errors.Wrapf(errors.ErrNotFound, "trade idea %s", t.ID)
		}
		if cur.Version != t.Version {
			return errors.Wrapf(errors.ErrConflict, "trade idea %s changed concurrently", t.ID)
		}
		t.Version++
		st.ideas[t.ID] = copyIdea(t)
		return nil
	})
}

func sortIdeas(ts []*idea.TradeIdea) {
	sort.Slice(ts, func(i, j int) bool {
		if !ts[i].CreatedAt.Equal(ts[j].CreatedAt) {
			return ts[i].CreatedAt.Before(ts[j].CreatedAt)
		}
		return ts[i].ID.String() < ts[j].ID.String()
	})
}

type linkRepo struct{ v *view }

func (r linkRepo) Add(ctx context.Context, l *idea.Link) error {
	return r.v.write(func(st *state) error {
		if _, ok := st.ideas[l.TradeIdeaID]; !ok {
			return errors.Wrapf(errors.ErrNotFound, "trade idea %s", l.TradeIdeaID)
		}
		k := linkKey{l.TradeIdeaID, l.PortfolioID}
		if _, ok := st.links[k]; ok {
			return nil
		}
		c := *l
		st.links[k] = &c
		return nil
	})
}

func (r linkRepo) Remove(ctx context.Context, ideaID, portfolioID uuid.UUID) error {
	return r.v.write(func(st *state) error {
		delete(st.links, linkKey{ideaID, portfolioID})
		return nil
	})
}

func (r linkRepo) PortfolioIDs(ctx context.Context, ideaID uuid.UUID) ([]uuid.UUID, error) {
	links, err := r.ListByIdeas(ctx, []uuid.UUID{ideaID})
	if err != nil {
		return nil, err
	}
	ids := make([]uuid.UUID, 0, len(links))
	for _, l := range links {
		ids = append(ids, l.PortfolioID)
	}
	return ids, nil
}

func (r linkRepo) ListByIdeas(ctx context.Context, ideaIDs []uuid.UUID) ([]*idea.Link, error) {
	var out []*idea.Link
	err := r.v.read(func(st *state) error {
		for k, l := range st.links {
			if slices.Contains(ideaIDs, k.ideaID) {
				c := *l
				out = append(out, &c)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].PortfolioID.String() < out[j].PortfolioID.String()
	})
	return out, err
}
