package memory

import (
	"context"
	"slices"
	"sort"

	"github.com/google/uuid"

	"ideaflow/internal/domain/track"
	"ideaflow/pkg/errors"
)

type trackRepo struct{ v *view }

func (r trackRepo) Upsert(ctx context.Context, t *track.PortfolioTrack) error {
	return r.v.write(func(st *state) error {
		k := trackKey{t.Subject, t.PortfolioID}
		if cur, ok := st.tracks[k]; ok {
			t.ID = cur.ID
			t.CreatedAt = cur.CreatedAt
		} else if t.ID == uuid.Nil {
			t.ID = uuid.New()
		}
		st.tracks[k] = copyTrack(t)
		return nil
	})
}

func (r trackRepo) Get(ctx context.Context, subject track.Subject, portfolioID uuid.UUID) (*track.PortfolioTrack, error) {
	var out *track.PortfolioTrack
	err := r.v.read(func(st *state) error {
		t, ok := st.tracks[trackKey{subject, portfolioID}]
		if !ok {
			return errors.Wrapf(errors.ErrNotFound, "track %s/%s in portfolio %s", subject.Type, subject.ID, portfolioID)
		}
		out = copyTrack(t)
		return nil
	})
	return out, err
}

func (r trackRepo) ListBySubject(ctx context.Context, subject track.Subject) ([]*track.PortfolioTrack, error) {
	return r.ListBySubjects(ctx, []track.Subject{subject})
}

func (r trackRepo) ListBySubjects(ctx context.Context, subjects []track.Subject) ([]*track.PortfolioTrack, error) {
	var out []*track.PortfolioTrack
	err := r.v.read(func(st *state) error {
		for k, t := range st.tracks {
			if slices.Contains(subjects, k.subject) {
				out = append(out, copyTrack(t))
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, err
}
