package expression

import (
	"context"
	"slices"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"ideaflow/internal/domain/gateway"
	"ideaflow/internal/domain/idea"
	"ideaflow/internal/domain/track"
	"ideaflow/pkg/errors"
	"ideaflow/pkg/logger"
)

// Service loads snapshots and projects them
type Service struct {
	gw  gateway.Gateway
	log *logger.Logger
}

// NewService creates a new expression service
func NewService(gw gateway.Gateway) *Service {
	return &Service{
		gw:  gw,
		log: logger.Get().With("component", "expression_service"),
	}
}

// Summarize projects every idea matched by the filter
func (s *Service) Summarize(ctx context.Context, filter idea.Filter) ([]Summary, error) {
	start := time.Now()

	snap, err := s.Load(ctx, filter)
	if err != nil {
		return nil, err
	}
	out := Project(*snap)

	s.log.Debugw("Expression summarized",
		"ideas", len(snap.Ideas),
		"pairs", len(snap.Pairs),
		"proposals", len(snap.Proposals),
		"tracks", len(snap.Tracks),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return out, nil
}

// SummarizeIdea projects a single idea, trashed or not
func (s *Service) SummarizeIdea(ctx context.Context, ideaID uuid.UUID) (*Summary, error) {
	out, err := s.Summarize(ctx, idea.Filter{IDs: []uuid.UUID{ideaID}, IncludeTrashed: true})
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, errors.Wrapf(errors.ErrNotFound, "trade idea %s", ideaID)
	}
	return &out[0], nil
}

// Load reads the snapshot for the filtered ideas: their pairs first, then links,
// active proposals and tracks of the ideas and every pair leg in parallel
func (s *Service) Load(ctx context.Context, filter idea.Filter) (*Snapshot, error) {
	ideas, err := s.gw.Ideas().Query(ctx, filter)
	if err != nil {
		return nil, errors.Wrap(err, "query ideas")
	}
	snap := &Snapshot{Ideas: ideas}
	if len(ideas) == 0 {
		return snap, nil
	}

	var (
		ideaIDs  = make([]uuid.UUID, 0, len(ideas))
		pairIDs  []uuid.UUID
		seenPair = make(map[uuid.UUID]bool)
	)
	for _, t := range ideas {
		ideaIDs = append(ideaIDs, t.ID)
		if t.IsPaired() && !seenPair[*t.PairID] {
			seenPair[*t.PairID] = true
			pairIDs = append(pairIDs, *t.PairID)
		}
	}

	if len(pairIDs) > 0 {
		pairs, err := s.gw.Pairs().ListByIDs(ctx, pairIDs)
		if err != nil {
			return nil, errors.Wrap(err, "load pairs")
		}
		snap.Pairs = pairs
	}

	related := append([]uuid.UUID{}, ideaIDs...)
	subjects := make([]track.Subject, 0, len(ideaIDs)+len(snap.Pairs))
	for _, id := range ideaIDs {
		subjects = append(subjects, track.IdeaSubject(id))
	}
	for _, p := range snap.Pairs {
		subjects = append(subjects, track.PairSubject(p.ID))
		for _, leg := range p.LegIDs() {
			if !slices.Contains(related, leg) {
				related = append(related, leg)
			}
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		links, err := s.gw.Links().ListByIdeas(gctx, related)
		if err != nil {
			return errors.Wrap(err, "load links")
		}
		snap.Links = links
		return nil
	})
	g.Go(func() error {
		props, err := s.gw.Proposals().ListActiveByIdeas(gctx, related)
		if err != nil {
			return errors.Wrap(err, "load proposals")
		}
		snap.Proposals = props
		return nil
	})
	g.Go(func() error {
		tracks, err := s.gw.Tracks().ListBySubjects(gctx, subjects)
		if err != nil {
			return errors.Wrap(err, "load tracks")
		}
		snap.Tracks = tracks
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return snap, nil
}
