package track

import (
	"time"

	"github.com/google/uuid"

	"ideaflow/internal/domain/idea"
)

// Tally counts decided tracks over a set of linked portfolios
type Tally struct {
	Linked   int
	Decided  int
	Accepted int
	Rejected int
	Deferred int
}

// Settled reports whether every linked portfolio has decided
func (t Tally) Settled() bool {
	return t.Linked > 0 && t.Decided == t.Linked
}

// Count tallies tracks of the linked portfolios; tracks for unlinked portfolios are ignored
func Count(linked []uuid.UUID, tracks []*PortfolioTrack) Tally {
	byPortfolio := make(map[uuid.UUID]*PortfolioTrack, len(tracks))
	for _, t := range tracks {
		byPortfolio[t.PortfolioID] = t
	}

	seen := make(map[uuid.UUID]bool, len(linked))
	var tally Tally
	for _, pid := range linked {
		if seen[pid] {
			continue
		}
		seen[pid] = true
		tally.Linked++

		t := byPortfolio[pid]
		if !t.IsDecided() {
			continue
		}
		tally.Decided++
		switch *t.Outcome {
		case OutcomeAccepted:
			tally.Accepted++
		case OutcomeRejected:
			tally.Rejected++
		case OutcomeDeferred:
			tally.Deferred++
		}
	}
	return tally
}

// AggregateStage derives the idea-level stage from per-portfolio decisions.
// ok is false while any linked portfolio is undecided; the stage must then be left alone.
func AggregateStage(linked []uuid.UUID, tracks []*PortfolioTrack) (stage idea.Stage, ok bool) {
	tally := Count(linked, tracks)
	if !tally.Settled() {
		return "", false
	}
	if tally.Accepted > 0 {
		return idea.StageApproved, true
	}
	return idea.StageRejected, true
}

// Resolution reports the stage an aggregate recompute should write over current.
// ok is false when nothing should be written: a portfolio is still undecided, the
// stage already matches, or the stage graph does not allow resolving from current.
func Resolution(current idea.Stage, linked []uuid.UUID, tracks []*PortfolioTrack) (next idea.Stage, ok bool) {
	stage, settled := AggregateStage(linked, tracks)
	if !settled || stage == current {
		return current, false
	}
	if !idea.DefaultGraph.CanResolve(current, stage) {
		return current, false
	}
	return stage, true
}

// LatestDecision returns the newest DecidedAt among the tracks of the linked
// portfolios, or the zero time when none has decided.
func LatestDecision(linked []uuid.UUID, tracks []*PortfolioTrack) time.Time {
	isLinked := make(map[uuid.UUID]bool, len(linked))
	for _, pid := range linked {
		isLinked[pid] = true
	}
	var latest time.Time
	for _, t := range tracks {
		if !isLinked[t.PortfolioID] || !t.IsDecided() || t.DecidedAt == nil {
			continue
		}
		if t.DecidedAt.After(latest) {
			latest = *t.DecidedAt
		}
	}
	return latest
}

// Reconciliation is Resolution for a recompute that was not triggered by a
// decision in the same transaction. A stage written after the newest decision
// is a manual move, such as a reopen, and is kept.
func Reconciliation(current idea.Stage, stageChangedAt time.Time, linked []uuid.UUID, tracks []*PortfolioTrack) (next idea.Stage, ok bool) {
	if !LatestDecision(linked, tracks).After(stageChangedAt) {
		return current, false
	}
	return Resolution(current, linked, tracks)
}
