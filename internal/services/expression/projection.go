// Package expression derives per-idea lab and decision counters from persisted state.
// Nothing here is cached; every summary is recomputed from the rows it is given.
package expression

import (
	"github.com/google/uuid"

	"ideaflow/internal/domain/idea"
	"ideaflow/internal/domain/pair"
	"ideaflow/internal/domain/proposal"
	"ideaflow/internal/domain/track"
)

// TrackCounts is how many linked portfolios have decided out of all linked ones
type TrackCounts struct {
	Total     int
	Committed int
}

// Summary is the expression of one idea across its portfolios
type Summary struct {
	IdeaID uuid.UUID
	PairID *uuid.UUID
	Stage  idea.Stage

	// LabCount is the number of distinct portfolios the idea, or its pair, is linked to
	LabCount int
	// ProposalCount counts pending proposals, the active ones in portfolios that
	// have not decided yet; for a leg it covers both legs of the pair
	ProposalCount           int
	PortfolioProposalCounts map[uuid.UUID]int
	Tracks                  TrackCounts

	// NeedsSizing is set when an undecided linked portfolio has no pending proposal
	NeedsSizing bool
	// AwaitingDecision is set when an undecided linked portfolio has a pending proposal
	AwaitingDecision bool
}

// Snapshot is the persisted state a projection reads
type Snapshot struct {
	Ideas     []*idea.TradeIdea
	Pairs     []*pair.PairTrade
	Links     []*idea.Link
	Proposals []*proposal.Proposal
	Tracks    []*track.PortfolioTrack
}

// Project computes one summary per idea of the snapshot, in snapshot order.
// Inactive proposals, and active ones in portfolios that already decided, are
// not pending and are not counted.
func Project(snap Snapshot) []Summary {
	pairs := make(map[uuid.UUID]*pair.PairTrade, len(snap.Pairs))
	for _, p := range snap.Pairs {
		pairs[p.ID] = p
	}
	links := make(map[uuid.UUID][]uuid.UUID)
	for _, l := range snap.Links {
		links[l.TradeIdeaID] = append(links[l.TradeIdeaID], l.PortfolioID)
	}
	tracks := make(map[track.Subject][]*track.PortfolioTrack)
	for _, t := range snap.Tracks {
		tracks[t.Subject] = append(tracks[t.Subject], t)
	}

	out := make([]Summary, 0, len(snap.Ideas))
	for _, t := range snap.Ideas {
		sum := Summary{
			IdeaID:                  t.ID,
			Stage:                   t.EffectiveStage(),
			PortfolioProposalCounts: make(map[uuid.UUID]int),
		}

		subject := track.IdeaSubject(t.ID)
		linked := unique(links[t.ID])
		counted := func(p *proposal.Proposal) bool { return p.TradeIdeaID == t.ID }

		if p, ok := pairOf(t, pairs); ok {
			id := p.ID
			sum.PairID = &id
			subject = track.PairSubject(p.ID)
			linked = unique(append(append([]uuid.UUID{}, links[p.LongLegID]...), links[p.ShortLegID]...))
			counted = func(pr *proposal.Proposal) bool { return pr.PairTradeID != nil && *pr.PairTradeID == id }
		}

		decided := make(map[uuid.UUID]bool)
		for _, tr := range tracks[subject] {
			decided[tr.PortfolioID] = tr.IsDecided()
		}

		// an accepted proposal stays active but is no longer pending
		for _, pr := range snap.Proposals {
			if pr.IsActive && counted(pr) && !decided[pr.PortfolioID] {
				sum.ProposalCount++
				sum.PortfolioProposalCounts[pr.PortfolioID]++
			}
		}

		tally := track.Count(linked, tracks[subject])
		sum.LabCount = tally.Linked
		sum.Tracks = TrackCounts{Total: tally.Linked, Committed: tally.Decided}
		for _, pid := range linked {
			if decided[pid] {
				continue
			}
			if sum.PortfolioProposalCounts[pid] > 0 {
				sum.AwaitingDecision = true
			} else {
				sum.NeedsSizing = true
			}
		}

		out = append(out, sum)
	}
	return out
}

// pairOf returns the live pair of a leg
func pairOf(t *idea.TradeIdea, pairs map[uuid.UUID]*pair.PairTrade) (*pair.PairTrade, bool) {
	if !t.IsPaired() {
		return nil, false
	}
	p, ok := pairs[*t.PairID]
	if !ok || !p.IsActive() {
		return nil, false
	}
	return p, true
}

func unique(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]bool, len(ids))
	out := ids[:0:0]
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
