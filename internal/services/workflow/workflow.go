// Package workflow holds the pieces every command service shares:
// the clock, post-commit audit emission, permission class checks and command metrics.
package workflow

import (
	"context"
	"time"

	"github.com/google/uuid"

	"ideaflow/internal/domain/audit"
	"ideaflow/internal/domain/gateway"
	"ideaflow/internal/domain/idea"
	"ideaflow/internal/domain/pair"
	"ideaflow/internal/domain/portfolio"
	"ideaflow/internal/domain/track"
	"ideaflow/internal/metrics"
	"ideaflow/pkg/errors"
	"ideaflow/pkg/logger"
)

// Clock returns the current instant
type Clock func() time.Time

// SystemClock is the wall clock in UTC
func SystemClock() time.Time {
	return time.Now().UTC()
}

// SystemActor attributes records written by background jobs
func SystemActor(source string) audit.ActionContext {
	return audit.ActionContext{
		ActorName: "system",
		ActorRole: "system",
		UISource:  source,
	}
}

// RequireActor rejects envelopes without an actor id
func RequireActor(actx audit.ActionContext) error {
	if actx.ActorID == uuid.Nil {
		return errors.Wrap(errors.ErrUnauthorized, "action context carries no actor")
	}
	return nil
}

// Notifier delivers audit records once the command has committed.
// A sink failure never fails the command; it is logged, counted and tracked.
type Notifier struct {
	sink audit.Sink
	log  *logger.Logger
}

// NewNotifier creates a notifier over a sink
func NewNotifier(sink audit.Sink) *Notifier {
	return &Notifier{
		sink: sink,
		log:  logger.Get().With("component", "audit_notifier"),
	}
}

// Emit sends the records
func (n *Notifier) Emit(ctx context.Context, records ...audit.Record) {
	if len(records) == 0 {
		return
	}
	if err := n.sink.Emit(ctx, records...); err != nil {
		metrics.AuditEmitFailures.Add(float64(len(records)))
		n.log.ErrorWithContext(ctx, errors.Wrap(err, "emit audit records"), map[string]string{
			"action_type": records[0].ActionType,
			"entity_id":   records[0].EntityID.String(),
		})
	}
}

// Observe records a command outcome; use it deferred with a pointer to the named error
func Observe(command string, started time.Time, err *error) {
	metrics.RecordCommand(command, started, *err)
}

// LogFailure logs a rejected command at debug and an infrastructure failure at error
func LogFailure(log *logger.Logger, command string, err error, keysAndValues ...interface{}) {
	args := append([]interface{}{"command", command, "code", errors.Code(err), "error", err}, keysAndValues...)
	if errors.Code(err) == "internal" {
		log.Errorw("Command failed", args...)
		return
	}
	log.Debugw("Command rejected", args...)
}

// RequireOwner is the global-stage permission class
func RequireOwner(t *idea.TradeIdea, actorID uuid.UUID) error {
	if !t.CanMoveGlobal(actorID) {
		return errors.Wrapf(errors.ErrUnauthorized, "actor %s is not creator, assignee or collaborator of idea %s", actorID, t.ID)
	}
	return nil
}

// RequireRelationship is the portfolio-stage permission class:
// the actor must hold a role in at least one of the portfolios
func RequireRelationship(ctx context.Context, repos gateway.Repositories, actorID uuid.UUID, portfolioIDs []uuid.UUID) error {
	ok, err := portfolio.NewAccess(repos.Memberships()).HasRelationship(ctx, actorID, portfolioIDs)
	if err != nil {
		return err
	}
	if !ok {
		return errors.Wrapf(errors.ErrUnauthorized, "actor %s has no role in any linked portfolio", actorID)
	}
	return nil
}

// AuthorizeMove checks the permission class guarding a move of t into target
func AuthorizeMove(ctx context.Context, repos gateway.Repositories, t *idea.TradeIdea, target idea.Stage, actorID uuid.UUID) error {
	if idea.ClassOf(target) == idea.ClassGlobal {
		return RequireOwner(t, actorID)
	}
	linked, err := repos.Links().PortfolioIDs(ctx, t.ID)
	if err != nil {
		return errors.Wrap(err, "load linked portfolios")
	}
	return RequireRelationship(ctx, repos, actorID, linked)
}

// RequireUnpaired rejects leg-targeted commands that must go through the pair
func RequireUnpaired(t *idea.TradeIdea) error {
	if t.IsPaired() {
		return errors.Wrapf(errors.ErrPairedLeg, "idea %s is a leg of pair %s", t.ID, *t.PairID)
	}
	return nil
}

// RequireVisible rejects commands against trashed ideas
func RequireVisible(t *idea.TradeIdea) error {
	if t.IsTrashed() {
		return errors.Wrapf(errors.ErrForbidden, "idea %s is in the trash", t.ID)
	}
	return nil
}

// LoadTrack returns the subject's track in the portfolio, or a fresh undecided one
func LoadTrack(ctx context.Context, repos gateway.Repositories, subject track.Subject, portfolioID uuid.UUID, now time.Time) (*track.PortfolioTrack, error) {
	tr, err := repos.Tracks().Get(ctx, subject, portfolioID)
	switch {
	case err == nil:
		return tr, nil
	case errors.Is(err, errors.ErrNotFound):
		return &track.PortfolioTrack{Subject: subject, PortfolioID: portfolioID, CreatedAt: now, UpdatedAt: now}, nil
	default:
		return nil, errors.Wrap(err, "load track")
	}
}

// Resolve recomputes the aggregate stage of subject over the portfolios linked to linkIdeaID.
// ok is false when the stage must be left as it is.
func Resolve(ctx context.Context, repos gateway.Repositories, subject track.Subject, linkIdeaID uuid.UUID, current idea.Stage) (next idea.Stage, ok bool, err error) {
	linked, err := repos.Links().PortfolioIDs(ctx, linkIdeaID)
	if err != nil {
		return current, false, errors.Wrap(err, "load linked portfolios")
	}
	tracks, err := repos.Tracks().ListBySubject(ctx, subject)
	if err != nil {
		return current, false, errors.Wrap(err, "load tracks")
	}
	next, ok = track.Resolution(current, linked, tracks)
	return next, ok, nil
}

// Reconcile is Resolve for the recompute path. A stage changed after the newest
// decision of subject is left as it is, so a replayed decision cannot undo a reopen.
func Reconcile(ctx context.Context, repos gateway.Repositories, subject track.Subject, linkIdeaID uuid.UUID, current idea.Stage, stageChangedAt time.Time) (next idea.Stage, ok bool, err error) {
	linked, err := repos.Links().PortfolioIDs(ctx, linkIdeaID)
	if err != nil {
		return current, false, errors.Wrap(err, "load linked portfolios")
	}
	tracks, err := repos.Tracks().ListBySubject(ctx, subject)
	if err != nil {
		return current, false, errors.Wrap(err, "load tracks")
	}
	next, ok = track.Reconciliation(current, stageChangedAt, linked, tracks)
	return next, ok, nil
}

// LoadLegs locks both legs of a pair, long leg first
func LoadLegs(ctx context.Context, repos gateway.Repositories, p *pair.PairTrade) ([]*idea.TradeIdea, error) {
	legs := make([]*idea.TradeIdea, 0, 2)
	for _, id := range p.LegIDs() {
		leg, err := repos.Ideas().GetForUpdate(ctx, id)
		if err != nil {
			return nil, errors.Wrapf(err, "load leg %s of pair %s", id, p.ID)
		}
		legs = append(legs, leg)
	}
	return legs, nil
}

// SyncLegs mirrors the pair's stage onto its legs and writes them
func SyncLegs(ctx context.Context, repos gateway.Repositories, p *pair.PairTrade, legs []*idea.TradeIdea, now time.Time) error {
	for _, leg := range legs {
		p.MirrorOnto(leg, now)
		if err := repos.Ideas().Update(ctx, leg); err != nil {
			return errors.Wrapf(err, "failed to update leg %s", leg.ID)
		}
	}
	return nil
}

// AuthorizePairMove checks the permission class guarding a move of the pair into target.
// The global class needs the pair's creator or an owner of both legs; the portfolio
// class needs a role in a portfolio the legs are linked to.
func AuthorizePairMove(ctx context.Context, repos gateway.Repositories, p *pair.PairTrade, legs []*idea.TradeIdea, target idea.Stage, actorID uuid.UUID) error {
	if idea.ClassOf(target) == idea.ClassGlobal {
		return RequirePairOwner(p, legs, actorID)
	}
	linked, err := repos.Links().PortfolioIDs(ctx, p.LongLegID)
	if err != nil {
		return errors.Wrap(err, "load linked portfolios")
	}
	return RequireRelationship(ctx, repos, actorID, linked)
}

// RequirePairOwner is the global permission class of a pair
func RequirePairOwner(p *pair.PairTrade, legs []*idea.TradeIdea, actorID uuid.UUID) error {
	if actorID != uuid.Nil && p.CreatedBy == actorID {
		return nil
	}
	for _, leg := range legs {
		if err := RequireOwner(leg, actorID); err != nil {
			return err
		}
	}
	return nil
}
