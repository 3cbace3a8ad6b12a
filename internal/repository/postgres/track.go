package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"ideaflow/internal/domain/track"
	"ideaflow/pkg/errors"
)

// Compile-time check
var _ track.Repository = (*TrackRepository)(nil)

// TrackRepository implements track.Repository using sqlx
type TrackRepository struct {
	db DBTX
}

// NewTrackRepository creates a new portfolio track repository
func NewTrackRepository(db DBTX) *TrackRepository {
	return &TrackRepository{db: db}
}

const trackColumns = `
	id, subject_type, subject_id, portfolio_id,
	outcome, accepted_weight, accepted_shares, leg_weights, deferred_until,
	proposal_id, decided_by, decided_at, decision_reason,
	created_at, updated_at`

type trackRow struct {
	ID             uuid.UUID           `db:"id"`
	SubjectType    string              `db:"subject_type"`
	SubjectID      uuid.UUID           `db:"subject_id"`
	PortfolioID    uuid.UUID           `db:"portfolio_id"`
	Outcome        *string             `db:"outcome"`
	AcceptedWeight decimal.NullDecimal `db:"accepted_weight"`
	AcceptedShares decimal.NullDecimal `db:"accepted_shares"`
	LegWeights     []byte              `db:"leg_weights"`
	DeferredUntil  *time.Time          `db:"deferred_until"`
	ProposalID     *uuid.UUID          `db:"proposal_id"`
	DecidedBy      *uuid.UUID          `db:"decided_by"`
	DecidedAt      *time.Time          `db:"decided_at"`
	DecisionReason *string             `db:"decision_reason"`
	CreatedAt      time.Time           `db:"created_at"`
	UpdatedAt      time.Time           `db:"updated_at"`
}

func (r trackRow) toDomain() (*track.PortfolioTrack, error) {
	t := &track.PortfolioTrack{
		ID:             r.ID,
		Subject:        track.Subject{Type: track.SubjectType(r.SubjectType), ID: r.SubjectID},
		PortfolioID:    r.PortfolioID,
		AcceptedWeight: nullDecimal(r.AcceptedWeight),
		AcceptedShares: nullDecimal(r.AcceptedShares),
		DeferredUntil:  r.DeferredUntil,
		ProposalID:     r.ProposalID,
		DecidedBy:      r.DecidedBy,
		DecidedAt:      r.DecidedAt,
		DecisionReason: r.DecisionReason,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
	if r.Outcome != nil {
		o := track.Outcome(*r.Outcome)
		t.Outcome = &o
	}
	if len(r.LegWeights) > 0 {
		if err := json.Unmarshal(r.LegWeights, &t.LegWeights); err != nil {
			return nil, errors.Wrap(err, "decode leg_weights")
		}
	}
	return t, nil
}

// Upsert writes the decision keyed on (subject, portfolio)
func (r *TrackRepository) Upsert(ctx context.Context, t *track.PortfolioTrack) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	var legs []byte
	if t.LegWeights != nil {
		var err error
		if legs, err = json.Marshal(t.LegWeights); err != nil {
			return errors.Wrap(err, "encode leg_weights")
		}
	}
	var outcome *string
	if t.Outcome != nil {
		s := string(*t.Outcome)
		outcome = &s
	}

	query := `
		INSERT INTO portfolio_tracks (` + trackColumns + `
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7, $8, $9,
			$10, $11, $12, $13,
			$14, $15
		)
		ON CONFLICT (subject_type, subject_id, portfolio_id) DO UPDATE SET
			outcome = EXCLUDED.outcome,
			accepted_weight = EXCLUDED.accepted_weight,
			accepted_shares = EXCLUDED.accepted_shares,
			leg_weights = EXCLUDED.leg_weights,
			deferred_until = EXCLUDED.deferred_until,
			proposal_id = EXCLUDED.proposal_id,
			decided_by = EXCLUDED.decided_by,
			decided_at = EXCLUDED.decided_at,
			decision_reason = EXCLUDED.decision_reason,
			updated_at = EXCLUDED.updated_at
		RETURNING id, created_at`

	var out struct {
		ID        uuid.UUID `db:"id"`
		CreatedAt time.Time `db:"created_at"`
	}
	err := r.db.GetContext(ctx, &out, query,
		t.ID, t.Subject.Type, t.Subject.ID, t.PortfolioID,
		outcome, toNullDecimal(t.AcceptedWeight), toNullDecimal(t.AcceptedShares), legs, t.DeferredUntil,
		t.ProposalID, t.DecidedBy, t.DecidedAt, t.DecisionReason,
		t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return errors.Wrap(err, "failed to upsert portfolio track")
	}
	t.ID = out.ID
	t.CreatedAt = out.CreatedAt
	return nil
}

// Get retrieves the track of a subject in a portfolio
func (r *TrackRepository) Get(ctx context.Context, subject track.Subject, portfolioID uuid.UUID) (*track.PortfolioTrack, error) {
	var row trackRow
	err := r.db.GetContext(ctx, &row, `SELECT`+trackColumns+`
		FROM portfolio_tracks
		WHERE subject_type = $1 AND subject_id = $2 AND portfolio_id = $3`,
		subject.Type, subject.ID, portfolioID)
	if err == sql.ErrNoRows {
		return nil, errors.Wrapf(errors.ErrNotFound, "track %s/%s in portfolio %s", subject.Type, subject.ID, portfolioID)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get portfolio track")
	}
	return row.toDomain()
}

// ListBySubject lists all tracks of a subject
func (r *TrackRepository) ListBySubject(ctx context.Context, subject track.Subject) ([]*track.PortfolioTrack, error) {
	return r.ListBySubjects(ctx, []track.Subject{subject})
}

// ListBySubjects lists tracks of several subjects
func (r *TrackRepository) ListBySubjects(ctx context.Context, subjects []track.Subject) ([]*track.PortfolioTrack, error) {
	if len(subjects) == 0 {
		return nil, nil
	}
	var ideaIDs, pairIDs []uuid.UUID
	for _, s := range subjects {
		if s.Type == track.SubjectPair {
			pairIDs = append(pairIDs, s.ID)
		} else {
			ideaIDs = append(ideaIDs, s.ID)
		}
	}

	var rows []trackRow
	err := r.db.SelectContext(ctx, &rows, `SELECT`+trackColumns+`
		FROM portfolio_tracks
		WHERE (subject_type = 'idea' AND subject_id = ANY($1::uuid[]))
		   OR (subject_type = 'pair' AND subject_id = ANY($2::uuid[]))
		ORDER BY created_at, id`,
		uuidArray(ideaIDs), uuidArray(pairIDs))
	if err != nil {
		return nil, errors.Wrap(err, "failed to list portfolio tracks")
	}
	out := make([]*track.PortfolioTrack, 0, len(rows))
	for _, row := range rows {
		t, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}
