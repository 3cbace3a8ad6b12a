package postgres

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"

	"ideaflow/internal/domain/gateway"
	"ideaflow/internal/domain/idea"
	"ideaflow/internal/domain/pair"
	"ideaflow/internal/domain/portfolio"
	"ideaflow/internal/domain/proposal"
	"ideaflow/internal/domain/track"
	"ideaflow/pkg/errors"
)

// Compile-time check
var _ gateway.Gateway = (*Gateway)(nil)

// repositories binds every repository to one DBTX
type repositories struct {
	ideas       *IdeaRepository
	links       *LinkRepository
	proposals   *ProposalRepository
	tracks      *TrackRepository
	pairs       *PairRepository
	memberships *MembershipRepository
}

func newRepositories(db DBTX) *repositories {
	return &repositories{
		ideas:       NewIdeaRepository(db),
		links:       NewLinkRepository(db),
		proposals:   NewProposalRepository(db),
		tracks:      NewTrackRepository(db),
		pairs:       NewPairRepository(db),
		memberships: NewMembershipRepository(db),
	}
}

func (r *repositories) Ideas() idea.Repository                      { return r.ideas }
func (r *repositories) Links() idea.LinkRepository                  { return r.links }
func (r *repositories) Proposals() proposal.Repository              { return r.proposals }
func (r *repositories) Tracks() track.Repository                    { return r.tracks }
func (r *repositories) Pairs() pair.Repository                      { return r.pairs }
func (r *repositories) Memberships() portfolio.MembershipRepository { return r.memberships }

// Gateway is the PostgreSQL Persistence Gateway
type Gateway struct {
	*repositories
	db *sqlx.DB
}

// NewGateway creates a gateway over a connection pool
func NewGateway(db *sqlx.DB) *Gateway {
	return &Gateway{repositories: newRepositories(db), db: db}
}

// InTx runs fn in a READ COMMITTED transaction.
// Read-modify-write paths take row locks with GetForUpdate.
func (g *Gateway) InTx(ctx context.Context, fn func(ctx context.Context, repos gateway.Repositories) error) (err error) {
	tx, err := g.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(ctx, newRepositories(tx)); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return errors.Wrap(err, "failed to commit transaction")
	}
	return nil
}
