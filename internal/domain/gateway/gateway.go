// Package gateway defines the persistence boundary of the workflow core.
package gateway

import (
	"context"

	"ideaflow/internal/domain/idea"
	"ideaflow/internal/domain/pair"
	"ideaflow/internal/domain/portfolio"
	"ideaflow/internal/domain/proposal"
	"ideaflow/internal/domain/track"
)

// Repositories is the set of repositories bound to one connection or transaction
type Repositories interface {
	Ideas() idea.Repository
	Links() idea.LinkRepository
	Proposals() proposal.Repository
	Tracks() track.Repository
	Pairs() pair.Repository
	Memberships() portfolio.MembershipRepository
}

// Gateway is the Persistence Gateway.
// Reads outside InTx see committed state; InTx runs fn against repositories bound to
// one transaction and commits only when fn returns nil.
type Gateway interface {
	Repositories
	InTx(ctx context.Context, fn func(ctx context.Context, repos Repositories) error) error
}
