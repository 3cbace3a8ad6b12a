package portfolio

import (
	"context"

	"github.com/google/uuid"

	"ideaflow/pkg/errors"
)

// Access evaluates portfolio-scoped permissions
type Access struct {
	members MembershipRepository
}

// NewAccess creates an access checker over memberships
func NewAccess(members MembershipRepository) *Access {
	return &Access{members: members}
}

// HasDecisionAuthority reports whether the actor may decide for the portfolio
func (a *Access) HasDecisionAuthority(ctx context.Context, actorID, portfolioID uuid.UUID) (bool, error) {
	roles, err := a.members.Roles(ctx, actorID, []uuid.UUID{portfolioID})
	if err != nil {
		return false, errors.Wrap(err, "load roles")
	}
	return roles[portfolioID].CanDecide(), nil
}

// RequireDecisionAuthority returns ErrUnauthorized unless the actor may decide for the portfolio
func (a *Access) RequireDecisionAuthority(ctx context.Context, actorID, portfolioID uuid.UUID) error {
	ok, err := a.HasDecisionAuthority(ctx, actorID, portfolioID)
	if err != nil {
		return err
	}
	if !ok {
		return errors.Wrapf(errors.ErrUnauthorized, "actor %s has no decision authority over portfolio %s", actorID, portfolioID)
	}
	return nil
}

// HasRelationship reports whether the actor belongs to at least one of the portfolios
func (a *Access) HasRelationship(ctx context.Context, actorID uuid.UUID, portfolioIDs []uuid.UUID) (bool, error) {
	if len(portfolioIDs) == 0 {
		return false, nil
	}
	roles, err := a.members.Roles(ctx, actorID, portfolioIDs)
	if err != nil {
		return false, errors.Wrap(err, "load roles")
	}
	for _, r := range roles {
		if r.Valid() {
			return true, nil
		}
	}
	return false, nil
}
