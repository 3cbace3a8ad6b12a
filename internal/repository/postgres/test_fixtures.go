package postgres

import (
	"context"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"ideaflow/internal/domain/idea"
	"ideaflow/internal/domain/portfolio"
)

// TestFixtures provides factory methods for creating test data
type TestFixtures struct {
	db DBTX
	t  *testing.T
}

// NewTestFixtures creates a new test fixtures factory
func NewTestFixtures(t *testing.T, db DBTX) *TestFixtures {
	t.Helper()
	return &TestFixtures{db: db, t: t}
}

// IdeaFixture holds overridable idea fields
type IdeaFixture struct {
	AssetID   string
	Action    idea.Action
	Stage     idea.Stage
	CreatedBy uuid.UUID
}

// CreateIdea inserts a trade idea
func (f *TestFixtures) CreateIdea(opts ...func(*IdeaFixture)) *idea.TradeIdea {
	f.t.Helper()

	fixture := &IdeaFixture{
		AssetID:   fmt.Sprintf("TEST%d", rand.Intn(99999)),
		Action:    idea.ActionBuy,
		Stage:     idea.StageIdea,
		CreatedBy: uuid.New(),
	}
	for _, opt := range opts {
		opt(fixture)
	}

	now := time.Now().UTC().Truncate(time.Microsecond)
	t := &idea.TradeIdea{
		ID:                uuid.New(),
		AssetID:           fixture.AssetID,
		Action:            fixture.Action,
		Urgency:           idea.UrgencyMedium,
		Stage:             fixture.Stage,
		CreatedBy:         fixture.CreatedBy,
		SharingVisibility: idea.SharingPortfolio,
		StageChangedAt:    now,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	require.NoError(f.t, NewIdeaRepository(f.db).Create(context.Background(), t), "Failed to create test idea")
	return t
}

// LinkPortfolio links an idea to a fresh portfolio and returns its id
func (f *TestFixtures) LinkPortfolio(ideaID uuid.UUID) uuid.UUID {
	f.t.Helper()

	portfolioID := uuid.New()
	err := NewLinkRepository(f.db).Add(context.Background(), &idea.Link{
		TradeIdeaID: ideaID,
		PortfolioID: portfolioID,
		LinkedBy:    uuid.New(),
		CreatedAt:   time.Now(),
	})
	require.NoError(f.t, err, "Failed to link portfolio")
	return portfolioID
}

// CreateManager grants an actor decision authority over a portfolio
func (f *TestFixtures) CreateManager(portfolioID uuid.UUID) uuid.UUID {
	f.t.Helper()

	actorID := uuid.New()
	err := NewMembershipRepository(f.db).Upsert(context.Background(), &portfolio.Membership{
		PortfolioID: portfolioID,
		ActorID:     actorID,
		Role:        portfolio.RoleManager,
		CreatedAt:   time.Now(),
	})
	require.NoError(f.t, err, "Failed to create membership")
	return actorID
}
