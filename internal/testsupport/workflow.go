package testsupport

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"ideaflow/internal/domain/audit"
	"ideaflow/internal/domain/idea"
	"ideaflow/internal/domain/portfolio"
	"ideaflow/internal/repository/memory"
)

// Workflow is an in-memory world for command service tests:
// a gateway, holdings, a recording audit sink and a settable clock
type Workflow struct {
	Store    *memory.Store
	Holdings *memory.Holdings
	Audit    *memory.AuditLog

	mu  sync.Mutex
	now time.Time
}

// NewWorkflow creates an empty world whose clock starts at 2024-03-01 09:30 UTC
func NewWorkflow(t *testing.T) *Workflow {
	t.Helper()
	return &Workflow{
		Store:    memory.NewStore(),
		Holdings: memory.NewHoldings(),
		Audit:    memory.NewAuditLog(),
		now:      time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC),
	}
}

// Now is the fixture clock
func (w *Workflow) Now() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.now
}

// SetNow moves the clock
func (w *Workflow) SetNow(now time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.now = now
}

// Actor returns an envelope for a fresh actor
func (w *Workflow) Actor(name string) audit.ActionContext {
	return audit.ActionContext{
		ActorID:   uuid.New(),
		ActorName: name,
		ActorRole: "analyst",
		RequestID: UniqueName("req"),
		UISource:  "test",
	}
}

// Grant gives an actor a role in a portfolio
func (w *Workflow) Grant(t *testing.T, actx audit.ActionContext, portfolioID uuid.UUID, role portfolio.Role) {
	t.Helper()
	err := w.Store.Memberships().Upsert(context.Background(), &portfolio.Membership{
		PortfolioID: portfolioID,
		ActorID:     actx.ActorID,
		Role:        role,
		CreatedAt:   w.Now(),
	})
	if err != nil {
		t.Fatalf("failed to grant role: %v", err)
	}
}

// Manager returns an actor holding decision authority over the portfolios
func (w *Workflow) Manager(t *testing.T, name string, portfolioIDs ...uuid.UUID) audit.ActionContext {
	t.Helper()
	actx := w.Actor(name)
	actx.ActorRole = string(portfolio.RoleManager)
	for _, pid := range portfolioIDs {
		w.Grant(t, actx, pid, portfolio.RoleManager)
	}
	return actx
}

// Analyst returns an actor with the analyst role in the portfolios
func (w *Workflow) Analyst(t *testing.T, name string, portfolioIDs ...uuid.UUID) audit.ActionContext {
	t.Helper()
	actx := w.Actor(name)
	for _, pid := range portfolioIDs {
		w.Grant(t, actx, pid, portfolio.RoleAnalyst)
	}
	return actx
}

// IdeaOption customizes a seeded idea
type IdeaOption func(*idea.TradeIdea)

// InStage seeds the idea in a stage
func InStage(stage idea.Stage) IdeaOption {
	return func(t *idea.TradeIdea) { t.Stage = stage }
}

// WithAsset sets the asset of the seeded idea
func WithAsset(assetID string) IdeaOption {
	return func(t *idea.TradeIdea) { t.AssetID = assetID }
}

// SeedIdea writes an idea created by owner straight into the store and links it to the portfolios.
// The first portfolio becomes the primary one.
func (w *Workflow) SeedIdea(t *testing.T, owner audit.ActionContext, portfolioIDs []uuid.UUID, opts ...IdeaOption) *idea.TradeIdea {
	t.Helper()
	ctx := context.Background()
	now := w.Now()

	ti := &idea.TradeIdea{
		ID:                uuid.New(),
		AssetID:           UniqueAssetID("ACME"),
		Action:            idea.ActionBuy,
		Urgency:           idea.UrgencyMedium,
		Stage:             idea.StageIdea,
		Rationale:         "margin expansion not priced in",
		CreatedBy:         owner.ActorID,
		VisibilityTier:    idea.TierActive,
		SharingVisibility: idea.SharingPortfolio,
		StageChangedAt:    now,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if len(portfolioIDs) > 0 {
		primary := portfolioIDs[0]
		ti.PrimaryPortfolioID = &primary
	}
	for _, opt := range opts {
		opt(ti)
	}

	if err := w.Store.Ideas().Create(ctx, ti); err != nil {
		t.Fatalf("failed to seed idea: %v", err)
	}
	for _, pid := range portfolioIDs {
		link := &idea.Link{TradeIdeaID: ti.ID, PortfolioID: pid, LinkedBy: owner.ActorID, CreatedAt: now}
		if err := w.Store.Links().Add(ctx, link); err != nil {
			t.Fatalf("failed to seed link: %v", err)
		}
	}
	return ti
}

// SetHolding stores current and optional benchmark weights of an asset
func (w *Workflow) SetHolding(portfolioID uuid.UUID, assetID, current string, benchmark *string) {
	h := portfolio.Holding{
		AssetID:     assetID,
		PortfolioID: portfolioID,
		Current:     decimal.RequireFromString(current),
		AsOf:        w.Now(),
	}
	if benchmark != nil {
		b := decimal.RequireFromString(*benchmark)
		h.Benchmark = &b
	}
	w.Holdings.Set(h)
}

// ReloadIdea reads the committed state of an idea
func (w *Workflow) ReloadIdea(t *testing.T, id uuid.UUID) *idea.TradeIdea {
	t.Helper()
	ti, err := w.Store.Ideas().GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("failed to reload idea: %v", err)
	}
	return ti
}
