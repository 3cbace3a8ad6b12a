package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"ideaflow/internal/domain/audit"
	"ideaflow/internal/domain/portfolio"
)

type holdingKey struct {
	assetID     string
	portfolioID uuid.UUID
}

// Holdings is a settable HoldingsProvider.
// Unknown assets resolve to a zero current weight without benchmark.
type Holdings struct {
	mu   sync.RWMutex
	rows map[holdingKey]portfolio.Holding
}

func NewHoldings() *Holdings {
	return &Holdings{rows: make(map[holdingKey]portfolio.Holding)}
}

// Set stores a holding
func (h *Holdings) Set(hold portfolio.Holding) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.rows[holdingKey{hold.AssetID, hold.PortfolioID}] = hold
}

func (h *Holdings) Holding(ctx context.Context, assetID string, portfolioID uuid.UUID) (*portfolio.Holding, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if hold, ok := h.rows[holdingKey{assetID, portfolioID}]; ok {
		return &hold, nil
	}
	return &portfolio.Holding{AssetID: assetID, PortfolioID: portfolioID}, nil
}

// AuditLog keeps emitted audit records in order
type AuditLog struct {
	mu      sync.Mutex
	records []audit.Record
	err     error
}

func NewAuditLog() *AuditLog {
	return &AuditLog{}
}

// FailWith makes subsequent Emit calls fail
func (l *AuditLog) FailWith(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.err = err
}

func (l *AuditLog) Emit(ctx context.Context, records ...audit.Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return l.err
	}
	l.records = append(l.records, records...)
	return nil
}

// Records returns a copy of everything emitted so far
func (l *AuditLog) Records() []audit.Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]audit.Record(nil), l.records...)
}

// ByAction filters emitted records by action type
func (l *AuditLog) ByAction(actionType string) []audit.Record {
	var out []audit.Record
	for _, r := range l.Records() {
		if r.ActionType == actionType {
			out = append(out, r)
		}
	}
	return out
}
