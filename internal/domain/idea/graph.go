package idea

import (
	"github.com/google/uuid"

	"ideaflow/pkg/errors"
)

// PermissionClass tells which permission predicate guards a move
type PermissionClass string

const (
	// ClassGlobal moves are reserved for the creator, assignee and collaborators
	ClassGlobal PermissionClass = "global"
	// ClassPortfolio moves need a relationship to at least one linked portfolio
	ClassPortfolio PermissionClass = "portfolio"
)

// Graph is the stage transition graph of a trade idea
type Graph struct {
	edges map[Stage]map[Stage]bool
}

// DefaultGraph is the canonical pipeline:
//
//	idea <-> working_on <-> modeling -> deciding -> {approved, rejected, deferred}
//	deciding -> deciding
//	{approved, rejected, deferred} -> idea
//	any non-deleted -> deleted, deleted -> idea
var DefaultGraph = NewGraph()

// NewGraph builds the canonical graph
func NewGraph() *Graph {
	g := &Graph{edges: make(map[Stage]map[Stage]bool)}

	g.add(StageIdea, StageWorkingOn)
	g.add(StageWorkingOn, StageIdea)
	g.add(StageWorkingOn, StageModeling)
	g.add(StageModeling, StageWorkingOn)
	g.add(StageModeling, StageDeciding)
	g.add(StageDeciding, StageDeciding)
	g.add(StageDeciding, StageApproved)
	g.add(StageDeciding, StageRejected)
	g.add(StageDeciding, StageDeferred)

	for _, s := range []Stage{StageApproved, StageRejected, StageDeferred} {
		g.add(s, StageIdea)
	}
	for _, s := range []Stage{StageIdea, StageWorkingOn, StageModeling, StageDeciding, StageApproved, StageRejected, StageDeferred} {
		g.add(s, StageDeleted)
	}
	g.add(StageDeleted, StageIdea)

	return g
}

func (g *Graph) add(from, to Stage) {
	if g.edges[from] == nil {
		g.edges[from] = make(map[Stage]bool)
	}
	g.edges[from][to] = true
}

// HasEdge reports whether from -> to is a legal manual move
func (g *Graph) HasEdge(from, to Stage) bool {
	return g.edges[from][to]
}

// Targets lists the stages reachable from a stage in one move
func (g *Graph) Targets(from Stage) []Stage {
	out := make([]Stage, 0, len(g.edges[from]))
	for _, s := range []Stage{StageIdea, StageWorkingOn, StageModeling, StageDeciding, StageApproved, StageRejected, StageDeferred, StageDeleted} {
		if g.edges[from][s] {
			out = append(out, s)
		}
	}
	return out
}

// Validate returns ErrInvalidTransition when the edge is missing
func (g *Graph) Validate(from, to Stage) error {
	if !g.HasEdge(from, to) {
		return errors.Wrapf(errors.ErrInvalidTransition, "%s -> %s", from, to)
	}
	return nil
}

// CanResolve reports whether an aggregate decision may write `to` over `from`.
// Resolution bypasses the manual edges because with the proposal overlay an idea
// can collect decisions while its display stage is still earlier in the pipeline.
func (g *Graph) CanResolve(from, to Stage) bool {
	if to != StageApproved && to != StageRejected {
		return false
	}
	return from.IsOpen() || from == StageApproved || from == StageRejected
}

// ClassOf returns the permission class guarding a move into target
func ClassOf(target Stage) PermissionClass {
	switch target {
	case StageDeciding, StageApproved, StageRejected, StageDeferred:
		return ClassPortfolio
	default:
		return ClassGlobal
	}
}

// CanMoveGlobal is the global-stage permission predicate
func (t *TradeIdea) CanMoveGlobal(actorID uuid.UUID) bool {
	if actorID == uuid.Nil {
		return false
	}
	if t.CreatedBy == actorID {
		return true
	}
	if t.AssignedTo != nil && *t.AssignedTo == actorID {
		return true
	}
	for _, c := range t.Collaborators {
		if c == actorID {
			return true
		}
	}
	return false
}
