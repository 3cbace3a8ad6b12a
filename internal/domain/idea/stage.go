package idea

import (
	"strings"

	"ideaflow/pkg/errors"
)

// Stage is the position of a trade idea in the pipeline
type Stage string

const (
	StageIdea      Stage = "idea"
	StageWorkingOn Stage = "working_on"
	StageModeling  Stage = "modeling"
	StageDeciding  Stage = "deciding"
	StageApproved  Stage = "approved"
	StageRejected  Stage = "rejected"
	StageDeferred  Stage = "deferred"
	StageDeleted   Stage = "deleted"
)

// legacy names still sent by older board clients
var stageAliases = map[string]Stage{
	"discussing": StageWorkingOn,
	"simulating": StageModeling,
	"cancelled":  StageDeferred,
}

// ParseStage accepts canonical names and legacy aliases
func ParseStage(s string) (Stage, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	if alias, ok := stageAliases[name]; ok {
		return alias, nil
	}
	st := Stage(name)
	if !st.Valid() {
		return "", errors.NewValidationError("stage", "unknown stage", s)
	}
	return st, nil
}

// Valid checks if stage is one of the canonical stages
func (s Stage) Valid() bool {
	switch s {
	case StageIdea, StageWorkingOn, StageModeling, StageDeciding,
		StageApproved, StageRejected, StageDeferred, StageDeleted:
		return true
	}
	return false
}

// IsOpen reports whether the stage is part of the open pipeline (not yet resolved)
func (s Stage) IsOpen() bool {
	switch s {
	case StageIdea, StageWorkingOn, StageModeling, StageDeciding:
		return true
	}
	return false
}

// IsResolved reports whether the stage is an outcome of the deciding stage
func (s Stage) IsResolved() bool {
	return s == StageApproved || s == StageRejected || s == StageDeferred
}

// Rank orders stages along the pipeline; resolved stages share the last rank
func (s Stage) Rank() int {
	switch s {
	case StageIdea:
		return 0
	case StageWorkingOn:
		return 1
	case StageModeling:
		return 2
	case StageDeciding:
		return 3
	case StageApproved, StageRejected, StageDeferred:
		return 4
	default:
		return -1
	}
}

func (s Stage) String() string {
	return string(s)
}
