package policy

import (
	"github.com/sentinelcore/mcpgate/internal/domain/taint"
	"github.com/sentinelcore/mcpgate/internal/domain/tool"
)

// EvaluationContext carries everything the engine needs to evaluate one
// request. It is built fresh for every request from a Ledger snapshot, so
// concurrent requests each observe a consistent prior snapshot rather than
// a moving target.
type EvaluationContext struct {
	ToolName  string
	Classes   []tool.Class
	Args      map[string]interface{}
	URI       string // set only for resources/read
	Taints    []taint.Tag
	History   []taint.HistoryEntry
}

// HasClass reports whether the current tool carries class c.
func (c EvaluationContext) HasClass(cl tool.Class) bool {
	for _, got := range c.Classes {
		if got == cl {
			return true
		}
	}
	return false
}

// TaintSet returns the taint set as a plain string slice, the shape
// LogicCondition variable resolution and CEL activation both want.
func (c EvaluationContext) TaintSet() []string {
	out := make([]string, len(c.Taints))
	for i, t := range c.Taints {
		out[i] = string(t)
	}
	return out
}

// HasTaint reports whether the session currently carries tag.
func (c EvaluationContext) HasTaint(tag taint.Tag) bool {
	for _, t := range c.Taints {
		if t == tag {
			return true
		}
	}
	return false
}
