// Package approval implements the per-action confirmation policy. The gate
// decides whether a side-effecting action needs explicit human confirmation
// before it runs; the dispatcher asks the confirmation channel and records
// a non-fatal denial when the human declines.
package approval

import (
	"fmt"
	"os"

	"helmsman/internal/logging"
	"helmsman/internal/types"
)

// Mode is the confirmation requirement attached to an action name.
type Mode int

const (
	// ModeNever runs without confirmation.
	ModeNever Mode = iota

	// ModeAlways requires confirmation on every invocation.
	ModeAlways

	// ModeIfTargetExists requires confirmation only when the action's
	// target path already exists (write-type actions that would clobber).
	ModeIfTargetExists
)

// Rule binds a mode to a prompt template. The template receives the
// action's target.
type Rule struct {
	Mode   Mode
	Prompt string
}

// Decision is the gate's answer for one action.
type Decision struct {
	Required bool
	Prompt   string
}

// Gate holds the static policy mapping action names to rules.
type Gate struct {
	rules map[string]Rule

	// stat is swappable for tests.
	stat func(string) (os.FileInfo, error)
}

// DefaultRules gates the destructive builtin actions.
func DefaultRules() map[string]Rule {
	return map[string]Rule{
		"delete_file":    {Mode: ModeAlways, Prompt: "Delete %s?"},
		"overwrite_file": {Mode: ModeAlways, Prompt: "Overwrite %s?"},
		"edit_file":      {Mode: ModeAlways, Prompt: "Apply destructive edit to %s?"},
		"write_file":     {Mode: ModeIfTargetExists, Prompt: "%s already exists. Replace it?"},
	}
}

// NewGate creates a gate with the given rules (DefaultRules if nil).
func NewGate(rules map[string]Rule) *Gate {
	if rules == nil {
		rules = DefaultRules()
	}
	return &Gate{rules: rules, stat: os.Stat}
}

// SetStat overrides the filesystem probe. Test hook.
func (g *Gate) SetStat(stat func(string) (os.FileInfo, error)) {
	g.stat = stat
}

// Check returns whether the action requires confirmation and the prompt to
// show the human if it does.
func (g *Gate) Check(action types.Action) Decision {
	rule, ok := g.rules[action.Name]
	if !ok {
		return Decision{}
	}

	target := action.StringParam("path")
	if target == "" {
		target = action.StringParam("target")
	}

	switch rule.Mode {
	case ModeAlways:
		return g.require(action, rule, target)
	case ModeIfTargetExists:
		if target == "" {
			return Decision{}
		}
		if _, err := g.stat(target); err == nil {
			return g.require(action, rule, target)
		}
		return Decision{}
	default:
		return Decision{}
	}
}

func (g *Gate) require(action types.Action, rule Rule, target string) Decision {
	if target == "" {
		target = action.Name
	}
	prompt := fmt.Sprintf(rule.Prompt, target)
	logging.Get(logging.CategoryApproval).Debugf("confirmation required for %s (target=%s)", action.Name, target)
	return Decision{Required: true, Prompt: prompt}
}
