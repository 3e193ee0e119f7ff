package toolexecutor

import (
	"fmt"
	"strings"
)

// ToolPolicy defines which tools a caller can use
type ToolPolicy struct {
	Allow []string `json:"allow" mapstructure:"allow"` // List of allowed tools (* for all, empty for all)
	Deny  []string `json:"deny" mapstructure:"deny"`   // List of denied tools (overrides allow)
}

// IsToolAllowed checks if a tool is allowed by the policy
func (tp *ToolPolicy) IsToolAllowed(toolName string) bool {
	if tp == nil {
		return true
	}

	// Deny list overrides allow list
	for _, denied := range tp.Deny {
		if denied == toolName || denied == "*" {
			return false
		}
	}

	if len(tp.Allow) == 0 {
		return true
	}
	for _, allowed := range tp.Allow {
		if allowed == toolName || allowed == "*" {
			return true
		}
	}

	return false
}

// Validate rejects blank entries and an allow list that is also fully denied.
func (tp *ToolPolicy) Validate() error {
	if tp == nil {
		return nil
	}
	for _, name := range append(append([]string{}, tp.Allow...), tp.Deny...) {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("tool policy contains an empty tool name")
		}
	}
	for _, denied := range tp.Deny {
		if denied == "*" && len(tp.Allow) > 0 {
			return fmt.Errorf("tool policy denies every tool while also allowing %v", tp.Allow)
		}
	}
	return nil
}
