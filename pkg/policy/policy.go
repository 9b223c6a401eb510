// Package policy provides a stateless, side-effect-free check layer an
// agent can call before requesting a lock. It sits outside the lock
// arbitration core entirely: the engine never consults it, and a denied
// policy check has no effect on any lock state. It is grounded in the
// two hard-coded MVP rules of the reference policy engine: a per-role
// spend limit and a team-scoped resource access rule.
package policy

import "fmt"

// Check is a single policy question: can this agent take this action,
// given the supplied metadata?
type Check struct {
	AgentID  string
	Action   string
	Metadata map[string]any
}

// Result is the outcome of evaluating every rule in order; evaluation
// stops at the first rule that denies.
type Result struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason"`
}

// Rule evaluates one policy concern against a Check.
type Rule func(Check) Result

// Checker evaluates a fixed, ordered set of rules.
type Checker struct {
	rules []namedRule
}

type namedRule struct {
	name string
	fn   Rule
}

// spendLimitsByRole mirrors the reference engine's hard-coded MVP table.
// There is no config surface for these yet; a future revision may move
// this into the ambient config layer.
var spendLimitsByRole = map[string]float64{
	"junior": 100,
	"senior": 1000,
	"admin":  10000,
}

const defaultSpendLimit = 100

// NewChecker builds the standard checker: spend limit, then team-scoped
// resource access, matching the reference engine's rule order.
func NewChecker() *Checker {
	return &Checker{rules: []namedRule{
		{name: "spend_limit", fn: checkSpendLimit},
		{name: "resource_access", fn: checkResourceAccess},
	}}
}

// Check runs every rule in order and returns the first denial, or an
// allow if all rules pass.
func (c *Checker) Check(check Check) Result {
	for _, rule := range c.rules {
		result := rule.fn(check)
		if !result.Allowed {
			return result
		}
	}
	return Result{Allowed: true, Reason: "all policies passed"}
}

func checkSpendLimit(check Check) Result {
	cost := metadataFloat(check.Metadata, "estimated_cost", 0)
	role := metadataString(check.Metadata, "agent_role", "user")

	limit, ok := spendLimitsByRole[role]
	if !ok {
		limit = defaultSpendLimit
	}

	if cost > limit {
		return Result{
			Allowed: false,
			Reason:  fmt.Sprintf("cost %.2f exceeds limit %.2f for role %s", cost, limit, role),
		}
	}
	return Result{Allowed: true, Reason: "within spend limit"}
}

func checkResourceAccess(check Check) Result {
	agentTeam := metadataString(check.Metadata, "agent_team", "default")
	resourceTeam := metadataString(check.Metadata, "resource_team", "default")

	if agentTeam != resourceTeam && agentTeam != "admin" {
		return Result{
			Allowed: false,
			Reason:  fmt.Sprintf("agent team %q cannot access resource from team %q", agentTeam, resourceTeam),
		}
	}
	return Result{Allowed: true, Reason: "resource access permitted"}
}

func metadataFloat(m map[string]any, key string, fallback float64) float64 {
	v, ok := m[key]
	if !ok {
		return fallback
	}
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	default:
		return fallback
	}
}

func metadataString(m map[string]any, key, fallback string) string {
	v, ok := m[key]
	if !ok {
		return fallback
	}
	s, ok := v.(string)
	if !ok {
		return fallback
	}
	return s
}
