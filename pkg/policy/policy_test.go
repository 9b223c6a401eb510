package policy_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lockarb/lockd/pkg/policy"
)

func TestSpendLimitByRole(t *testing.T) {
	c := policy.NewChecker()

	res := c.Check(policy.Check{
		AgentID: "agent-1",
		Action:  "purchase",
		Metadata: map[string]any{
			"agent_role":     "junior",
			"estimated_cost": 150.0,
		},
	})
	require.False(t, res.Allowed)

	res = c.Check(policy.Check{
		AgentID: "agent-1",
		Action:  "purchase",
		Metadata: map[string]any{
			"agent_role":     "senior",
			"estimated_cost": 150.0,
		},
	})
	require.True(t, res.Allowed)
}

func TestSpendLimitDefaultsForUnknownRole(t *testing.T) {
	c := policy.NewChecker()

	res := c.Check(policy.Check{
		Metadata: map[string]any{
			"estimated_cost": 500.0,
		},
	})
	require.False(t, res.Allowed)
}

func TestResourceAccessDeniedAcrossTeams(t *testing.T) {
	c := policy.NewChecker()

	res := c.Check(policy.Check{
		Metadata: map[string]any{
			"agent_team":    "payments",
			"resource_team": "billing",
		},
	})
	require.False(t, res.Allowed)
}

func TestResourceAccessAdminBypassesTeamCheck(t *testing.T) {
	c := policy.NewChecker()

	res := c.Check(policy.Check{
		Metadata: map[string]any{
			"agent_team":    "admin",
			"resource_team": "billing",
		},
	})
	require.True(t, res.Allowed)
}

func TestResourceAccessSameTeamAllowed(t *testing.T) {
	c := policy.NewChecker()

	res := c.Check(policy.Check{
		Metadata: map[string]any{
			"agent_team":    "billing",
			"resource_team": "billing",
		},
	})
	require.True(t, res.Allowed)
}

func TestSpendLimitCheckedBeforeResourceAccess(t *testing.T) {
	c := policy.NewChecker()

	res := c.Check(policy.Check{
		Metadata: map[string]any{
			"agent_role":     "junior",
			"estimated_cost": 500.0,
			"agent_team":     "payments",
			"resource_team":  "billing",
		},
	})
	require.False(t, res.Allowed)
	require.Contains(t, res.Reason, "exceeds limit")
}
