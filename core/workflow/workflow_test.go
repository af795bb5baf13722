package workflow_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ian-magat0512/ubind-sub022/core/workflow"
)

func TestDefaultQuoteDefinition(t *testing.T) {
	def := workflow.DefaultQuoteDefinition()

	allowed := []struct {
		from workflow.Status
		cmd  workflow.Command
	}{
		{workflow.StatusNascent, workflow.CmdUpdateFormData},
		{workflow.StatusIncomplete, workflow.CmdRecordCalc},
		{workflow.StatusComplete, workflow.CmdApprove},
		{workflow.StatusApproved, workflow.CmdIssue},
		{workflow.StatusIssued, workflow.CmdAdjust},
		{workflow.StatusIssued, workflow.CmdRenew},
		{workflow.StatusIssued, workflow.CmdCancel},
	}
	for _, tc := range allowed {
		require.True(t, def.IsTransitionAllowed(tc.from, tc.cmd),
			"%s should allow %s", tc.from, tc.cmd)
	}

	denied := []struct {
		from workflow.Status
		cmd  workflow.Command
	}{
		{workflow.StatusNascent, workflow.CmdIssue},
		{workflow.StatusNascent, workflow.CmdApprove},
		{workflow.StatusIssued, workflow.CmdUpdateFormData},
		{workflow.StatusDeclined, workflow.CmdApprove},
		{workflow.StatusExpired, workflow.CmdIssue},
		{workflow.StatusDiscarded, workflow.CmdUpdateFormData},
	}
	for _, tc := range denied {
		require.False(t, def.IsTransitionAllowed(tc.from, tc.cmd),
			"%s should deny %s", tc.from, tc.cmd)
	}
}

func TestExpirySettings(t *testing.T) {
	createdAt := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)

	t.Run("disabled", func(t *testing.T) {
		s := workflow.ExpirySettings{}
		require.True(t, s.ExpiresAt(createdAt).IsZero())
	})

	t.Run("absolute deadline wins", func(t *testing.T) {
		deadline := createdAt.Add(48 * time.Hour)
		s := workflow.ExpirySettings{Enabled: true, Deadline: deadline, After: time.Hour}
		require.Equal(t, deadline, s.ExpiresAt(createdAt))
	})

	t.Run("relative offset", func(t *testing.T) {
		s := workflow.ExpirySettings{Enabled: true, After: 30 * 24 * time.Hour}
		require.Equal(t, createdAt.Add(30*24*time.Hour), s.ExpiresAt(createdAt))
	})
}

func TestStaticProvider_Overrides(t *testing.T) {
	p := workflow.NewStaticProvider()

	// default served when no override exists
	def, err := p.Retrieve(t.Context(), "tenant-a", "home")
	require.NoError(t, err)
	require.True(t, def.IsTransitionAllowed(workflow.StatusComplete, workflow.CmdApprove))

	// a product that skips approval: complete goes straight to issue
	p.Override("tenant-a", "travel", workflow.Definition{
		Name: "quote/travel",
		Transitions: map[workflow.Status][]workflow.Command{
			workflow.StatusNascent:    {workflow.CmdUpdateFormData},
			workflow.StatusIncomplete: {workflow.CmdUpdateFormData, workflow.CmdRecordCalc},
			workflow.StatusComplete:   {workflow.CmdIssue},
		},
	})

	travel, err := p.Retrieve(t.Context(), "tenant-a", "travel")
	require.NoError(t, err)
	require.True(t, travel.IsTransitionAllowed(workflow.StatusComplete, workflow.CmdIssue))
	require.False(t, travel.IsTransitionAllowed(workflow.StatusComplete, workflow.CmdApprove))

	// other tenants and products are unaffected
	other, err := p.Retrieve(t.Context(), "tenant-b", "travel")
	require.NoError(t, err)
	require.True(t, other.IsTransitionAllowed(workflow.StatusComplete, workflow.CmdApprove))
}

func TestStaticProvider_ClaimOverrides(t *testing.T) {
	p := workflow.NewStaticProvider()

	def, err := p.RetrieveClaim(t.Context(), "tenant-a", "home")
	require.NoError(t, err)
	require.True(t, def.IsTransitionAllowed(workflow.StatusClaimNotified, workflow.CmdClaimAcknowledge))

	p.OverrideClaim("tenant-a", "home", workflow.Definition{
		Name: "claim/no-withdrawals",
		Transitions: map[workflow.Status][]workflow.Command{
			workflow.StatusClaimIncomplete: {workflow.CmdClaimNotify},
			workflow.StatusClaimNotified:   {workflow.CmdClaimAcknowledge},
		},
	})

	strict, err := p.RetrieveClaim(t.Context(), "tenant-a", "home")
	require.NoError(t, err)
	require.False(t, strict.IsTransitionAllowed(workflow.StatusClaimNotified, workflow.CmdClaimWithdraw))
}
