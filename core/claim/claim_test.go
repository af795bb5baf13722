package claim_test

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/ian-magat0512/ubind-sub022/core/claim"
	"github.com/ian-magat0512/ubind-sub022/core/es"
	"github.com/ian-magat0512/ubind-sub022/core/refnum"
	"github.com/ian-magat0512/ubind-sub022/core/workflow"
	"github.com/ian-magat0512/ubind-sub022/ports/kv"
)

var (
	lodgedAt = time.Date(2026, 4, 12, 9, 30, 0, 0, time.UTC)
	claimDef = workflow.DefaultClaimDefinition()
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newClaimNumbers(t *testing.T) refnum.Allocator {
	t.Helper()
	alloc, err := refnum.New(refnum.ClaimNumberConfig(), refnum.NewKVSequence(kv.NewMemStore()))
	require.NoError(t, err)
	return alloc
}

func notifiedClaim(t *testing.T) *claim.Aggregate {
	t.Helper()
	a := claim.New("t1", "clm-1")
	require.NoError(t, a.Notify(t.Context(), claimDef, claim.NotifyParams{
		Product:      "home",
		Environment:  "production",
		PolicyNumber: "POL-000042",
		Description:  "burst pipe in the kitchen",
		IncidentAt:   lodgedAt.Add(-48 * time.Hour),
		UserID:       "u1",
		Timestamp:    lodgedAt,
		ClaimNumbers: newClaimNumbers(t),
	}))
	return a
}

func TestNotify(t *testing.T) {
	a := notifiedClaim(t)

	require.Equal(t, workflow.StatusClaimNotified, a.Status)
	require.Equal(t, "CLM-000001", a.ClaimNumber)
	require.Equal(t, "POL-000042", a.PolicyNumber)
	require.Len(t, a.Uncommitted(), 1)

	t.Run("cannot notify twice", func(t *testing.T) {
		err := a.Notify(t.Context(), claimDef, claim.NotifyParams{
			Product: "home", Environment: "production",
			Timestamp:    lodgedAt,
			ClaimNumbers: newClaimNumbers(t),
		})
		require.ErrorIs(t, err, workflow.ErrInvalidStateTransition)
	})

	t.Run("allocator is required", func(t *testing.T) {
		b := claim.New("t1", "clm-2")
		err := b.Notify(t.Context(), claimDef, claim.NotifyParams{
			Product: "home", Environment: "production", Timestamp: lodgedAt,
		})
		require.Error(t, err)
	})
}

func TestFullLifecycle(t *testing.T) {
	a := notifiedClaim(t)
	now := lodgedAt

	steps := []struct {
		cmd workflow.Command
		to  workflow.Status
	}{
		{workflow.CmdClaimAcknowledge, workflow.StatusClaimAcknowledged},
		{workflow.CmdClaimReview, workflow.StatusClaimReview},
		{workflow.CmdClaimAssess, workflow.StatusClaimAssessment},
		{workflow.CmdClaimApprove, workflow.StatusClaimApproved},
		{workflow.CmdClaimSettle, workflow.StatusClaimSettlement},
		{workflow.CmdClaimComplete, workflow.StatusClaimComplete},
	}
	for _, step := range steps {
		now = now.Add(time.Hour)
		require.NoError(t, a.ChangeState(claimDef, step.cmd, "", "u1", now))
		require.Equal(t, step.to, a.Status)
	}

	// completed claims accept no further commands
	err := a.ChangeState(claimDef, workflow.CmdClaimWithdraw, "", "u1", now)
	require.ErrorIs(t, err, workflow.ErrInvalidStateTransition)
}

func TestIllegalTransitions(t *testing.T) {
	a := notifiedClaim(t)

	for _, cmd := range []workflow.Command{
		workflow.CmdClaimSettle,
		workflow.CmdClaimComplete,
		workflow.CmdClaimApprove,
	} {
		t.Run(string(cmd), func(t *testing.T) {
			before := len(a.Uncommitted())
			err := a.ChangeState(claimDef, cmd, "", "u1", lodgedAt)
			require.ErrorIs(t, err, workflow.ErrInvalidStateTransition)
			require.Len(t, a.Uncommitted(), before)
			require.Equal(t, workflow.StatusClaimNotified, a.Status)
		})
	}

	t.Run("unknown command", func(t *testing.T) {
		err := a.ChangeState(claimDef, workflow.Command("bogus"), "", "u1", lodgedAt)
		require.ErrorIs(t, err, workflow.ErrInvalidStateTransition)
	})
}

func TestWithdraw(t *testing.T) {
	a := notifiedClaim(t)
	require.NoError(t, a.ChangeState(claimDef, workflow.CmdClaimAcknowledge, "", "u1", lodgedAt))

	require.NoError(t, a.Withdraw(claimDef, "claimant retracted", "u1", lodgedAt.Add(time.Hour)))
	require.Equal(t, workflow.StatusClaimWithdrawn, a.Status)

	// withdrawn is terminal
	err := a.ChangeState(claimDef, workflow.CmdClaimReview, "", "u1", lodgedAt)
	require.ErrorIs(t, err, workflow.ErrInvalidStateTransition)
}

func TestDecline(t *testing.T) {
	a := notifiedClaim(t)
	require.NoError(t, a.ChangeState(claimDef, workflow.CmdClaimAcknowledge, "", "u1", lodgedAt))
	require.NoError(t, a.ChangeState(claimDef, workflow.CmdClaimReview, "", "u1", lodgedAt))

	require.NoError(t, a.ChangeState(claimDef, workflow.CmdClaimDecline, "excluded peril", "u1", lodgedAt))
	require.Equal(t, workflow.StatusClaimDeclined, a.Status)
}

func TestRecordAmount(t *testing.T) {
	a := notifiedClaim(t)

	require.NoError(t, a.RecordAmount(claimDef, decimal.RequireFromString("1250.75"), "u1", lodgedAt))
	require.True(t, a.Amount.Equal(decimal.RequireFromString("1250.75")))

	// revised assessments replace the amount
	require.NoError(t, a.RecordAmount(claimDef, decimal.NewFromInt(900), "u1", lodgedAt.Add(time.Hour)))
	require.True(t, a.Amount.Equal(decimal.NewFromInt(900)))

	t.Run("negative amounts are rejected", func(t *testing.T) {
		err := a.RecordAmount(claimDef, decimal.NewFromInt(-1), "u1", lodgedAt)
		require.Error(t, err)
	})

	t.Run("not allowed once approved", func(t *testing.T) {
		require.NoError(t, a.ChangeState(claimDef, workflow.CmdClaimAcknowledge, "", "u1", lodgedAt))
		require.NoError(t, a.ChangeState(claimDef, workflow.CmdClaimReview, "", "u1", lodgedAt))
		require.NoError(t, a.ChangeState(claimDef, workflow.CmdClaimAssess, "", "u1", lodgedAt))
		require.NoError(t, a.ChangeState(claimDef, workflow.CmdClaimApprove, "", "u1", lodgedAt))

		err := a.RecordAmount(claimDef, decimal.NewFromInt(1), "u1", lodgedAt)
		require.ErrorIs(t, err, workflow.ErrInvalidStateTransition)
	})
}

func TestClaimSurvivesEventStoreRoundTrip(t *testing.T) {
	store := es.NewInMemoryStore()
	reg := es.NewRegistry()
	(&claim.Aggregate{}).Register(reg)
	repo := es.NewTypedRepository[*claim.Aggregate](testLogger(), store, reg)

	a := repo.New("t1", "clm-1")
	require.NoError(t, a.Notify(t.Context(), claimDef, claim.NotifyParams{
		Product:      "home",
		Environment:  "production",
		Description:  "storm damage",
		UserID:       "u1",
		Timestamp:    lodgedAt,
		ClaimNumbers: newClaimNumbers(t),
	}))
	require.NoError(t, a.ChangeState(claimDef, workflow.CmdClaimAcknowledge, "", "u1", lodgedAt))
	require.NoError(t, a.RecordAmount(claimDef, decimal.NewFromInt(400), "u1", lodgedAt))
	require.NoError(t, repo.Save(t.Context(), a))

	loaded, err := repo.GetByID(t.Context(), "t1", "clm-1")
	require.NoError(t, err)
	require.Equal(t, a.GetVersion(), loaded.GetVersion())
	require.Equal(t, workflow.StatusClaimAcknowledged, loaded.Status)
	require.Equal(t, a.ClaimNumber, loaded.ClaimNumber)
	require.True(t, loaded.Amount.Equal(decimal.NewFromInt(400)))
}
