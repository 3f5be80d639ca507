package guard_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"caseline/internal/db"
	"caseline/internal/domain"
	"caseline/internal/engine/guard"
	"caseline/internal/migrate"
	"caseline/internal/repo"
)

var (
	clerk   = domain.Actor{ID: "clerk-1", Role: "staff"}
	captain = domain.Actor{ID: "cap-1", Role: "captain"}
	fixed   = time.Date(2026, 3, 10, 2, 0, 0, 0, time.UTC)
)

func newGuard(t *testing.T) (guard.Guard, *sql.DB) {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	_, err = migrate.Migrate(context.Background(), conn)
	require.NoError(t, err)
	return guard.Guard{Repo: repo.Repo{DB: conn}, Now: func() time.Time { return fixed }}, conn
}

func seedCertificate(t *testing.T, g guard.Guard, id string) {
	t.Helper()
	require.NoError(t, g.Repo.InsertCertificateRequest(context.Background(), nil, domain.CertificateRequest{
		Envelope:        domain.Envelope{ID: id, RequestedBy: clerk.ID, RequestedAt: fixed, ApprovalState: domain.StatePending},
		ResidentRef:     "res-1",
		CertificateType: domain.CertResidency,
		Purpose:         "employment",
	}))
}

func seedBlotter(t *testing.T, g guard.Guard, id string) {
	t.Helper()
	require.NoError(t, g.Repo.InsertBlotterCase(context.Background(), nil, domain.BlotterCase{
		Envelope:     domain.Envelope{ID: id, RequestedBy: clerk.ID, RequestedAt: fixed, ApprovalState: domain.StatePending},
		Complainant:  domain.Party{IsResident: true, ResidentRef: "res-1"},
		Respondent:   domain.Party{FullName: "Juan Dela Cruz", Age: 40, Address: "Purok 3"},
		IncidentType: "noise",
		IncidentAt:   fixed,
		Location:     "Purok 3",
		Narrative:    "loud karaoke past curfew",
	}))
}

func attempt(t *testing.T, g guard.Guard, conn *sql.DB, req guard.Request) (guard.Committed, error) {
	t.Helper()
	ctx := context.Background()
	tx, err := conn.BeginTx(ctx, nil)
	require.NoError(t, err)
	defer tx.Rollback()
	c, err := g.Attempt(ctx, tx, req)
	if err != nil {
		return c, err
	}
	require.NoError(t, tx.Commit())
	return c, nil
}

func advance(t *testing.T, g guard.Guard, conn *sql.DB, kind domain.Kind, id string, next domain.Progress) (guard.Committed, error) {
	t.Helper()
	ctx := context.Background()
	tx, err := conn.BeginTx(ctx, nil)
	require.NoError(t, err)
	defer tx.Rollback()
	c, err := g.AdvanceProgress(ctx, tx, kind, id, next, captain)
	if err != nil {
		return c, err
	}
	require.NoError(t, tx.Commit())
	return c, nil
}

func TestLegalTable(t *testing.T) {
	cases := []struct {
		kind     domain.Kind
		from, to domain.ApprovalState
		legal    bool
	}{
		{domain.KindCertificate, domain.StatePending, domain.StateApproved, true},
		{domain.KindCertificate, domain.StatePending, domain.StateRejected, true},
		{domain.KindCertificate, domain.StateApproved, domain.StateReleased, true},
		{domain.KindBlotter, domain.StateApproved, domain.StateReleased, false},
		{domain.KindCertificate, domain.StateRejected, domain.StateReleased, false},
		{domain.KindCertificate, domain.StateRejected, domain.StateApproved, false},
		{domain.KindCertificate, domain.StatePending, domain.StateReleased, false},
		{domain.KindIncident, domain.StateApproved, domain.StatePending, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.legal, guard.Legal(tc.kind, tc.from, tc.to), "%s %s->%s", tc.kind, tc.from, tc.to)
	}
}

func TestAttemptApproveStampsActorAndOpensCase(t *testing.T) {
	g, conn := newGuard(t)
	seedBlotter(t, g, "b1")

	c, err := attempt(t, g, conn, guard.Request{Kind: domain.KindBlotter, ID: "b1", Expected: domain.StatePending, Next: domain.StateApproved, Actor: captain})
	require.NoError(t, err)
	assert.Equal(t, "approved", c.Transition)
	assert.True(t, fixed.Equal(c.At))

	b, err := g.Repo.GetBlotterCase(context.Background(), nil, "b1")
	require.NoError(t, err)
	assert.Equal(t, domain.StateApproved, b.ApprovalState)
	assert.Equal(t, captain.ID, b.ApprovedBy)
	require.NotNil(t, b.ApprovedAt)
	assert.Nil(t, b.RejectedAt)
	assert.Equal(t, domain.ProgressOpen, b.Progress)
}

func TestAttemptSecondApprovalIsStale(t *testing.T) {
	g, conn := newGuard(t)
	seedCertificate(t, g, "c1")
	req := guard.Request{Kind: domain.KindCertificate, ID: "c1", Expected: domain.StatePending, Next: domain.StateApproved, Actor: captain}

	_, err := attempt(t, g, conn, req)
	require.NoError(t, err)
	_, err = attempt(t, g, conn, req)
	var stale domain.StaleStateError
	require.ErrorAs(t, err, &stale)
	assert.Equal(t, "pending", stale.Expected)
	assert.Equal(t, "approved", stale.Actual)
}

func TestAttemptReleaseAfterRejectIsIllegal(t *testing.T) {
	g, conn := newGuard(t)
	seedCertificate(t, g, "c1")
	_, err := attempt(t, g, conn, guard.Request{Kind: domain.KindCertificate, ID: "c1", Expected: domain.StatePending, Next: domain.StateRejected, Actor: captain, Remarks: "incomplete"})
	require.NoError(t, err)

	_, err = attempt(t, g, conn, guard.Request{Kind: domain.KindCertificate, ID: "c1", Expected: domain.StateApproved, Next: domain.StateReleased, Actor: captain})
	var illegal domain.IllegalTransitionError
	require.ErrorAs(t, err, &illegal)
	assert.Equal(t, "rejected", illegal.From)
	assert.Equal(t, "released", illegal.To)
}

func TestAttemptRejectRequiresRemarks(t *testing.T) {
	g, conn := newGuard(t)
	seedCertificate(t, g, "c1")
	_, err := attempt(t, g, conn, guard.Request{Kind: domain.KindCertificate, ID: "c1", Expected: domain.StatePending, Next: domain.StateRejected, Actor: captain, Remarks: "  "})
	var verr domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "remarks", verr.Field)

	state, _, err := g.Repo.RecordState(context.Background(), nil, domain.KindCertificate, "c1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatePending, state)
}

func TestAttemptUnknownRecord(t *testing.T) {
	g, conn := newGuard(t)
	_, err := attempt(t, g, conn, guard.Request{Kind: domain.KindIncident, ID: "missing", Expected: domain.StatePending, Next: domain.StateApproved, Actor: captain})
	require.ErrorIs(t, err, repo.ErrNotFound)
}

func TestAdvanceProgressGatedByApproval(t *testing.T) {
	g, conn := newGuard(t)
	seedBlotter(t, g, "b1")
	for _, p := range []domain.Progress{domain.ProgressOngoing, domain.ProgressResolved, domain.ProgressMonitoring, "Closed"} {
		_, err := advance(t, g, conn, domain.KindBlotter, "b1", p)
		var illegal domain.IllegalTransitionError
		require.ErrorAs(t, err, &illegal, "progress %s", p)
		assert.Equal(t, "pending", illegal.From)
	}
}

func TestAdvanceProgressForwardOnly(t *testing.T) {
	g, conn := newGuard(t)
	seedBlotter(t, g, "b1")
	_, err := attempt(t, g, conn, guard.Request{Kind: domain.KindBlotter, ID: "b1", Expected: domain.StatePending, Next: domain.StateApproved, Actor: captain})
	require.NoError(t, err)

	c, err := advance(t, g, conn, domain.KindBlotter, "b1", domain.ProgressResolved)
	require.NoError(t, err)
	assert.Equal(t, "Open", c.From)
	assert.Equal(t, "Resolved", c.To)

	_, err = advance(t, g, conn, domain.KindBlotter, "b1", domain.ProgressOngoing)
	var illegal domain.IllegalTransitionError
	require.ErrorAs(t, err, &illegal)

	_, err = advance(t, g, conn, domain.KindBlotter, "b1", domain.ProgressMonitoring)
	var verr domain.ValidationError
	require.ErrorAs(t, err, &verr)
}
