package app

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"caseline/internal/config"
	"caseline/internal/domain"
	"caseline/internal/engine"
)

func TestOpenWiresWorkspace(t *testing.T) {
	ws := t.TempDir()
	require.NoError(t, os.WriteFile(ResidentsPath(ws), []byte(`residents:
  - ref: res-1
    display_name: Maria Santos
`), 0o644))

	var logs bytes.Buffer
	a, err := Open(context.Background(), Options{Workspace: ws, LogWriter: &logs, LogLevel: "debug"})
	require.NoError(t, err)

	assert.FileExists(t, filepath.Join(ws, ".caseline", "caseline.db"))
	assert.Equal(t, "Asia/Manila", a.Config.Barangay.Timezone)
	assert.Contains(t, logs.String(), "database migrated")

	actor := domain.Actor{ID: "staff-1", Role: "staff"}
	c, err := a.Engine.SubmitCertificate(context.Background(), actor, engine.CertificateSubmission{
		ResidentRef: "res-1", CertificateType: domain.CertResidency, Purpose: "school enrollment",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatePending, c.ApprovalState)

	families, err := a.Registry.Gather()
	require.NoError(t, err)
	var names []string
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "caseline_transitions_total")

	// Close drains the notification queue; the log sink is always part of the fan-out.
	require.NoError(t, a.Close())
	assert.Contains(t, logs.String(), "certificate.submitted")
}

func TestOpenRejectsInvalidConfig(t *testing.T) {
	ws := t.TempDir()
	require.NoError(t, os.WriteFile(config.Path(ws), []byte("certificates:\n  types: {}\n"), 0o644))
	_, err := Open(context.Background(), Options{Workspace: ws})
	require.Error(t, err)
}
