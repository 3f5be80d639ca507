package engine_test

import (
	"errors"
	"path/filepath"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"caseline/internal/domain"
	"caseline/internal/engine"
)

func asStale(err error, target *domain.StaleStateError) bool {
	return errors.As(err, target)
}

func TestFormatCertificateNumber(t *testing.T) {
	assert.Equal(t, "BC-2026-000042", engine.FormatCertificateNumber("BC", 2026, 42))
	assert.Equal(t, "FTJ-2027-1234567", engine.FormatCertificateNumber("FTJ", 2027, 1234567))
}

func TestLoadResidentDirectory(t *testing.T) {
	dir := t.TempDir()
	missing, err := engine.LoadResidentDirectory(filepath.Join(dir, "none.yml"))
	require.NoError(t, err)
	assert.Empty(t, missing)

	path := filepath.Join(dir, "residents.yml")
	require.NoError(t, os.WriteFile(path, []byte(`residents:
  - ref: res-1
    display_name: Maria Santos
    purok: Purok 2
`), 0o644))
	d, err := engine.LoadResidentDirectory(path)
	require.NoError(t, err)
	assert.Equal(t, "Purok 2", d["res-1"].Purok)

	require.NoError(t, os.WriteFile(path, []byte("residents:\n  - display_name: nobody\n"), 0o644))
	_, err = engine.LoadResidentDirectory(path)
	require.Error(t, err)
}
