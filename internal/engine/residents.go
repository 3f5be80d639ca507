package engine

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"caseline/internal/domain"
)

// ResidentDirectory resolves resident references for public verification.
// The resident registry itself lives outside this module.
type ResidentDirectory interface {
	LookupResident(ctx context.Context, ref string) (domain.ResidentSummary, bool, error)
}

// StaticDirectory is an in-memory directory keyed by resident ref.
type StaticDirectory map[string]domain.ResidentSummary

func (d StaticDirectory) LookupResident(_ context.Context, ref string) (domain.ResidentSummary, bool, error) {
	r, ok := d[ref]
	return r, ok, nil
}

type residentFile struct {
	Residents []struct {
		Ref         string `yaml:"ref"`
		DisplayName string `yaml:"display_name"`
		Purok       string `yaml:"purok"`
	} `yaml:"residents"`
}

// LoadResidentDirectory reads a residents.yml export. A missing file yields
// an empty directory.
func LoadResidentDirectory(path string) (StaticDirectory, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return StaticDirectory{}, nil
	}
	if err != nil {
		return nil, err
	}
	var f residentFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("invalid residents yaml: %w", err)
	}
	dir := make(StaticDirectory, len(f.Residents))
	for i, r := range f.Residents {
		if r.Ref == "" {
			return nil, fmt.Errorf("residents[%d].ref is required", i)
		}
		dir[r.Ref] = domain.ResidentSummary{Ref: r.Ref, DisplayName: r.DisplayName, Purok: r.Purok}
	}
	return dir, nil
}

// residentSummary falls back to the bare reference when the directory is
// absent or does not know the resident.
func (e Engine) residentSummary(ctx context.Context, ref string) *domain.ResidentSummary {
	summary := domain.ResidentSummary{Ref: ref}
	if e.Residents == nil {
		return &summary
	}
	r, ok, err := e.Residents.LookupResident(ctx, ref)
	if err != nil {
		e.Log.Warn().Err(err).Str("resident_ref", ref).Msg("resident lookup failed")
		return &summary
	}
	if ok {
		r.Ref = ref
		return &r
	}
	return &summary
}
