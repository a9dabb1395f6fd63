package project

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/offlinefirst/screenreel/pkg/faults"
)

// Load reads and migrates a project.json file.
func Load(path string) (Project, Migration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Project{}, Migration{}, faults.NewIO("read project", err)
	}
	p, mig, err := Migrate(data)
	if err != nil {
		return p, mig, faults.NewSchema(path, err)
	}
	if err := p.Validate(); err != nil {
		return p, mig, faults.NewSchema(path, err)
	}
	return p, mig, nil
}

// Save writes the project with indentation, replacing the file atomically.
func Save(path string, p Project) error {
	return writeJSONAtomic(path, p)
}

// LoadTimeline reads and migrates a timeline.json file. A missing file yields an empty timeline.
func LoadTimeline(path string) (Timeline, Migration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewTimeline(), Migration{}, nil
		}
		return Timeline{}, Migration{}, faults.NewIO("read timeline", err)
	}
	tl, mig, err := MigrateTimeline(data)
	if err != nil {
		return tl, mig, faults.NewSchema(path, err)
	}
	if err := tl.Validate(); err != nil {
		return tl, mig, faults.NewSchema(path, err)
	}
	return tl, mig, nil
}

// SaveTimeline normalizes and persists the timeline.
func SaveTimeline(path string, tl Timeline) error {
	tl.Normalize()
	if err := tl.Validate(); err != nil {
		return faults.NewSchema(path, err)
	}
	return writeJSONAtomic(path, tl)
}

func writeJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}
	data = append(data, '\n')
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return faults.NewIO("create temp file", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return faults.NewIO("write "+filepath.Base(path), err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return faults.NewIO("sync "+filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		return faults.NewIO("close "+filepath.Base(path), err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return faults.NewIO("replace "+filepath.Base(path), err)
	}
	return nil
}
