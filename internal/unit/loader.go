package unit

import (
	"encoding/json"
	"fmt"
	"os"
)

// Export mirrors the decomposition export file: a flat list of functions,
// optionally pre-grouped into modules by the upstream librarian. Both shapes
// are accepted; grouping is irrelevant here because every function becomes
// an independent unit.
type Export struct {
	Functions []Function `json:"functions"`
	Modules   []struct {
		ModuleName string     `json:"module_name"`
		Functions  []Function `json:"functions"`
	} `json:"modules,omitempty"`
}

// LoadExport reads a decomposition export file and returns one Context per
// function. Functions without variables are skipped: there is nothing to
// decide and the oracle would be forced to hallucinate.
func LoadExport(path string) ([]Context, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read export: %w", err)
	}

	var exp Export
	if err := json.Unmarshal(data, &exp); err != nil {
		return nil, fmt.Errorf("failed to parse export %s: %w", path, err)
	}

	fns := exp.Functions
	for _, m := range exp.Modules {
		fns = append(fns, m.Functions...)
	}
	if len(fns) == 0 {
		return nil, fmt.Errorf("export %s contains no functions", path)
	}

	units := make([]Context, 0, len(fns))
	for _, fn := range fns {
		if len(fn.Variables) == 0 {
			continue
		}
		units = append(units, FromFunction(fn))
	}
	return units, nil
}
