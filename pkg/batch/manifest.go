// Package batch runs many filter jobs described by a JSON manifest and reports on them.
package batch

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed manifest.schema.json
var manifestSchema string

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

func getSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiledSchema, schemaErr = jsonschema.CompileString("manifest.schema.json", manifestSchema)
	})
	return compiledSchema, schemaErr
}

// Radius accepts either a JSON number or an array of numbers.
type Radius []float64

// UnmarshalJSON implements json.Unmarshaler.
func (r *Radius) UnmarshalJSON(b []byte) error {
	var single float64
	if err := json.Unmarshal(b, &single); err == nil {
		*r = Radius{single}
		return nil
	}
	var perAxis []float64
	if err := json.Unmarshal(b, &perAxis); err != nil {
		return fmt.Errorf("radius must be a number or an array of numbers: %w", err)
	}
	*r = perAxis
	return nil
}

// Job is one input/output pair of a manifest.
type Job struct {
	Input           string `json:"input"`
	Output          string `json:"output"`
	Operation       string `json:"operation,omitempty"`
	Radius          Radius `json:"radius"`
	UseImageSpacing *bool  `json:"useImageSpacing,omitempty"`
	Compression     string `json:"compression,omitempty"`
	Verify          bool   `json:"verify,omitempty"`
}

// Manifest lists the jobs of a batch run.
type Manifest struct {
	Jobs     []Job `json:"jobs"`
	Workers  int   `json:"workers,omitempty"`
	Parallel int   `json:"parallel,omitempty"`
}

// ParseManifest validates data against the manifest schema and decodes it. Relative
// paths are resolved against baseDir.
func ParseManifest(data []byte, baseDir string) (*Manifest, error) {
	sch, err := getSchema()
	if err != nil {
		return nil, fmt.Errorf("could not compile manifest schema: %w", err)
	}
	var v interface{}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("manifest is not valid JSON: %w", err)
	}
	if err := sch.Validate(v); err != nil {
		return nil, fmt.Errorf("invalid manifest: %w", err)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("could not decode manifest: %w", err)
	}
	if m.Parallel < 1 {
		m.Parallel = 1
	}
	if m.Workers < 1 {
		m.Workers = 1
	}
	for i := range m.Jobs {
		m.Jobs[i].Input = resolve(baseDir, m.Jobs[i].Input)
		m.Jobs[i].Output = resolve(baseDir, m.Jobs[i].Output)
	}
	return &m, nil
}

// LoadManifest reads and validates the manifest at path.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading manifest: %w", err)
	}
	m, err := ParseManifest(data, filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

func resolve(baseDir, p string) string {
	if baseDir == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(baseDir, p)
}
