package spawn

import (
	"encoding/json"
	"os"

	"github.com/maestro-hq/maestrod/pkg/cerr"
)

// Manifest is the session configuration file produced by the external tool.
// The core validates only version and role; the nested sections are passed
// through to the launching consumer untouched.
type Manifest struct {
	Version string          `json:"version"`
	Role    string          `json:"role"`
	Project json.RawMessage `json:"project,omitempty"`
	Session json.RawMessage `json:"session,omitempty"`
	Tasks   json.RawMessage `json:"tasks,omitempty"`
	Skills  json.RawMessage `json:"skills,omitempty"`
}

// ParseManifest decodes and validates manifest JSON. Missing version or role
// is an error here, unlike the permissive entity load path: a manifest the
// launcher cannot use must be reported, not tolerated.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, cerr.NewError(cerr.Manifest, "manifest is not valid JSON", err)
	}
	if m.Version == "" {
		return nil, cerr.NewError(cerr.Manifest, "manifest is missing the version field", nil)
	}
	if m.Role == "" {
		return nil, cerr.NewError(cerr.Manifest, "manifest is missing the role field", nil)
	}
	return &m, nil
}

// ReadManifest loads and validates the manifest file at path.
func ReadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, cerr.Newf(cerr.Manifest, "read manifest %s: %v", path, err)
	}
	return ParseManifest(data)
}
