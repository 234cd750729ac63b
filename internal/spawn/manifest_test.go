package spawn

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maestro-hq/maestrod/pkg/cerr"
)

func TestParseManifest(t *testing.T) {
	m, err := ParseManifest([]byte(`{"version":"2","role":"orchestrator","tasks":[{"id":"task-1"}]}`))
	require.NoError(t, err)
	assert.Equal(t, "2", m.Version)
	assert.Equal(t, "orchestrator", m.Role)
	assert.NotEmpty(t, m.Tasks)
}

func TestParseManifestErrors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{name: "not json", data: `version: 1`},
		{name: "missing version", data: `{"role":"worker"}`},
		{name: "missing role", data: `{"version":"1"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseManifest([]byte(tt.data))
			require.Error(t, err)
			assert.Equal(t, cerr.Manifest, cerr.CodeOf(err))
		})
	}
}
