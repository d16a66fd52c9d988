package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/latticemw/rtpscore/core/qos"
)

const sample = `
[participant]
domain_id = 7
bind_address = "127.0.0.1:7400"
lease_duration = "10s"

[logging]
level = "debug"

[profile.reliable]
reliability = "reliable"
durability = "transient_local"
heartbeat_period = "500ms"
history_kind = "keep_last"
history_depth = 4

[[endpoint]]
kind = "writer"
topic = "demo/topic"
type_name = "demo.Type"
profile = "reliable"
`

func writeSample(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "rtps.toml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0644))
	return path
}

func TestLoadAndResolve(t *testing.T) {
	path := writeSample(t)
	c, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, 7, c.Participant.DomainID)
	require.Len(t, c.Endpoints, 1)
	require.Equal(t, "writer", c.Endpoints[0].Kind)

	q, err := c.Resolve("reliable")
	require.NoError(t, err)
	require.Equal(t, qos.Reliable, q.Reliability.Kind)
	require.Equal(t, qos.TransientLocal, q.Durability.Kind)
	require.Equal(t, qos.KeepLast, q.History.Kind)
	require.Equal(t, 4, q.History.Depth)
}

func TestResolveUnknownProfile(t *testing.T) {
	path := writeSample(t)
	c, err := Load(path)
	require.NoError(t, err)

	_, err = c.Resolve("missing")
	require.Error(t, err)
}
