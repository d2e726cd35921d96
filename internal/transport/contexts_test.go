package transport

import (
	"crypto/tls"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-probe/api"
)

func TestContextPoolSlots(t *testing.T) {
	p, err := NewContextPool("")
	require.NoError(t, err)

	want := map[api.TLSVersion]uint16{
		api.TLS10: tls.VersionTLS10,
		api.TLS11: tls.VersionTLS11,
		api.TLS12: tls.VersionTLS12,
		api.TLS13: tls.VersionTLS13,
	}
	for v, wire := range want {
		cfg := p.Get(v)
		require.NotNil(t, cfg, v.String())
		assert.Equal(t, wire, cfg.MinVersion)
		assert.Equal(t, wire, cfg.MaxVersion)
		assert.Same(t, p.Get(api.TLS10).ClientSessionCache, cfg.ClientSessionCache)

		back, ok := VersionFromWire(wire)
		assert.True(t, ok)
		assert.Equal(t, v, back)
		assert.Equal(t, wire, WireVersion(v))
	}
	assert.Nil(t, p.Get(api.NumTLSVersions))
	assert.Nil(t, p.Get(-1))
	assert.Zero(t, WireVersion(api.NumTLSVersions))
	require.NoError(t, p.Close())
}

func TestContextPoolKeyLog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys.log")
	p, err := NewContextPool(path)
	require.NoError(t, err)
	assert.NotNil(t, p.Get(api.TLS12).KeyLogWriter)
	require.NoError(t, p.Close())
	_, err = os.Stat(path)
	assert.NoError(t, err)

	_, err = NewContextPool(filepath.Join(t.TempDir(), "missing", "keys.log"))
	assert.Error(t, err)
}

func TestContextsSingleton(t *testing.T) {
	assert.Same(t, Contexts(), Contexts())
}
