// File: internal/transport/contexts.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Process-wide TLS client contexts, one per protocol version.

package transport

import (
	"crypto/tls"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/momentics/hioload-probe/api"
)

// DefaultSessionTimeout is the lifetime of cached client sessions.
const DefaultSessionTimeout = 2 * time.Hour

const sessionCacheSize = 256

var wireVersions = [api.NumTLSVersions]uint16{
	api.TLS10: tls.VersionTLS10,
	api.TLS11: tls.VersionTLS11,
	api.TLS12: tls.VersionTLS12,
	api.TLS13: tls.VersionTLS13,
}

// ContextPool holds one immutable client configuration per TLS version.
// Configurations are never modified after construction, so concurrent
// readers need no locking. Sessions clone before customizing.
type ContextPool struct {
	configs        [api.NumTLSVersions]*tls.Config
	sessionTimeout time.Duration
	keyLog         io.Closer
}

// NewContextPool builds every slot. A non-empty keyLogPath appends TLS
// secrets in NSS key log format for offline traffic analysis.
func NewContextPool(keyLogPath string) (*ContextPool, error) {
	p := &ContextPool{sessionTimeout: DefaultSessionTimeout}
	var keyLog io.Writer
	if keyLogPath != "" {
		f, err := os.OpenFile(keyLogPath, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o600)
		if err != nil {
			return nil, fmt.Errorf("open key log: %w", err)
		}
		keyLog, p.keyLog = f, f
	}
	cache := tls.NewLRUClientSessionCache(sessionCacheSize)
	for v := api.TLS10; v < api.NumTLSVersions; v++ {
		p.configs[v] = &tls.Config{
			MinVersion: wireVersions[v],
			MaxVersion: wireVersions[v],
			// capability probing, not trust evaluation
			InsecureSkipVerify: true, //nolint:gosec
			ClientSessionCache: cache,
			KeyLogWriter:       keyLog,
		}
	}
	return p, nil
}

// Get returns the borrowed configuration for v, or nil when v is out of
// range. Callers must not modify it.
func (p *ContextPool) Get(v api.TLSVersion) *tls.Config {
	if p == nil || !v.Valid() {
		return nil
	}
	return p.configs[v]
}

// SessionTimeout returns the lifetime of cached sessions.
func (p *ContextPool) SessionTimeout() time.Duration { return p.sessionTimeout }

// Close releases the key log file, if any.
func (p *ContextPool) Close() error {
	if p.keyLog == nil {
		return nil
	}
	return p.keyLog.Close()
}

// KeyLogEnv names the environment variable read by Contexts.
const KeyLogEnv = "SSLKEYLOGFILE"

var contexts = sync.OnceValue(func() *ContextPool {
	p, err := NewContextPool(os.Getenv(KeyLogEnv))
	if err != nil {
		// no TLS transport can work without the pool
		log.Fatal("tls context pool construction failed", zap.Error(err))
	}
	return p
})

// Contexts returns the process-wide pool, building it on first use.
func Contexts() *ContextPool { return contexts() }

// WireVersion returns the crypto/tls constant for v.
func WireVersion(v api.TLSVersion) uint16 {
	if !v.Valid() {
		return 0
	}
	return wireVersions[v]
}

// VersionFromWire maps a crypto/tls version constant back to api.TLSVersion.
func VersionFromWire(wire uint16) (api.TLSVersion, bool) {
	for v, w := range wireVersions {
		if w == wire {
			return api.TLSVersion(v), true
		}
	}
	return 0, false
}
