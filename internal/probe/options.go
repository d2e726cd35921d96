package probe

import (
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/momentics/hioload-probe/api"
	"github.com/momentics/hioload-probe/internal/transport"
	"github.com/momentics/hioload-probe/pool"
)

type config struct {
	versions    []api.TLSVersion
	alpn        []string
	ciphers     []string
	taskTimeout time.Duration
	chunkSize   int
	parallel    int
	transport   []transport.Option
	bufs        api.BytePool
	logger      *zap.Logger
}

// Option configures a Prober.
type Option func(*config) error

// WithVersions limits the probed TLS versions.
func WithVersions(vs ...api.TLSVersion) Option {
	return func(c *config) error {
		for _, v := range vs {
			if !v.Valid() {
				return errors.New("invalid tls version")
			}
		}
		c.versions = vs
		return nil
	}
}

// WithALPN sets the protocols offered during the version handshakes.
func WithALPN(protos ...string) Option {
	return func(c *config) error {
		if _, err := transport.EncodeALPN(protos...); err != nil && len(protos) > 0 {
			return err
		}
		c.alpn = protos
		return nil
	}
}

// WithCiphers restricts the offered TLS 1.0-1.2 cipher suites.
func WithCiphers(names ...string) Option {
	return func(c *config) error {
		c.ciphers = names
		return nil
	}
}

// WithTaskTimeout bounds one handshake task.
func WithTaskTimeout(d time.Duration) Option {
	return func(c *config) error {
		if d <= 0 {
			return errors.New("task timeout must be positive")
		}
		c.taskTimeout = d
		return nil
	}
}

// WithChunkSize sets the read size used while waiting for the HEAD
// response header.
func WithChunkSize(n int) Option {
	return func(c *config) error {
		if n <= 0 {
			return errors.New("chunk size must be positive")
		}
		c.chunkSize = n
		return nil
	}
}

// WithParallelHosts bounds how many hosts ProbeAll inspects at once.
func WithParallelHosts(n int) Option {
	return func(c *config) error {
		c.parallel = n
		return nil
	}
}

// WithTransportOptions is passed to every TLS socket the prober opens.
func WithTransportOptions(opts ...transport.Option) Option {
	return func(c *config) error {
		c.transport = append(c.transport, opts...)
		return nil
	}
}

// WithBufferPool sets where HEAD response buffers come from.
func WithBufferPool(bp api.BytePool) Option {
	return func(c *config) error {
		c.bufs = bp
		return nil
	}
}

// WithLogger replaces the package logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *config) error {
		c.logger = l
		return nil
	}
}

func defaultConfig() config {
	return config{
		versions:    []api.TLSVersion{api.TLS10, api.TLS11, api.TLS12, api.TLS13},
		alpn:        []string{"h2", transport.ProtoHTTP11},
		taskTimeout: 3 * api.DefaultTLSTimeout,
		chunkSize:   api.DefaultChunkSize,
		parallel:    8,
		bufs:        pool.Bulk(),
		logger:      log,
	}
}
