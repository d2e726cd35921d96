// File: internal/transport/tls.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// TLS client transport layered over a Socket's descriptor.

package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/momentics/hioload-probe/api"
)

// TLSSocket runs a TLS session on top of a plain Socket. The session exists
// only between a successful handshake and Close or a fatal error.
type TLSSocket struct {
	sock    *Socket
	version api.TLSVersion
	pool    *ContextPool
	cfg     *tls.Config // per-session clone, nil until customized
	shim    *fdConn
	conn    *tls.Conn
}

var _ api.Transport = (*TLSSocket)(nil)

// NewTLSSocket creates an unconnected TLS transport pinned to version.
func NewTLSSocket(version api.TLSVersion, opts ...Option) (*TLSSocket, error) {
	o := buildOptions(api.DefaultTLSTimeout, opts)
	if o.pool == nil {
		o.pool = Contexts()
	}
	if o.pool.Get(version) == nil {
		return nil, fmt.Errorf("tls version %v: %w", version, api.ErrInvalidArgument)
	}
	s, err := newSocket(kindTLS, o)
	if err != nil {
		return nil, err
	}
	return &TLSSocket{sock: s, version: version, pool: o.pool}, nil
}

func (t *TLSSocket) config() *tls.Config {
	if t.cfg == nil {
		t.cfg = t.pool.Get(t.version).Clone()
	}
	return t.cfg
}

// SetCipherList restricts the session to the named suites. Unknown names
// are dropped; an empty result fails and leaves the session unchanged.
// TLS 1.3 suites are not configurable and ignore the list.
func (t *TLSSocket) SetCipherList(names ...string) error {
	known := make(map[string]uint16)
	for _, cs := range tls.CipherSuites() {
		known[cs.Name] = cs.ID
	}
	for _, cs := range tls.InsecureCipherSuites() {
		known[cs.Name] = cs.ID
	}
	var ids []uint16
	for _, n := range names {
		if id, ok := known[n]; ok {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return fmt.Errorf("cipher list %v: %w", names, api.ErrNoCiphers)
	}
	t.config().CipherSuites = ids
	return nil
}

// SetALPN offers the protocols of a length-prefixed wire list.
func (t *TLSSocket) SetALPN(wire []byte) error {
	protos, err := DecodeALPN(wire)
	if err != nil {
		return err
	}
	t.config().NextProtos = protos
	return nil
}

// SetALPNProtocols offers protos by name.
func (t *TLSSocket) SetALPNProtocols(protos ...string) error {
	wire, err := EncodeALPN(protos...)
	if err != nil {
		return err
	}
	return t.SetALPN(wire)
}

// SetServerName overrides the SNI value derived from the Connect host.
func (t *TLSSocket) SetServerName(name string) {
	t.config().ServerName = name
}

// Connect establishes TCP and then runs the TLS handshake. Any handshake
// failure closes the transport.
func (t *TLSSocket) Connect(ctx context.Context, host string, port uint16) error {
	if t.conn != nil {
		return fmt.Errorf("connect %s: already connected: %w", host, api.ErrInvalidArgument)
	}
	if err := t.sock.Connect(ctx, host, port); err != nil {
		return err
	}
	defer t.sock.watch(ctx)()

	cfg := t.config()
	if cfg.ServerName == "" && net.ParseIP(host) == nil {
		cfg.ServerName = host
	}
	t.shim = newFDConn(t.sock)
	t.shim.arm(ctx, t.sock.opts.timeout)
	conn := tls.Client(t.shim, cfg)
	err := conn.Handshake()
	t.sock.opts.metrics.handshake(t.version.String(), err)
	if err != nil {
		return t.fatal("handshake", fmt.Errorf("%w: %w", api.ErrHandshake, err))
	}
	t.conn = conn
	st := conn.ConnectionState()
	t.sock.opts.logger.Debug("tls session established",
		zap.String("host", host),
		zap.String("version", tls.VersionName(st.Version)),
		zap.String("cipher", tls.CipherSuiteName(st.CipherSuite)),
		zap.String("alpn", st.NegotiatedProtocol))
	return nil
}

// Send writes all of p as TLS records.
func (t *TLSSocket) Send(ctx context.Context, p []byte) (int, error) {
	if err := t.usable(); err != nil {
		return 0, err
	}
	defer t.sock.watch(ctx)()
	t.shim.arm(ctx, t.sock.opts.timeout)
	n, err := t.conn.Write(p)
	if err != nil {
		return n, t.fatal("send", err)
	}
	return n, nil
}

// Recv mirrors Socket.Recv over decrypted application data.
func (t *TLSSocket) Recv(ctx context.Context, p []byte, noWait bool) (int, error) {
	if err := t.usable(); err != nil {
		return 0, err
	}
	if len(p) == 0 {
		return 0, nil
	}
	defer t.sock.watch(ctx)()
	t.shim.arm(ctx, t.sock.opts.timeout)
	total := 0
	for total < len(p) {
		n, err := t.conn.Read(p[total:])
		total += n
		switch {
		case err == nil:
			if noWait {
				return total, nil
			}
		case errors.Is(err, io.EOF):
			if total == 0 {
				return 0, io.EOF
			}
			return total, nil
		case isTimeout(err):
			if total > 0 {
				return total, nil
			}
			if noWait && errors.Is(err, api.ErrWouldBlock) {
				return 0, api.ErrWouldBlock
			}
			return 0, t.fatal("recv", err)
		default:
			return total, t.fatal("recv", err)
		}
	}
	return total, nil
}

// RecvToEnd mirrors Socket.RecvToEnd over decrypted application data.
func (t *TLSSocket) RecvToEnd(ctx context.Context, p []byte) (int, error) {
	if err := t.usable(); err != nil {
		return 0, err
	}
	defer t.sock.watch(ctx)()
	t.shim.arm(ctx, t.sock.opts.timeout)
	total := 0
	for total < len(p) {
		n, err := t.conn.Read(p[total:])
		total += n
		switch {
		case err == nil, errors.Is(err, api.ErrWouldBlock):
		case errors.Is(err, io.EOF):
			return total, nil
		case errors.Is(err, api.ErrOperationTimeout) && total > 0:
			return total, nil
		default:
			return total, t.fatal("recv", err)
		}
	}
	return total, nil
}

// RecvChunked mirrors Socket.RecvChunked over decrypted application data.
func (t *TLSSocket) RecvChunked(ctx context.Context, p []byte, done api.CompletionFunc, chunkSize int) (int, error) {
	if err := t.usable(); err != nil {
		return 0, err
	}
	if chunkSize <= 0 {
		chunkSize = api.DefaultChunkSize
	}
	defer t.sock.watch(ctx)()
	t.shim.arm(ctx, t.sock.opts.timeout)
	total := 0
	for total < len(p) {
		end := min(total+chunkSize, len(p))
		n, err := t.conn.Read(p[total:end])
		total += n
		switch {
		case err == nil:
			if n > 0 && done != nil && done(p[:total], total) {
				return total, nil
			}
		case errors.Is(err, io.EOF):
			if total == 0 {
				return 0, io.EOF
			}
			return total, nil
		case isTimeout(err) && total > 0:
			return total, nil
		default:
			return total, t.fatal("recv", err)
		}
	}
	return total, nil
}

// Shutdown acts on the underlying TCP connection.
func (t *TLSSocket) Shutdown(how api.ShutdownHow) error { return t.sock.Shutdown(how) }

// Close sends close_notify when a healthy session exists, then releases
// the descriptor. Repeated calls are no-ops.
func (t *TLSSocket) Close() error {
	if t.conn != nil && !t.sock.failed {
		t.shim.arm(context.Background(), t.sock.opts.retryWait)
		// crypto/tls sends close_notify once and caches the outcome, so the
		// peer's reply is not awaited
		if err := t.conn.CloseWrite(); err != nil {
			t.sock.opts.logger.Debug("close_notify failed", zap.Error(err))
		}
	}
	t.conn = nil
	return t.sock.Close()
}

// IsError reports whether a fatal error closed the transport.
func (t *TLSSocket) IsError() bool { return t.sock.IsError() }

// RawFD returns the underlying descriptor, or api.InvalidFD.
func (t *TLSSocket) RawFD() int { return t.sock.RawFD() }

// Timeout returns the per-operation deadline budget.
func (t *TLSSocket) Timeout() time.Duration { return t.sock.Timeout() }

// SetTimeout replaces the per-operation deadline budget.
func (t *TLSSocket) SetTimeout(d time.Duration) { t.sock.SetTimeout(d) }

// Version returns the negotiated protocol version, or the offered one
// before the handshake.
func (t *TLSSocket) Version() api.TLSVersion {
	if t.conn == nil {
		return t.version
	}
	if v, ok := VersionFromWire(t.conn.ConnectionState().Version); ok {
		return v
	}
	return t.version
}

// ConnectionState exposes the crypto/tls session state.
func (t *TLSSocket) ConnectionState() (tls.ConnectionState, bool) {
	if t.conn == nil {
		return tls.ConnectionState{}, false
	}
	return t.conn.ConnectionState(), true
}

// NegotiatedProtocol returns the ALPN name the server selected.
func (t *TLSSocket) NegotiatedProtocol() string {
	st, _ := t.ConnectionState()
	return st.NegotiatedProtocol
}

// SelectedProtocol maps the negotiated ALPN name onto an HTTP version.
func (t *TLSSocket) SelectedProtocol() api.HTTPVersion {
	return HTTPVersionFor(t.NegotiatedProtocol())
}

// CipherName returns the negotiated cipher suite name, or "" before the
// handshake.
func (t *TLSSocket) CipherName() string {
	st, ok := t.ConnectionState()
	if !ok {
		return ""
	}
	return tls.CipherSuiteName(st.CipherSuite)
}

// SessionTimeout returns the lifetime of the cached session.
func (t *TLSSocket) SessionTimeout() time.Duration { return t.pool.SessionTimeout() }

func (t *TLSSocket) usable() error {
	if t.conn == nil {
		return api.ErrTransportClosed
	}
	return t.sock.usable()
}

// fatal drops the session without close_notify and closes the socket.
func (t *TLSSocket) fatal(op string, err error) error {
	t.conn = nil
	return t.sock.fatal(op, err)
}
