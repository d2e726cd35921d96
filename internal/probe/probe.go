package probe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/momentics/hioload-probe/api"
	"github.com/momentics/hioload-probe/internal/concurrency"
	"github.com/momentics/hioload-probe/internal/logging"
	"github.com/momentics/hioload-probe/internal/transport"
)

var log = logging.Logger("probe")

// exit codes reported through TaskContext
const (
	exitOK        = 0
	exitSetup     = 2
	exitHandshake = 3
	exitRequest   = 4
)

var headerEnd = []byte("\r\n\r\n")

// headerComplete stops a chunked read once the response header is in.
func headerComplete(buf []byte, _ int) bool {
	return bytes.Contains(buf, headerEnd)
}

// Prober runs probes on a shared TaskManager.
type Prober struct {
	tm  *concurrency.TaskManager
	cfg config
}

// New creates a Prober scheduling its handshakes on tm.
func New(tm *concurrency.TaskManager, opts ...Option) (*Prober, error) {
	if tm == nil {
		return nil, fmt.Errorf("task manager: %w", api.ErrInvalidArgument)
	}
	cfg := defaultConfig()
	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}
	return &Prober{tm: tm, cfg: cfg}, nil
}

// Probe handshakes with host:port once per configured TLS version, then
// sends HEAD / over the highest supported version.
func (p *Prober) Probe(ctx context.Context, host string, port uint16) (*Report, error) {
	rep := &Report{Host: host, Port: port, HTTPVersion: api.HTTPUnknown.String()}
	results := make([]VersionResult, len(p.cfg.versions))
	handles := make([]api.TaskHandle, len(p.cfg.versions))

	for i, v := range p.cfg.versions {
		res := &results[i]
		res.version, res.Version = v, v.String()
		tc := concurrency.NewTaskContext(taskName(host, port, v.String()), p.cfg.taskTimeout)
		h, err := p.tm.AddTask(func(ctx context.Context, tc *concurrency.TaskContext) error {
			return p.handshake(ctx, tc, host, port, res)
		}, tc)
		if err != nil {
			return nil, err
		}
		handles[i] = h
		defer context.AfterFunc(ctx, func() { _ = p.tm.SkipTask(h) })()
	}

	for i, h := range handles {
		status, err := p.await(ctx, h)
		if err != nil {
			return nil, err
		}
		results[i].Status = status.String()
		if status == api.TaskTimeout && results[i].Error == "" {
			results[i].Code = api.ErrCodeTimeout.String()
			results[i].Error = api.ErrTaskTimeout.Error()
		}
	}
	rep.Versions = results

	best, ok := highest(results)
	if !ok {
		rep.Error = "no tls version completed a handshake"
		return rep, nil
	}
	rep.Best = best.String()
	rep.HTTPVersion = results[indexOf(p.cfg.versions, best)].httpVersion().String()

	var line string
	var reqErr error
	tc := concurrency.NewTaskContext(taskName(host, port, "HEAD"), p.cfg.taskTimeout)
	h, err := p.tm.AddTask(func(ctx context.Context, tc *concurrency.TaskContext) error {
		line, reqErr = p.head(ctx, tc, host, port, best)
		return reqErr
	}, tc)
	if err != nil {
		return nil, err
	}
	defer context.AfterFunc(ctx, func() { _ = p.tm.SkipTask(h) })()
	status, err := p.await(ctx, h)
	if err != nil {
		return nil, err
	}
	switch {
	case reqErr != nil:
		rep.Error = reqErr.Error()
	case status == api.TaskTimeout:
		rep.Error = api.ErrTaskTimeout.Error()
	default:
		rep.StatusLine = line
	}
	return rep, nil
}

// ProbeAll probes every host concurrently, bounded by WithParallelHosts.
// Reports keep the order of hosts; a host whose probe failed outright
// carries the error in its report.
func (p *Prober) ProbeAll(ctx context.Context, hosts []string, port uint16) ([]*Report, error) {
	reps := make([]*Report, len(hosts))
	g, gctx := errgroup.WithContext(ctx)
	if p.cfg.parallel > 0 {
		g.SetLimit(p.cfg.parallel)
	}
	for i, host := range hosts {
		g.Go(func() error {
			rep, err := p.Probe(gctx, host, port)
			if err != nil {
				if ctx.Err() != nil {
					return err
				}
				perr := api.NewError(api.Classify(err), "probe failed").WithContext("host", host).Wrap(err)
				rep = &Report{Host: host, Port: port, HTTPVersion: api.HTTPUnknown.String(), Error: perr.Error()}
			}
			reps[i] = rep
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return reps, nil
}

// await waits for the task worker and claims its result. The caller
// skips the task when ctx is cancelled.
func (p *Prober) await(ctx context.Context, h api.TaskHandle) (api.TaskStatus, error) {
	if err := p.tm.Wait(context.WithoutCancel(ctx), h); err != nil {
		return api.TaskIdle, err
	}
	if err := ctx.Err(); err != nil {
		return api.TaskSkip, context.Cause(ctx)
	}
	status, err := p.tm.Status(h)
	if err != nil {
		return api.TaskIdle, err
	}
	if _, err := p.tm.Collect(h); err != nil && !errors.Is(err, api.ErrNotFound) {
		return status, err
	}
	return status, nil
}

func (p *Prober) handshake(ctx context.Context, tc *concurrency.TaskContext, host string, port uint16, res *VersionResult) error {
	s, err := transport.NewTLSSocket(res.version, p.cfg.transport...)
	if err != nil {
		tc.SetExitCode(exitSetup)
		res.Code, res.Error = api.Classify(err).String(), err.Error()
		return err
	}
	defer s.Close()
	if err := p.prepare(s, p.cfg.alpn); err != nil {
		tc.SetExitCode(exitSetup)
		res.Code, res.Error = api.Classify(err).String(), err.Error()
		return err
	}
	err = s.Connect(ctx, host, port)
	res.Code = api.Classify(err).String()
	if err != nil {
		tc.SetExitCode(exitHandshake)
		res.Error = err.Error()
		p.cfg.logger.Debug("handshake failed", zap.String("task", tc.Name()), zap.Error(err))
		return err
	}
	res.Supported = true
	res.Cipher = s.CipherName()
	res.ALPN = s.NegotiatedProtocol()
	tc.SetExitCode(exitOK)
	return nil
}

// head sends HEAD / over HTTP/1.1 and returns the response status line.
func (p *Prober) head(ctx context.Context, tc *concurrency.TaskContext, host string, port uint16, v api.TLSVersion) (string, error) {
	s, err := transport.NewTLSSocket(v, p.cfg.transport...)
	if err != nil {
		tc.SetExitCode(exitSetup)
		return "", err
	}
	defer s.Close()
	if err := p.prepare(s, []string{transport.ProtoHTTP11}); err != nil {
		tc.SetExitCode(exitSetup)
		return "", err
	}
	if err := s.Connect(ctx, host, port); err != nil {
		tc.SetExitCode(exitHandshake)
		return "", err
	}

	req := "HEAD / HTTP/1.1\r\nHost: " + hostHeader(host, port) + "\r\nUser-Agent: hioload-probe\r\nConnection: close\r\n\r\n"
	if _, err := s.Send(ctx, []byte(req)); err != nil {
		tc.SetExitCode(exitRequest)
		return "", err
	}
	buf := p.cfg.bufs.GetBuffer()
	defer p.cfg.bufs.PutBuffer(buf)
	n, err := s.RecvChunked(ctx, buf, headerComplete, p.cfg.chunkSize)
	if err != nil {
		tc.SetExitCode(exitRequest)
		return "", err
	}
	line, _, _ := bytes.Cut(buf[:n], []byte("\r\n"))
	if !bytes.HasPrefix(line, []byte("HTTP/")) {
		tc.SetExitCode(exitRequest)
		return "", fmt.Errorf("unexpected response %q", truncate(line, 64))
	}
	tc.SetExitCode(exitOK)
	return string(line), nil
}

func (p *Prober) prepare(s *transport.TLSSocket, alpn []string) error {
	if len(alpn) > 0 {
		if err := s.SetALPNProtocols(alpn...); err != nil {
			return err
		}
	}
	if len(p.cfg.ciphers) > 0 {
		if err := s.SetCipherList(p.cfg.ciphers...); err != nil {
			return err
		}
	}
	return nil
}

func (r VersionResult) httpVersion() api.HTTPVersion {
	return transport.HTTPVersionFor(r.ALPN)
}

func highest(results []VersionResult) (api.TLSVersion, bool) {
	var best api.TLSVersion
	found := false
	for _, r := range results {
		if r.Supported && (!found || r.version > best) {
			best, found = r.version, true
		}
	}
	return best, found
}

func indexOf(vs []api.TLSVersion, v api.TLSVersion) int {
	for i, x := range vs {
		if x == v {
			return i
		}
	}
	return -1
}

func taskName(host string, port uint16, what string) string {
	return net.JoinHostPort(host, strconv.Itoa(int(port))) + "/" + what
}

func hostHeader(host string, port uint16) string {
	if port == 443 {
		if strings.Contains(host, ":") {
			return "[" + host + "]"
		}
		return host
	}
	return net.JoinHostPort(host, strconv.Itoa(int(port)))
}

func truncate(b []byte, n int) []byte {
	if len(b) > n {
		return b[:n]
	}
	return b
}
