// File: client/transport_client.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package client

import (
	"fmt"

	"github.com/momentics/hioload-probe/api"
	"github.com/momentics/hioload-probe/internal/transport"
)

// TransportFactory builds an unconnected transport for one protocol kind.
type TransportFactory func(kind api.ProtocolKind) (api.Transport, error)

// NewTransport returns a plain socket for api.KindPlain and a TLS socket
// pinned to the kind's version otherwise.
func NewTransport(kind api.ProtocolKind, opts ...transport.Option) (api.Transport, error) {
	if kind == api.KindPlain {
		return transport.NewSocket(opts...)
	}
	if !kind.IsTLS() {
		return nil, fmt.Errorf("protocol kind %v: %w", kind, api.ErrInvalidArgument)
	}
	return transport.NewTLSSocket(kind.TLSVersion(), opts...)
}

// Factory binds opts into a TransportFactory.
func Factory(opts ...transport.Option) TransportFactory {
	return func(kind api.ProtocolKind) (api.Transport, error) {
		return NewTransport(kind, opts...)
	}
}
