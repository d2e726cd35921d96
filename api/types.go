// File: api/types.go
// Author: momentics <momentics@gmail.com>
//
// Shared API-level type declarations and constants.

package api

import (
	"fmt"
	"time"
)

// TLSVersion indexes the supported client protocol versions.
type TLSVersion int

const (
	TLS10 TLSVersion = iota
	TLS11
	TLS12
	TLS13
	NumTLSVersions
)

func (v TLSVersion) String() string {
	switch v {
	case TLS10:
		return "TLS1.0"
	case TLS11:
		return "TLS1.1"
	case TLS12:
		return "TLS1.2"
	case TLS13:
		return "TLS1.3"
	default:
		return fmt.Sprintf("TLSVersion(%d)", int(v))
	}
}

// Valid reports whether v names a pool slot.
func (v TLSVersion) Valid() bool { return v >= TLS10 && v < NumTLSVersions }

// HTTPVersion is the application protocol selected through ALPN.
type HTTPVersion int

const (
	HTTPUnknown HTTPVersion = iota
	HTTP11
	HTTP2
)

func (v HTTPVersion) String() string {
	switch v {
	case HTTP11:
		return "HTTP/1.1"
	case HTTP2:
		return "HTTP/2.0"
	default:
		return "unknown"
	}
}

// ProtocolKind selects the transport variant for a connection.
type ProtocolKind int

const (
	KindPlain ProtocolKind = iota
	KindTLS10
	KindTLS11
	KindTLS12
	KindTLS13
)

// IsTLS reports whether the kind requires a TLS session.
func (k ProtocolKind) IsTLS() bool { return k >= KindTLS10 && k <= KindTLS13 }

// TLSVersion returns the context pool slot for a TLS kind.
func (k ProtocolKind) TLSVersion() TLSVersion {
	return TLSVersion(k - KindTLS10)
}

// KindFor returns the ProtocolKind of a TLS version.
func KindFor(v TLSVersion) ProtocolKind {
	return ProtocolKind(v) + KindTLS10
}

func (k ProtocolKind) String() string {
	if k == KindPlain {
		return "tcp"
	}
	if k.IsTLS() {
		return k.TLSVersion().String()
	}
	return fmt.Sprintf("ProtocolKind(%d)", int(k))
}

// Process-level defaults.
const (
	DefaultPlainTimeout   = 5 * time.Second
	DefaultTLSTimeout     = 7 * time.Second
	DefaultRetryWait      = 3000 * time.Millisecond
	DefaultChunkSize      = 250
	DefaultBulkBufferSize = 1 << 20
	DefaultSupervisorTick = time.Second
	DefaultGracePeriod    = 2 * time.Minute
)
