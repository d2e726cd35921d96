// File: internal/transport/alpn.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// ALPN wire-format helpers. Protocol identifiers travel as length-prefixed
// byte strings concatenated into one list, e.g. 0x02 'h' '2'.

package transport

import (
	"fmt"

	"golang.org/x/net/http2"

	"github.com/momentics/hioload-probe/api"
)

// ProtoHTTP11 is the ALPN identifier of HTTP/1.1.
const ProtoHTTP11 = "http/1.1"

// Wire-format identifiers for the protocols the prober offers.
var (
	ALPNHTTP2  = []byte{2, 'h', '2'}
	ALPNHTTP11 = []byte{8, 'h', 't', 't', 'p', '/', '1', '.', '1'}
)

// EncodeALPN builds the wire list for protos.
func EncodeALPN(protos ...string) ([]byte, error) {
	var out []byte
	for _, p := range protos {
		if len(p) == 0 || len(p) > 255 {
			return nil, fmt.Errorf("protocol %q: %w", p, api.ErrBadALPN)
		}
		out = append(out, byte(len(p)))
		out = append(out, p...)
	}
	return out, nil
}

// DecodeALPN splits a wire list into protocol names.
func DecodeALPN(wire []byte) ([]string, error) {
	var protos []string
	for i := 0; i < len(wire); {
		l := int(wire[i])
		i++
		if l == 0 || i+l > len(wire) {
			return nil, fmt.Errorf("entry at offset %d: %w", i-1, api.ErrBadALPN)
		}
		protos = append(protos, string(wire[i:i+l]))
		i += l
	}
	return protos, nil
}

// HTTPVersionFor maps a negotiated ALPN name onto an HTTP version: "h2" is
// HTTP/2, any other non-empty name HTTP/1.1, nothing negotiated is unknown.
func HTTPVersionFor(proto string) api.HTTPVersion {
	switch proto {
	case "":
		return api.HTTPUnknown
	case http2.NextProtoTLS:
		return api.HTTP2
	default:
		return api.HTTP11
	}
}
