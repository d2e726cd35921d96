//go:build linux

package client_test

import (
	"bufio"
	"context"
	"net"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-probe/api"
	"github.com/momentics/hioload-probe/client"
)

func TestLoopbackExchange(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer c.Close()
				line, _ := bufio.NewReader(c).ReadString('\n')
				_, _ = c.Write([]byte("echo: " + line))
			}()
		}
	}()
	_, portStr, _ := net.SplitHostPort(ln.Addr().String())
	port, _ := strconv.Atoi(portStr)

	p := client.NewConnectionPool(client.WithMaxWorkers(4))
	t.Cleanup(func() { _ = p.Close() })

	hs := make([]client.Handle, 8)
	for i := range hs {
		hs[i], err = p.Add(context.Background(), "127.0.0.1", []byte("ping "+strconv.Itoa(i)+"\n"), uint16(port), api.KindPlain)
		require.NoError(t, err)
	}
	p.WaitAll()
	for i, h := range hs {
		data, ok := p.GetData(h)
		require.True(t, ok, "handle %d: %v", h, p.Err(h))
		assert.Equal(t, "echo: ping "+strconv.Itoa(i)+"\n", string(data))
	}
	assert.Len(t, p.Completed(), len(hs))
}
