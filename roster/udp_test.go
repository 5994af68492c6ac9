package roster

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/fancoin/rostermint/logging"
)

// serveUDP answers every datagram with the replies of handle.
func serveUDP(t *testing.T, handle func(req []byte) [][]byte) Server {
	t.Helper()
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	go func() {
		buf := make([]byte, 2048)
		for {
			n, addr, err := conn.ReadFrom(buf)
			if err != nil {
				return
			}
			for _, reply := range handle(append([]byte(nil), buf[:n]...)) {
				_, _ = conn.WriteTo(reply, addr)
			}
		}
	}()
	server, err := ParseServer(conn.LocalAddr().String())
	require.NoError(t, err)
	return server
}

func testContext(t *testing.T) context.Context {
	return logging.NewContext(context.Background(), zaptest.NewLogger(t))
}
