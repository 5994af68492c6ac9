package roster

import (
	"bytes"
	"context"
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func a2sPlayers(names ...string) []byte {
	out := append([]byte(nil), oobHeader...)
	out = append(out, a2sPlayerResponse, byte(len(names)))
	for i, name := range names {
		out = append(out, byte(i))
		out = append(out, name...)
		out = append(out, 0)
		out = binary.LittleEndian.AppendUint32(out, uint32(i*10))
		out = binary.LittleEndian.AppendUint32(out, 0)
	}
	return out
}

func TestParseA2SPlayers(t *testing.T) {
	t.Parallel()
	names, err := parseA2SPlayers(a2sPlayers("[TAG]Alice", "", "Bob")[5:])
	require.NoError(t, err)
	require.Equal(t, []string{"[TAG]Alice", "Bob"}, names)

	truncated := a2sPlayers("Alice")[5:]
	_, err = parseA2SPlayers(truncated[:len(truncated)-2])
	require.ErrorIs(t, err, ErrA2SResponse)

	_, err = parseA2SPlayers([]byte{1, 0, 'A', 'l'})
	require.ErrorIs(t, err, ErrA2SResponse)
}

func TestA2SProberChallenge(t *testing.T) {
	t.Parallel()
	challenge := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	server := serveUDP(t, func(req []byte) [][]byte {
		switch {
		case bytes.Equal(req, a2sRequest(noChallenge)):
			reply := append(append([]byte(nil), oobHeader...), a2sChallenge)
			return [][]byte{append(reply, challenge...)}
		case bytes.Equal(req, a2sRequest(challenge)):
			return [][]byte{a2sPlayers("Alice", "^1Bob")}
		default:
			return nil
		}
	})

	ctx, cancel := context.WithTimeout(testContext(t), 5*time.Second)
	defer cancel()
	names, err := A2SProber{}.QueryPlayers(ctx, server)
	require.NoError(t, err)
	require.Equal(t, []string{"Alice", "^1Bob"}, names)
}

func TestA2SProberSplitResponse(t *testing.T) {
	t.Parallel()
	server := serveUDP(t, func([]byte) [][]byte {
		return [][]byte{append(append([]byte(nil), splitPacket...), 1, 2, 3)}
	})
	ctx, cancel := context.WithTimeout(testContext(t), 5*time.Second)
	defer cancel()
	_, err := A2SProber{}.QueryPlayers(ctx, server)
	require.ErrorIs(t, err, ErrSplitResponse)
}
