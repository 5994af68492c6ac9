package roster

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"strings"
)

// Dialect selects the status request and reply layout of a Quake engine.
type Dialect int

const (
	QuakeWorld Dialect = iota
	Quake2
	Quake3
)

func (d Dialect) String() string {
	switch d {
	case QuakeWorld:
		return "qw"
	case Quake2:
		return "q2"
	case Quake3:
		return "q3"
	default:
		return fmt.Sprintf("dialect(%d)", int(d))
	}
}

var (
	// userid frags time ping "name" ...
	qwPlayer = regexp.MustCompile(`\d+\s+\d+\s+\d+\s+\d+\s+"([^"]+)"`)
	// score ping "name"
	q2Player = regexp.MustCompile(`\d+\s+\d+\s+"([^"]+)"`)
	q3Player = regexp.MustCompile(`"(\^?[0-9A-Za-z^]*[^"]+)"`)
)

// QuakeProber queries the out-of-band status command of Quake servers.
type QuakeProber struct {
	Dialect Dialect
}

func (p QuakeProber) request() []byte {
	cmd := "status"
	if p.Dialect == Quake3 {
		cmd = "getstatus"
	}
	req := append([]byte(nil), oobHeader...)
	req = append(req, cmd...)
	return append(req, 0)
}

func (p QuakeProber) QueryPlayers(ctx context.Context, server Server) ([]string, error) {
	session, err := dialUDP(ctx, server.String())
	if err != nil {
		return nil, err
	}
	defer session.Close()

	resp, err := session.exchange(ctx, p.request())
	if err != nil {
		return nil, err
	}
	return ParseQuakeStatus(p.Dialect, resp), nil
}

// ParseQuakeStatus extracts player names from a status reply. The reply
// type and the server info string precede the player lines and are skipped.
func ParseQuakeStatus(d Dialect, resp []byte) []string {
	resp = bytes.TrimPrefix(resp, oobHeader)
	text := strings.ToValidUTF8(string(resp), "")
	_, text, ok := strings.Cut(text, "\n")
	if !ok {
		return nil
	}
	// Q2 and Q3 put the info string on its own line
	if strings.HasPrefix(text, `\`) {
		if _, text, ok = strings.Cut(text, "\n"); !ok {
			return nil
		}
	}

	var re *regexp.Regexp
	switch d {
	case QuakeWorld:
		re = qwPlayer
	case Quake2:
		re = q2Player
	default:
		re = q3Player
	}
	var names []string
	for _, m := range re.FindAllStringSubmatch(text, -1) {
		names = append(names, m[1])
	}
	return names
}
