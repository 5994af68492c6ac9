package roster

import (
	"bytes"
	"context"
	"errors"
	"fmt"
)

const (
	a2sPlayerRequest  = 0x55
	a2sChallenge      = 0x41
	a2sPlayerResponse = 0x44

	maxChallengeRounds = 3
)

var (
	noChallenge      = []byte{0xFF, 0xFF, 0xFF, 0xFF}
	splitPacket      = []byte{0xFF, 0xFF, 0xFF, 0xFE}
	ErrA2SResponse   = errors.New("invalid A2S response")
	ErrSplitResponse = errors.New("split A2S responses are not supported")
)

// A2SProber queries players with the Source/GoldSrc A2S_PLAYER request.
type A2SProber struct{}

func (A2SProber) QueryPlayers(ctx context.Context, server Server) ([]string, error) {
	session, err := dialUDP(ctx, server.String())
	if err != nil {
		return nil, err
	}
	defer session.Close()

	challenge := noChallenge
	for round := 0; round < maxChallengeRounds; round++ {
		resp, err := session.exchange(ctx, a2sRequest(challenge))
		if err != nil {
			return nil, err
		}
		if bytes.HasPrefix(resp, splitPacket) {
			return nil, ErrSplitResponse
		}
		if len(resp) < len(oobHeader)+1 || !bytes.HasPrefix(resp, oobHeader) {
			return nil, fmt.Errorf("%w: %d bytes", ErrA2SResponse, len(resp))
		}
		body := resp[len(oobHeader)+1:]
		switch resp[len(oobHeader)] {
		case a2sChallenge:
			if len(body) < 4 {
				return nil, fmt.Errorf("%w: short challenge", ErrA2SResponse)
			}
			challenge = body[:4]
		case a2sPlayerResponse:
			return parseA2SPlayers(body)
		default:
			return nil, fmt.Errorf("%w: unexpected type 0x%02x", ErrA2SResponse, resp[len(oobHeader)])
		}
	}
	return nil, fmt.Errorf("%w: no player list after %d challenges", ErrA2SResponse, maxChallengeRounds)
}

func a2sRequest(challenge []byte) []byte {
	req := make([]byte, 0, len(oobHeader)+1+len(challenge))
	req = append(req, oobHeader...)
	req = append(req, a2sPlayerRequest)
	return append(req, challenge...)
}

// parseA2SPlayers decodes the A2S_PLAYER body that follows the 0x44 type:
// a count byte, then per player an index byte, a NUL-terminated name, an
// int32 score and a float32 duration.
func parseA2SPlayers(body []byte) ([]string, error) {
	if len(body) < 1 {
		return nil, fmt.Errorf("%w: missing player count", ErrA2SResponse)
	}
	count := int(body[0])
	body = body[1:]
	names := make([]string, 0, count)
	for i := 0; i < count; i++ {
		if len(body) < 1 {
			return nil, fmt.Errorf("%w: truncated at player %d", ErrA2SResponse, i)
		}
		body = body[1:]
		end := bytes.IndexByte(body, 0)
		if end < 0 {
			return nil, fmt.Errorf("%w: unterminated name of player %d", ErrA2SResponse, i)
		}
		name := string(body[:end])
		body = body[end+1:]
		if len(body) < 8 {
			return nil, fmt.Errorf("%w: truncated at player %d", ErrA2SResponse, i)
		}
		// score and duration are not used
		body = body[8:]
		if name != "" {
			names = append(names, name)
		}
	}
	return names, nil
}
