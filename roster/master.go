package roster

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net"

	"go.uber.org/zap"

	"github.com/fancoin/rostermint/logging"
)

const (
	masterQuery     = 0x31
	regionAll       = 0xFF
	masterRecordLen = 6
)

var (
	masterReplyHeader = []byte{0xFF, 0xFF, 0xFF, 0xFF, 0x66, 0x0A}
	masterSeed        = Server{Host: "0.0.0.0", Port: 0}

	ErrMasterResponse = errors.New("invalid master server response")
)

// MasterServer discovers servers from a Half-Life master server listing.
// Servers sharing an IP are reported once, with the first port listed.
type MasterServer struct {
	Address  string
	Filter   string
	MaxPages int
}

func (m *MasterServer) Discover(ctx context.Context) ([]Server, error) {
	logger := logging.FromContext(ctx).Named("master").With(zap.String("master", m.Address))
	session, err := dialUDP(ctx, m.Address)
	if err != nil {
		return nil, err
	}
	defer session.Close()

	maxPages := m.MaxPages
	if maxPages <= 0 {
		maxPages = 1
	}
	seen := make(map[string]struct{})
	var servers []Server
	seed := masterSeed
	for page := 0; page < maxPages; page++ {
		resp, err := session.exchange(ctx, masterRequest(seed, m.Filter))
		if err != nil {
			if len(servers) > 0 {
				logger.Warn("master listing incomplete", zap.Int("servers", len(servers)), zap.Error(err))
				return servers, nil
			}
			return nil, err
		}
		records, done, err := parseMasterResponse(resp)
		if err != nil {
			return nil, err
		}
		for _, s := range records {
			if _, ok := seen[s.Host]; ok {
				continue
			}
			seen[s.Host] = struct{}{}
			servers = append(servers, s)
		}
		if done || len(records) == 0 {
			break
		}
		seed = records[len(records)-1]
	}
	logger.Debug("master listing fetched", zap.Int("servers", len(servers)))
	return servers, nil
}

func masterRequest(seed Server, filter string) []byte {
	var b bytes.Buffer
	b.WriteByte(masterQuery)
	b.WriteByte(regionAll)
	b.WriteString(seed.String())
	b.WriteByte(0)
	b.WriteString(filter)
	b.WriteByte(0)
	return b.Bytes()
}

// parseMasterResponse returns the records of one reply page and whether
// the 0.0.0.0:0 terminator was reached.
func parseMasterResponse(data []byte) ([]Server, bool, error) {
	if !bytes.HasPrefix(data, masterReplyHeader) {
		return nil, false, fmt.Errorf("%w: bad header", ErrMasterResponse)
	}
	data = data[len(masterReplyHeader):]
	var servers []Server
	for len(data) >= masterRecordLen {
		ip := net.IP(data[:4]).String()
		port := binary.BigEndian.Uint16(data[4:6])
		data = data[masterRecordLen:]
		s := Server{Host: ip, Port: port}
		if s == masterSeed {
			return servers, true, nil
		}
		servers = append(servers, s)
	}
	return servers, false, nil
}
