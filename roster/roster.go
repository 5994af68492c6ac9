// Package roster collects the names of players connected to game servers.
package roster

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"go.uber.org/zap/zapcore"
)

//go:generate mockgen -package mocks -destination mocks/roster.go . Discoverer,Prober

// Server is a game server endpoint.
type Server struct {
	Host string
	Port uint16
}

// ParseServer parses "host:port".
func ParseServer(s string) (Server, error) {
	host, port, err := net.SplitHostPort(s)
	if err != nil {
		return Server{}, fmt.Errorf("parsing server %q: %w", s, err)
	}
	p, err := strconv.ParseUint(port, 10, 16)
	if err != nil {
		return Server{}, fmt.Errorf("parsing port of %q: %w", s, err)
	}
	if host == "" || p == 0 {
		return Server{}, fmt.Errorf("server %q: host and port are required", s)
	}
	return Server{Host: host, Port: uint16(p)}, nil
}

func (s Server) String() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(int(s.Port)))
}

func (s Server) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("host", s.Host)
	enc.AddUint16("port", s.Port)
	return nil
}

// Discoverer lists the servers to probe.
type Discoverer interface {
	Discover(ctx context.Context) ([]Server, error)
}

// Prober returns the raw player names currently on a server.
// Names are returned as the server reports them, not canonicalized.
type Prober interface {
	QueryPlayers(ctx context.Context, server Server) ([]string, error)
}

// StaticList is a fixed list of servers.
type StaticList []Server

// NewStaticList parses "host:port" entries.
func NewStaticList(entries ...string) (StaticList, error) {
	out := make(StaticList, 0, len(entries))
	for _, e := range entries {
		s, err := ParseServer(e)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func (l StaticList) Discover(context.Context) ([]Server, error) {
	return append([]Server(nil), l...), nil
}
