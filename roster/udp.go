package roster

import (
	"context"
	"fmt"
	"net"
	"time"
)

const maxDatagram = 65507

var oobHeader = []byte{0xFF, 0xFF, 0xFF, 0xFF}

// udpSession is a connected UDP socket whose reads and writes end with ctx.
type udpSession struct {
	conn net.Conn
	stop func() bool
}

func dialUDP(ctx context.Context, addr string) (*udpSession, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "udp", addr)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			conn.Close()
			return nil, err
		}
	}
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Now())
	})
	return &udpSession{conn: conn, stop: stop}, nil
}

// exchange sends req and waits for one datagram.
func (s *udpSession) exchange(ctx context.Context, req []byte) ([]byte, error) {
	if _, err := s.conn.Write(req); err != nil {
		return nil, s.wrap(ctx, fmt.Errorf("sending request: %w", err))
	}
	buf := make([]byte, maxDatagram)
	n, err := s.conn.Read(buf)
	if err != nil {
		return nil, s.wrap(ctx, fmt.Errorf("reading response: %w", err))
	}
	return buf[:n], nil
}

func (s *udpSession) wrap(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%w (%v)", ctxErr, err)
	}
	// the socket deadline may fire just before the context notices
	if deadline, ok := ctx.Deadline(); ok && !time.Now().Before(deadline) {
		return fmt.Errorf("%w (%v)", context.DeadlineExceeded, err)
	}
	return err
}

func (s *udpSession) Close() error {
	s.stop()
	return s.conn.Close()
}
