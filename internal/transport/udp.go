package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"

	"github.com/rs/zerolog"

	"dynamo/internal/metrics"
	"dynamo/internal/protocol"
)

// MaxDatagramSize is the largest UDP payload that can be sent.
const MaxDatagramSize = 65507

// ErrDatagramTooLarge is returned when an encoded message does not fit in a datagram.
var ErrDatagramTooLarge = errors.New("transport: datagram too large")

// Role selects one of the node's sockets.
type Role int

const (
	RoleGossip Role = iota
	RoleIO
	RoleAck
)

// String returns the string representation of the Role.
func (r Role) String() string {
	switch r {
	case RoleGossip:
		return "gossip"
	case RoleIO:
		return "io"
	case RoleAck:
		return "ack"
	default:
		return "unknown"
	}
}

// Ports are the local ports for each role. Zero picks an ephemeral port.
type Ports struct {
	Gossip int
	IO     int
	Ack    int
}

// Handler processes one decoded message.
type Handler func(msg *protocol.Message)

// UDP owns the three role sockets and a socket for outbound datagrams.
type UDP struct {
	conns  [3]*net.UDPConn
	send   *net.UDPConn
	logger zerolog.Logger
}

// Listen binds the role sockets on host. A bind failure closes anything
// already opened.
func Listen(host string, ports Ports, logger zerolog.Logger) (*UDP, error) {
	u := &UDP{logger: logger}

	bind := []struct {
		role Role
		port int
	}{
		{RoleGossip, ports.Gossip},
		{RoleIO, ports.IO},
		{RoleAck, ports.Ack},
	}
	for _, b := range bind {
		addr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(host, strconv.Itoa(b.port)))
		if err != nil {
			u.Close()
			return nil, fmt.Errorf("resolve %s socket: %w", b.role, err)
		}
		conn, err := net.ListenUDP("udp", addr)
		if err != nil {
			u.Close()
			return nil, fmt.Errorf("bind %s socket on %s: %w", b.role, addr, err)
		}
		u.conns[b.role] = conn
	}

	send, err := net.ListenUDP("udp", nil)
	if err != nil {
		u.Close()
		return nil, fmt.Errorf("open send socket: %w", err)
	}
	u.send = send
	return u, nil
}

// Ports returns the ports actually bound.
func (u *UDP) Ports() Ports {
	port := func(r Role) int {
		return u.conns[r].LocalAddr().(*net.UDPAddr).Port
	}
	return Ports{Gossip: port(RoleGossip), IO: port(RoleIO), Ack: port(RoleAck)}
}

// Send encodes msg and writes it to addr.
func (u *UDP) Send(addr string, msg *protocol.Message) error {
	data, err := protocol.Marshal(msg)
	if err != nil {
		return err
	}
	if len(data) > MaxDatagramSize {
		return fmt.Errorf("%w: %d bytes for %s", ErrDatagramTooLarge, len(data), msg.Type())
	}

	dst, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", addr, err)
	}
	if _, err := u.send.WriteToUDP(data, dst); err != nil {
		return fmt.Errorf("send %s to %s: %w", msg.Type(), addr, err)
	}
	return nil
}

// Serve reads datagrams from the role's socket and hands decoded messages to
// h until ctx is cancelled or the socket is closed.
func (u *UDP) Serve(ctx context.Context, role Role, h Handler) error {
	conn := u.conns[role]
	buf := make([]byte, MaxDatagramSize)

	for {
		n, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			u.logger.Warn().Err(err).Str("role", role.String()).Msg("receive failed")
			continue
		}

		msg, err := protocol.Unmarshal(buf[:n])
		if err != nil {
			metrics.RecordDrop(role.String(), "decode")
			u.logger.Warn().Err(err).Str("role", role.String()).Stringer("from", from).Msg("dropping datagram")
			continue
		}
		h(msg)
	}
}

// Close closes every socket, unblocking Serve.
func (u *UDP) Close() error {
	var errs []error
	for _, c := range u.conns {
		if c != nil {
			errs = append(errs, c.Close())
		}
	}
	if u.send != nil {
		errs = append(errs, u.send.Close())
	}
	return errors.Join(errs...)
}
