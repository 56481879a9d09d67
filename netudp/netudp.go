// Package netudp owns the single connected UDP socket and its
// receive/scratch buffer shared by the connectionless and NetChannel
// layers above it.
package netudp

import (
	"context"
	"net"
	"time"

	"github.com/charmbracelet/log"
)

// NetMaxPayload is the largest UDP payload the Source Engine will ever
// send or receive on this channel.
const NetMaxPayload = 262192

// Conn owns one connected UDP socket plus a single reusable receive
// buffer. It performs no internal queueing or buffering beyond that one
// buffer; callers above (ConnectionlessDialer, NetChannel) serialize
// access to it.
type Conn struct {
	sock *net.UDPConn
	buf  []byte
	last int

	logger *log.Logger
}

// Dial opens a connected UDP socket to addr.
func Dial(addr *net.UDPAddr, logger *log.Logger) (*Conn, error) {
	sock, err := net.DialUDP("udp4", nil, addr)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Conn{
		sock:   sock,
		buf:    make([]byte, NetMaxPayload),
		logger: logger,
	}, nil
}

// Close closes the underlying socket.
func (c *Conn) Close() error {
	return c.sock.Close()
}

// RemoteAddr returns the connected peer address.
func (c *Conn) RemoteAddr() net.Addr {
	return c.sock.RemoteAddr()
}

// LocalAddr returns the socket's bound local address.
func (c *Conn) LocalAddr() net.Addr {
	return c.sock.LocalAddr()
}

// Recv blocks until a datagram arrives, stores it in the scratch buffer,
// and records its length. The returned slice aliases the internal buffer
// and is only valid until the next Recv call.
func (c *Conn) Recv() ([]byte, error) {
	n, err := c.sock.Read(c.buf)
	if err != nil {
		return nil, err
	}
	c.last = n
	return c.buf[:n], nil
}

// RecvContext is Recv with ctx's deadline, if it has one, installed as the
// socket read deadline. Cancelling a context that has no deadline does not
// interrupt the read.
func (c *Conn) RecvContext(ctx context.Context) ([]byte, error) {
	if dl, ok := ctx.Deadline(); ok {
		if err := c.sock.SetReadDeadline(dl); err != nil {
			return nil, err
		}
	}
	defer c.sock.SetReadDeadline(time.Time{})
	return c.Recv()
}

// Scratch returns the full scratch buffer for building outbound packets.
func (c *Conn) Scratch() []byte {
	return c.buf
}

// Last returns the bytes of the most recently received datagram.
func (c *Conn) Last() []byte {
	return c.buf[:c.last]
}

// SendRaw writes raw bytes to the connected peer.
func (c *Conn) SendRaw(raw []byte) error {
	_, err := c.sock.Write(raw)
	if err != nil {
		c.logger.Debug("udp send failed", "error", err)
	}
	return err
}
