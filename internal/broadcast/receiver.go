package broadcast

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"
)

// ListenConfig describes the inbound socket of a listener process.
type ListenConfig struct {
	Port int
	// Address restricts the bind address; empty listens on all interfaces,
	// which is required to see broadcast traffic.
	Address string
}

// Receiver owns one inbound socket bound to the fan-out port.
type Receiver struct {
	conn *net.UDPConn
	buf  []byte
}

// Listen binds the fan-out port with address reuse enabled, so several
// listener processes on one host each receive every frame.
func Listen(cfg ListenConfig) (*Receiver, error) {
	lc := net.ListenConfig{Control: enableReuse}
	pc, err := lc.ListenPacket(context.Background(), "udp4", net.JoinHostPort(cfg.Address, strconv.Itoa(cfg.Port)))
	if err != nil {
		return nil, fmt.Errorf("broadcast: listen on port %d: %w", cfg.Port, err)
	}
	return &Receiver{
		conn: pc.(*net.UDPConn),
		buf:  make([]byte, maxDatagramSize),
	}, nil
}

// Receive blocks until a datagram arrives or ctx is done. The returned
// payload is a copy owned by the caller.
func (r *Receiver) Receive(ctx context.Context) ([]byte, *net.UDPAddr, error) {
	fired := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		_ = r.conn.SetReadDeadline(time.Now())
		close(fired)
	})
	defer func() {
		// The wake-up may land after the read returned; clear it so the
		// next call does not time out at once.
		if !stop() {
			<-fired
			_ = r.conn.SetReadDeadline(time.Time{})
		}
	}()

	n, from, err := r.conn.ReadFromUDP(r.buf)
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil, ctx.Err()
		}
		return nil, nil, err
	}
	payload := make([]byte, n)
	copy(payload, r.buf[:n])
	return payload, from, nil
}

// Serve calls fn for every datagram until ctx is cancelled or the socket
// fails. Cancellation is not an error.
func (r *Receiver) Serve(ctx context.Context, fn func(payload []byte, from *net.UDPAddr)) error {
	for {
		payload, from, err := r.Receive(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}
		fn(payload, from)
	}
}

func (r *Receiver) LocalAddr() *net.UDPAddr {
	return r.conn.LocalAddr().(*net.UDPAddr)
}

func (r *Receiver) Close() error {
	return r.conn.Close()
}
