package broadcast

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Sender owns the outbound broadcast socket. It is safe for concurrent use;
// each Send is one datagram per destination and never waits for delivery.
type Sender struct {
	conn   *net.UDPConn
	port   int
	dst    net.IP
	logger *zap.Logger
}

// NewSender binds the source port with broadcast enabled. The caller owns
// the returned Sender and must Close it.
func NewSender(cfg Config, logger *zap.Logger) (*Sender, error) {
	dst, err := resolveDestination(cfg.Address)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	lc := net.ListenConfig{Control: enableBroadcast}
	pc, err := lc.ListenPacket(context.Background(), "udp4", net.JoinHostPort("", strconv.Itoa(cfg.SourcePort)))
	if err != nil {
		return nil, fmt.Errorf("broadcast: bind source port %d: %w", cfg.SourcePort, err)
	}

	s := &Sender{
		conn:   pc.(*net.UDPConn),
		port:   cfg.DestPort,
		dst:    dst,
		logger: logger,
	}
	logger.Info("broadcast sender ready",
		zap.Stringer("local", s.conn.LocalAddr()),
		zap.String("destination", cfg.Address),
		zap.Int("port", cfg.DestPort))
	return s, nil
}

func (s *Sender) destinations() []net.IP {
	if s.dst != nil {
		return []net.IP{s.dst}
	}
	return interfaceBroadcasts()
}

// Send transmits b as one datagram to every destination.
func (s *Sender) Send(b []byte) error {
	var errs error
	for _, ip := range s.destinations() {
		dst := &net.UDPAddr{IP: ip, Port: s.port}
		if _, err := s.conn.WriteToUDP(b, dst); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("send to %s: %w", dst, err))
			continue
		}
		s.logger.Debug("broadcast sent", zap.Int("bytes", len(b)), zap.Stringer("to", dst))
	}
	return errs
}

func (s *Sender) LocalAddr() net.Addr {
	return s.conn.LocalAddr()
}

func (s *Sender) Close() error {
	err := s.conn.Close()
	s.logger.Info("broadcast sender closed")
	return err
}
