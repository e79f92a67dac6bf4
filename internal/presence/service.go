// Package presence binds identities to their published network location:
// registration of new identities, certificate authenticated presence
// updates, and the listener side mirror of broadcast frames.
package presence

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"strings"

	"lan_presence/internal/dataType"
	"lan_presence/internal/frame"
	"lan_presence/internal/identity"
	"lan_presence/internal/metrics"
	"lan_presence/internal/registry"

	"go.uber.org/zap"
)

var (
	ErrInvalidIdentity = errors.New("invalid identity")
	ErrAlreadyExists   = errors.New("identity already registered")
	ErrNotRegistered   = errors.New("identity not registered")
)

// Broadcaster publishes one encoded frame. Delivery is best effort.
type Broadcaster interface {
	Send(b []byte) error
}

// UpdateRequest is everything an update knows about the calling client.
type UpdateRequest struct {
	// Certificates is the verified peer chain, leaf first.
	Certificates []*x509.Certificate
	PeerAddr     string
	PeerPort     int32
	// ForwardedFor and RealIP are client supplied address overrides. The
	// caller blanks them when the peer may not supply overrides.
	ForwardedFor string
	RealIP       string
}

type Service struct {
	registry registry.Registry
	sender   Broadcaster
	clock    Clock
	logger   *zap.Logger
}

type Option func(*Service)

func WithClock(c Clock) Option {
	return func(s *Service) { s.clock = c }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.logger = l }
}

func NewService(reg registry.Registry, sender Broadcaster, opts ...Option) *Service {
	s := &Service{
		registry: reg,
		sender:   sender,
		clock:    CompositeClock(),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register creates a record for a self-declared identity. It never
// broadcasts.
func (s *Service) Register(ctx context.Context, email string) (dataType.IdentityRecord, error) {
	if !identity.Valid(email) {
		return dataType.IdentityRecord{}, ErrInvalidIdentity
	}
	rec, err := s.registry.Create(ctx, email)
	if errors.Is(err, registry.ErrAlreadyExists) {
		return dataType.IdentityRecord{}, ErrAlreadyExists
	}
	if err != nil {
		return dataType.IdentityRecord{}, fmt.Errorf("register %s: %w", email, err)
	}
	s.logger.Info("identity registered", zap.String("identity", email))
	return rec, nil
}

// Update authenticates the caller from its certificate, stores its current
// location and broadcasts the result. A failed broadcast does not fail the
// update.
func (s *Service) Update(ctx context.Context, req UpdateRequest) (dataType.IdentityRecord, error) {
	id, err := certificateIdentity(req.Certificates)
	if err != nil {
		return dataType.IdentityRecord{}, fmt.Errorf("%w: %w", ErrInvalidIdentity, err)
	}
	if !identity.Valid(id) {
		return dataType.IdentityRecord{}, ErrInvalidIdentity
	}

	if _, err := s.registry.Get(ctx, id); err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			return dataType.IdentityRecord{}, ErrNotRegistered
		}
		return dataType.IdentityRecord{}, fmt.Errorf("lookup %s: %w", id, err)
	}

	p := dataType.Presence{
		LastSeen: s.clock(),
		IP:       ResolveAddress(req.ForwardedFor, req.RealIP, req.PeerAddr),
		Port:     req.PeerPort,
	}
	rec, err := s.registry.Update(ctx, id, p)
	if errors.Is(err, registry.ErrNotFound) {
		return dataType.IdentityRecord{}, ErrNotRegistered
	}
	if err != nil {
		return dataType.IdentityRecord{}, fmt.Errorf("update %s: %w", id, err)
	}

	s.publish(rec)
	return rec, nil
}

func (s *Service) publish(rec dataType.IdentityRecord) {
	b, err := frame.Encode(frame.FromRecord(rec))
	if err == nil {
		err = s.sender.Send(b)
	}
	if err != nil {
		metrics.BroadcastSendsTotal.WithLabelValues(metrics.ResError).Inc()
		s.logger.Warn("presence broadcast failed", zap.String("identity", rec.Identity), zap.Error(err))
		return
	}
	metrics.BroadcastSendsTotal.WithLabelValues(metrics.ResSuccess).Inc()
	metrics.BroadcastBytesTotal.Add(float64(len(b)))
	s.logger.Debug("presence broadcast",
		zap.String("identity", rec.Identity),
		zap.String("ip", rec.IP),
		zap.Int32("port", rec.Port),
		zap.Int64("last_seen", rec.LastSeen))
}

func certificateIdentity(certs []*x509.Certificate) (string, error) {
	if len(certs) == 0 || certs[0] == nil {
		return "", identity.ErrNoIdentity
	}
	return identity.Extract(identity.SubjectAttributes(certs[0]))
}

// usableOverride returns the trimmed override and whether it may be
// recorded. The value checked is the value returned.
func usableOverride(v string) (string, bool) {
	v = strings.TrimSpace(v)
	return v, v != "" && !strings.EqualFold(v, "unknown")
}

// ResolveAddress picks the address recorded for a client: the forwarded
// override, then the real-IP override, then the transport peer. Overrides
// are trimmed of surrounding whitespace and otherwise kept as given.
func ResolveAddress(forwardedFor, realIP, peer string) string {
	if v, ok := usableOverride(forwardedFor); ok {
		return v
	}
	if v, ok := usableOverride(realIP); ok {
		return v
	}
	return peer
}
