package server

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"lan_presence/internal/config"
	"lan_presence/internal/dataType"
	"lan_presence/internal/presence"
	"lan_presence/internal/utils"

	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

// Server is the HTTPS front of the directory.
type Server struct {
	cfg     *config.MainConfig
	svc     *presence.Service
	logs    *utils.LogxManager
	logger  *zap.Logger
	trusted *dataType.PrefixTrie
	limiter *updateLimiter
}

func New(cfg *config.MainConfig, svc *presence.Service, logs *utils.LogxManager) (*Server, error) {
	trusted, err := cfg.TrustedProxyTrie()
	if err != nil {
		return nil, err
	}
	limits, err := cfg.UpdateRateLimits()
	if err != nil {
		return nil, err
	}
	return &Server{
		cfg:     cfg,
		svc:     svc,
		logs:    logs,
		logger:  logs.Logger(),
		trusted: trusted,
		limiter: newUpdateLimiter(limits),
	}, nil
}

// TLSConfig loads the server certificate and the client CA pool. Client
// certificates are verified when presented; the update route rejects
// requests without one.
func TLSConfig(cfg config.TLSConfig) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("load server certificate: %w", err)
	}
	pem, err := os.ReadFile(cfg.ClientCAFile)
	if err != nil {
		return nil, fmt.Errorf("read client CA: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("no certificates found in %s", cfg.ClientCAFile)
	}
	return &tls.Config{
		MinVersion:   tls.VersionTLS12,
		Certificates: []tls.Certificate{cert},
		ClientCAs:    pool,
		ClientAuth:   tls.VerifyClientCertIfGiven,
	}, nil
}

// StartServer serves the API over TLS until ctx is cancelled, then shuts
// down gracefully.
func (s *Server) StartServer(ctx context.Context) error {
	tlsCfg, err := TLSConfig(s.cfg.TLS)
	if err != nil {
		return err
	}
	ln, err := net.Listen("tcp", ":"+s.cfg.Port)
	if err != nil {
		return err
	}
	return s.Serve(ctx, tls.NewListener(ln, tlsCfg))
}

// Serve runs the API on an already configured listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.NewRouter(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ErrorLog:          zap.NewStdLog(s.logger),
	}

	stopGC := make(chan struct{})
	defer close(stopGC)
	s.limiter.start(stopGC)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTPS server listening", zap.Stringer("addr", ln.Addr()))
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	s.logger.Info("HTTPS server stopped")
	return nil
}

// peerAddress splits the transport address of a request.
func peerAddress(remoteAddr string) (string, int32) {
	host, port, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr, 0
	}
	p, err := strconv.ParseUint(port, 10, 16)
	if err != nil {
		return host, 0
	}
	return host, int32(p)
}

// overridesAllowed reports whether the peer may replace its own address
// with X-Forwarded-For or X-Real-IP.
func (s *Server) overridesAllowed(peerIP string) bool {
	if s.trusted == nil {
		return true
	}
	ip := net.ParseIP(peerIP)
	return ip != nil && s.trusted.Contains(ip)
}

func verifiedChain(state *tls.ConnectionState) []*x509.Certificate {
	if state == nil || len(state.VerifiedChains) == 0 {
		return nil
	}
	return state.VerifiedChains[0]
}
