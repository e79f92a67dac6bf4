// Command presence_client registers an identity with the directory service
// and then reports its presence over mutual TLS, once or on an interval.
package main

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"lan_presence/internal/dataType"

	"github.com/alecthomas/kong"
	"go.uber.org/zap"
)

type cli struct {
	Server   string        `help:"Base URL of the directory service" default:"https://localhost:8443" env:"PRESENCE_SERVER"`
	Email    string        `help:"Identity to register, normally the CN of the client certificate" required:"" env:"PRESENCE_EMAIL"`
	Cert     string        `help:"Client certificate (PEM)" type:"existingfile" required:"" env:"PRESENCE_CERT"`
	Key      string        `help:"Client private key (PEM)" type:"existingfile" required:"" env:"PRESENCE_KEY"`
	CA       string        `name:"ca" help:"CA bundle for the server certificate (PEM), system roots when empty" env:"PRESENCE_CA"`
	Interval time.Duration `help:"Time between updates, zero sends a single update" default:"0s"`
	Override string        `help:"Send the update as a POST carrying a method override" enum:"none,form,header" default:"none"`
	Timeout  time.Duration `help:"Per request timeout" default:"5s"`
	Debug    bool          `help:"Log request details"`
}

const (
	overrideForm   = "form"
	overrideHeader = "header"
)

var (
	errInvalidIdentity = errors.New("certificate CN is not a valid identity")
	errNotRegistered   = errors.New("identity is not registered")
)

// statusError is an unexpected answer from the service.
type statusError struct {
	Code int
	Body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Body)
}

type client struct {
	http     *http.Client
	base     string
	email    string
	override string
	logger   *zap.Logger
}

// newTLSClient builds an HTTP client presenting the certificate in
// certFile/keyFile and trusting the CAs in caFile.
func newTLSClient(certFile, keyFile, caFile string, timeout time.Duration) (*http.Client, error) {
	pair, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("load client certificate: %w", err)
	}
	tlsCfg := &tls.Config{
		Certificates: []tls.Certificate{pair},
		MinVersion:   tls.VersionTLS12,
	}
	if caFile != "" {
		pem, err := os.ReadFile(caFile)
		if err != nil {
			return nil, fmt.Errorf("read CA bundle: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates in %s", caFile)
		}
		tlsCfg.RootCAs = pool
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = tlsCfg
	return &http.Client{Timeout: timeout, Transport: transport}, nil
}

// register creates the identity. An identity that already exists counts
// as registered.
func (c *client) register(ctx context.Context) error {
	body, err := json.Marshal(struct {
		Email string `json:"email"`
	}{c.email})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/api/register", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusCreated:
		c.logger.Info("identity registered", zap.String("identity", c.email))
		return nil
	case http.StatusConflict:
		c.logger.Info("identity already registered", zap.String("identity", c.email))
		return nil
	default:
		return &statusError{Code: resp.StatusCode, Body: readBody(resp.Body)}
	}
}

func (c *client) updateRequest(ctx context.Context) (*http.Request, error) {
	target := c.base + "/api/update"
	switch c.override {
	case overrideForm:
		form := url.Values{"_method": {http.MethodPatch}}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, strings.NewReader(form.Encode()))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		return req, nil
	case overrideHeader:
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("X-HTTP-Method-Override", http.MethodPatch)
		return req, nil
	default:
		return http.NewRequestWithContext(ctx, http.MethodPatch, target, nil)
	}
}

// update reports presence and returns the record the service stored.
func (c *client) update(ctx context.Context) (dataType.IdentityRecord, error) {
	req, err := c.updateRequest(ctx)
	if err != nil {
		return dataType.IdentityRecord{}, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return dataType.IdentityRecord{}, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var rec dataType.IdentityRecord
		if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
			return dataType.IdentityRecord{}, fmt.Errorf("decode record: %w", err)
		}
		return rec, nil
	case http.StatusBadRequest:
		return dataType.IdentityRecord{}, fmt.Errorf("%w: %s", errInvalidIdentity, readBody(resp.Body))
	case http.StatusForbidden:
		return dataType.IdentityRecord{}, fmt.Errorf("%w: %s", errNotRegistered, readBody(resp.Body))
	default:
		return dataType.IdentityRecord{}, &statusError{Code: resp.StatusCode, Body: readBody(resp.Body)}
	}
}

func (c *client) report(ctx context.Context) error {
	rec, err := c.update(ctx)
	if err != nil {
		return err
	}
	c.logger.Info("presence updated",
		zap.String("identity", rec.Identity),
		zap.String("ip", rec.IP),
		zap.Int32("port", rec.Port),
		zap.Int64("last_seen", rec.LastSeen))
	return nil
}

// run registers and sends one update. With a positive interval it keeps
// updating until ctx is done; failed updates are logged and retried on the
// next tick, except a rejected certificate which ends the loop.
func run(ctx context.Context, c *client, interval time.Duration) error {
	if err := c.register(ctx); err != nil {
		return fmt.Errorf("register: %w", err)
	}
	if err := c.report(ctx); err != nil {
		return fmt.Errorf("update: %w", err)
	}
	if interval <= 0 {
		return nil
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		err := c.report(ctx)
		switch {
		case err == nil:
		case ctx.Err() != nil:
			return nil
		case errors.Is(err, errInvalidIdentity):
			return fmt.Errorf("update: %w", err)
		default:
			c.logger.Warn("update failed", zap.Error(err))
		}
	}
}

func readBody(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, 512))
	return strings.TrimSpace(string(b))
}

func newLogger(debug bool) *zap.Logger {
	cfg := zap.NewDevelopmentConfig()
	cfg.OutputPaths = []string{"stderr"}
	if !debug {
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	logger, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

func main() {
	var params cli
	kong.Parse(&params, kong.Description("Register with the LAN presence directory and report presence."))

	logger := newLogger(params.Debug)
	defer logger.Sync()

	httpClient, err := newTLSClient(params.Cert, params.Key, params.CA, params.Timeout)
	if err != nil {
		logger.Fatal("tls setup failed", zap.Error(err))
	}
	c := &client{
		http:     httpClient,
		base:     strings.TrimRight(params.Server, "/"),
		email:    params.Email,
		override: params.Override,
		logger:   logger,
	}
	logger.Debug("client ready", zap.String("server", c.base), zap.String("override", c.override))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, c, params.Interval); err != nil {
		logger.Error("presence client failed", zap.Error(err))
		stop()
		os.Exit(1)
	}
}
