package server

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"lan_presence/internal/broadcast"
	"lan_presence/internal/config"
	"lan_presence/internal/dataType"
	"lan_presence/internal/frame"
	"lan_presence/internal/presence"
	"lan_presence/internal/registry"
	"lan_presence/internal/testutil"
	"lan_presence/internal/utils"

	"github.com/go-chi/chi/v5"
)

const testLastSeen = 1700000000000123456

type captureSender struct {
	mu     sync.Mutex
	frames [][]byte
}

func (c *captureSender) Send(b []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, b)
	return nil
}

func (c *captureSender) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.frames)
}

func newTestServer(t *testing.T, sender presence.Broadcaster, mutate func(*config.MainConfig)) (*Server, registry.Registry) {
	t.Helper()
	cfg := &config.MainConfig{Port: "0", NodeName: "test-node"}
	if mutate != nil {
		mutate(cfg)
	}
	reg := registry.NewMemory()
	svc := presence.NewService(reg, sender, presence.WithClock(presence.FixedClock(testLastSeen)))
	srv, err := New(cfg, svc, utils.NewManager("", false))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return srv, reg
}

func do(h http.Handler, method, target, body string, setup func(*http.Request)) *httptest.ResponseRecorder {
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, rd)
	if setup != nil {
		setup(req)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func fromPeer(t *testing.T, addr string, subject *pkix.Name) func(*http.Request) {
	return func(r *http.Request) {
		r.RemoteAddr = addr
		if subject != nil {
			r.TLS = testutil.ConnectionState(t, *subject)
		}
	}
}

func register(t *testing.T, h http.Handler, email string) {
	t.Helper()
	if rec := do(h, http.MethodPost, "/api/register", `{"email":"`+email+`"}`, nil); rec.Code != http.StatusCreated {
		t.Fatalf("register %s: status %d, body %q", email, rec.Code, rec.Body.String())
	}
}

func decodeRecord(t *testing.T, rec *httptest.ResponseRecorder) dataType.IdentityRecord {
	t.Helper()
	var out dataType.IdentityRecord
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return out
}

func TestRegister(t *testing.T) {
	srv, reg := newTestServer(t, &captureSender{}, nil)
	h := srv.NewRouter()

	rec := do(h, http.MethodPost, "/api/register", `{"email":"a@b.co"}`, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("first register: status %d", rec.Code)
	}
	if got := decodeRecord(t, rec); got != (dataType.IdentityRecord{Identity: "a@b.co"}) {
		t.Errorf("created record = %+v", got)
	}
	if rec.Header().Get("X-Request-Id") == "" {
		t.Error("missing X-Request-Id")
	}

	if rec := do(h, http.MethodPost, "/api/register", `{"email":"a@b.co"}`, nil); rec.Code != http.StatusConflict {
		t.Errorf("duplicate register: status %d, want 409", rec.Code)
	}

	stored, err := reg.Get(context.Background(), "a@b.co")
	if err != nil || stored != (dataType.IdentityRecord{Identity: "a@b.co"}) {
		t.Errorf("stored record = %+v, %v", stored, err)
	}

	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"email":`},
		{"empty body", ``},
		{"missing email", `{}`},
		{"empty email", `{"email":""}`},
		{"invalid email", `{"email":"not-an-email"}`},
		{"wrong type", `{"email":42}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := do(h, http.MethodPost, "/api/register", tt.body, nil); rec.Code != http.StatusBadRequest {
				t.Errorf("status %d, want 400", rec.Code)
			}
		})
	}
}

func TestRegisterRejectedEmailNotLogged(t *testing.T) {
	base := t.TempDir()
	logs := utils.NewManager(base, false)
	reg := registry.NewMemory()
	svc := presence.NewService(reg, &captureSender{}, presence.WithClock(presence.FixedClock(testLastSeen)))
	srv, err := New(&config.MainConfig{Port: "0"}, svc, logs)
	if err != nil {
		t.Fatal(err)
	}

	forged := `{"email":"x@y.co\n10.9.9.9 - - [01/Jan/2026:00:00:00 +0000] POST /api/update 200 -"}`
	if rec := do(srv.NewRouter(), http.MethodPost, "/api/register", forged, nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("status %d, want 400", rec.Code)
	}
	if err := logs.Close(); err != nil {
		t.Fatal(err)
	}

	b, err := os.ReadFile(filepath.Join(base, "info.log"))
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(b)), "\n")
	if len(lines) != 1 {
		t.Fatalf("access log has %d lines:\n%s", len(lines), b)
	}
	if strings.Contains(lines[0], "identity") || strings.Contains(lines[0], "10.9.9.9") {
		t.Errorf("rejected email reached the access log: %q", lines[0])
	}
	if !strings.Contains(lines[0], "POST /api/register 400") {
		t.Errorf("access line = %q", lines[0])
	}
}

func TestUpdate(t *testing.T) {
	sender := &captureSender{}
	srv, reg := newTestServer(t, sender, nil)
	h := srv.NewRouter()
	register(t, h, "a@b.co")

	rec := do(h, http.MethodPatch, "/api/update", "", fromPeer(t, "10.0.0.5:5000",
		&pkix.Name{CommonName: "a@b.co", Organization: []string{"Org"}}))
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d, body %q", rec.Code, rec.Body.String())
	}
	want := dataType.IdentityRecord{Identity: "a@b.co", LastSeen: testLastSeen, IP: "10.0.0.5", Port: 5000}
	if got := decodeRecord(t, rec); got != want {
		t.Errorf("response record = %+v, want %+v", got, want)
	}
	if stored, _ := reg.Get(context.Background(), "a@b.co"); stored != want {
		t.Errorf("stored record = %+v, want %+v", stored, want)
	}
	if n := sender.count(); n != 1 {
		t.Errorf("frames sent = %d, want 1", n)
	}
}

func TestUpdateErrors(t *testing.T) {
	sender := &captureSender{}
	srv, _ := newTestServer(t, sender, nil)
	h := srv.NewRouter()
	register(t, h, "a@b.co")

	tests := []struct {
		name    string
		subject *pkix.Name
		want    int
	}{
		{"no client certificate", nil, http.StatusBadRequest},
		{"no common name", &pkix.Name{Organization: []string{"Org"}}, http.StatusBadRequest},
		{"common name not an email", &pkix.Name{CommonName: "alice"}, http.StatusBadRequest},
		{"not registered", &pkix.Name{CommonName: "c@d.co", Organization: []string{"Org"}}, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(h, http.MethodPost, "/api/update", "", fromPeer(t, "10.0.0.5:5000", tt.subject))
			if rec.Code != tt.want {
				t.Errorf("status %d, want %d", rec.Code, tt.want)
			}
		})
	}
	if n := sender.count(); n != 0 {
		t.Errorf("rejected updates sent %d frames", n)
	}
}

func TestUpdateIgnoresUnverifiedCertificates(t *testing.T) {
	srv, _ := newTestServer(t, &captureSender{}, nil)
	h := srv.NewRouter()
	register(t, h, "a@b.co")

	rec := do(h, http.MethodPost, "/api/update", "", func(r *http.Request) {
		r.RemoteAddr = "10.0.0.5:5000"
		state := testutil.ConnectionState(t, pkix.Name{CommonName: "a@b.co"})
		state.VerifiedChains = nil
		r.TLS = state
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status %d, want 400", rec.Code)
	}
}

func TestUpdateAddressOverrides(t *testing.T) {
	subject := &pkix.Name{CommonName: "a@b.co"}
	tests := []struct {
		name    string
		trusted []string
		peer    string
		headers map[string]string
		wantIP  string
	}{
		{"no overrides", nil, "10.0.0.5:5000", nil, "10.0.0.5"},
		{"forwarded for", nil, "10.0.0.5:5000", map[string]string{"X-Forwarded-For": "192.168.1.20"}, "192.168.1.20"},
		{"real ip", nil, "10.0.0.5:5000", map[string]string{"X-Real-IP": "192.168.1.30"}, "192.168.1.30"},
		{"unknown falls through", nil, "10.0.0.5:5000", map[string]string{"X-Forwarded-For": "unknown", "X-Real-IP": "192.168.1.30"}, "192.168.1.30"},
		{"trusted proxy", []string{"10.0.0.0/8"}, "10.0.0.5:5000", map[string]string{"X-Forwarded-For": "192.168.1.20"}, "192.168.1.20"},
		{"untrusted peer", []string{"10.0.0.0/8"}, "172.16.0.9:5000", map[string]string{"X-Forwarded-For": "192.168.1.20"}, "172.16.0.9"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := newTestServer(t, &captureSender{}, func(c *config.MainConfig) { c.TrustedProxies = tt.trusted })
			h := srv.NewRouter()
			register(t, h, "a@b.co")

			rec := do(h, http.MethodPatch, "/api/update", "", func(r *http.Request) {
				fromPeer(t, tt.peer, subject)(r)
				for k, v := range tt.headers {
					r.Header.Set(k, v)
				}
			})
			if rec.Code != http.StatusOK {
				t.Fatalf("status %d", rec.Code)
			}
			if got := decodeRecord(t, rec); got.IP != tt.wantIP || got.Port != 5000 {
				t.Errorf("record = %+v, want ip %s port 5000", got, tt.wantIP)
			}
		})
	}
}

func TestUpdateRateLimit(t *testing.T) {
	srv, _ := newTestServer(t, &captureSender{}, func(c *config.MainConfig) { c.UpdateRateLimit = []string{"2/10s"} })
	h := srv.NewRouter()

	for i := 0; i < 2; i++ {
		if rec := do(h, http.MethodPost, "/api/update", "", fromPeer(t, "10.0.0.5:5000", nil)); rec.Code != http.StatusBadRequest {
			t.Fatalf("request %d: status %d, want 400", i, rec.Code)
		}
	}
	rec := do(h, http.MethodPost, "/api/update", "", fromPeer(t, "10.0.0.5:5000", nil))
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") != "10" {
		t.Errorf("Retry-After = %q", rec.Header().Get("Retry-After"))
	}
	if rec := do(h, http.MethodPost, "/api/update", "", fromPeer(t, "10.0.0.6:5000", nil)); rec.Code != http.StatusBadRequest {
		t.Errorf("other peer limited: status %d", rec.Code)
	}
}

func TestMethodOverride(t *testing.T) {
	r := chi.NewRouter()
	r.Use(methodOverride)
	r.Patch("/update", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	form := func(r *http.Request) {
		r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	header := func(name, value string) func(*http.Request) {
		return func(r *http.Request) { r.Header.Set(name, value) }
	}

	tests := []struct {
		name   string
		method string
		body   string
		setup  func(*http.Request)
		want   int
	}{
		{"native patch", http.MethodPatch, "", nil, http.StatusNoContent},
		{"plain post", http.MethodPost, "", nil, http.StatusMethodNotAllowed},
		{"form field", http.MethodPost, "_method=PATCH", form, http.StatusNoContent},
		{"form field lowercase", http.MethodPost, "_method=patch", form, http.StatusNoContent},
		{"form field other method", http.MethodPost, "_method=PUT", form, http.StatusMethodNotAllowed},
		{"form field without form content type", http.MethodPost, "_method=PATCH", nil, http.StatusMethodNotAllowed},
		{"X-HTTP-Method-Override", http.MethodPost, "", header("X-HTTP-Method-Override", "PATCH"), http.StatusNoContent},
		{"X-HTTP-Method", http.MethodPost, "", header("X-HTTP-Method", "PATCH"), http.StatusNoContent},
		{"X-Method-Override", http.MethodPost, "", header("X-Method-Override", "PATCH"), http.StatusNoContent},
		{"override ignored on GET", http.MethodGet, "", header("X-HTTP-Method-Override", "PATCH"), http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := do(r, tt.method, "/update", tt.body, tt.setup); rec.Code != tt.want {
				t.Errorf("status %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestUpdateViaFormOverride(t *testing.T) {
	srv, _ := newTestServer(t, &captureSender{}, nil)
	h := srv.NewRouter()
	register(t, h, "a@b.co")

	rec := do(h, http.MethodPost, "/api/update", "_method=PATCH", func(r *http.Request) {
		fromPeer(t, "10.0.0.5:5000", &pkix.Name{CommonName: "a@b.co"})(r)
		r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	})
	if rec.Code != http.StatusOK {
		t.Errorf("status %d, want 200", rec.Code)
	}
}

func TestHealthCheck(t *testing.T) {
	srv, _ := newTestServer(t, &captureSender{}, nil)
	rec := do(srv.NewRouter(), http.MethodGet, "/health_check", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{"ok\n", "version=" + dataType.LanPresenceVersion, "time=", "ts=", "node=test-node"} {
		if !strings.Contains(body, want) {
			t.Errorf("body missing %q:\n%s", want, body)
		}
	}
}

func TestUnknownRoute(t *testing.T) {
	srv, _ := newTestServer(t, &captureSender{}, nil)
	if rec := do(srv.NewRouter(), http.MethodGet, "/api/register", "", nil); rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET /api/register: status %d", rec.Code)
	}
	if rec := do(srv.NewRouter(), http.MethodGet, "/nope", "", nil); rec.Code != http.StatusNotFound {
		t.Errorf("GET /nope: status %d", rec.Code)
	}
}

func TestPeerAddress(t *testing.T) {
	tests := []struct {
		in       string
		wantIP   string
		wantPort int32
	}{
		{"10.0.0.5:5000", "10.0.0.5", 5000},
		{"[fd00::1]:443", "fd00::1", 443},
		{"10.0.0.5", "10.0.0.5", 0},
		{"10.0.0.5:http", "10.0.0.5", 0},
	}
	for _, tt := range tests {
		ip, port := peerAddress(tt.in)
		if ip != tt.wantIP || port != tt.wantPort {
			t.Errorf("peerAddress(%q) = %q, %d; want %q, %d", tt.in, ip, port, tt.wantIP, tt.wantPort)
		}
	}
}

// TestEndToEnd registers an identity, publishes an update and checks that a
// listener on the fan-out port receives the matching frame.
func TestEndToEnd(t *testing.T) {
	receiver, err := broadcast.Listen(broadcast.ListenConfig{Address: "127.0.0.1"})
	if err != nil {
		t.Fatal(err)
	}
	defer receiver.Close()

	sender, err := broadcast.NewSender(broadcast.Config{DestPort: receiver.LocalAddr().Port, Address: "127.0.0.1"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer sender.Close()

	srv, reg := newTestServer(t, sender, nil)
	h := srv.NewRouter()
	register(t, h, "a@b.co")

	rec := do(h, http.MethodPatch, "/api/update", "", fromPeer(t, "10.0.0.5:5000",
		&pkix.Name{CommonName: "a@b.co", Organization: []string{"Org"}}))
	if rec.Code != http.StatusOK {
		t.Fatalf("update status %d", rec.Code)
	}

	stored, err := reg.Get(context.Background(), "a@b.co")
	if err != nil {
		t.Fatal(err)
	}
	if stored.IP != "10.0.0.5" || stored.Port != 5000 || stored.LastSeen <= 0 {
		t.Errorf("stored record = %+v", stored)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	payload, _, err := receiver.Receive(ctx)
	if err != nil {
		t.Fatalf("Receive() error = %v", err)
	}
	f, err := frame.Decode(payload)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if f.Record() != stored {
		t.Errorf("frame = %+v, want %+v", f, stored)
	}
}

// TestServeMutualTLS runs the real listener with client certificate
// verification.
func TestServeMutualTLS(t *testing.T) {
	client := testutil.NewKeyPair(t, pkix.Name{CommonName: "a@b.co", Organization: []string{"Org"}})
	stranger := testutil.NewKeyPair(t, pkix.Name{CommonName: "a@b.co"})
	pool := x509.NewCertPool()
	pool.AddCert(client.Leaf)

	tlsCfg := &tls.Config{
		Certificates: []tls.Certificate{testutil.NewKeyPair(t, pkix.Name{CommonName: "presence-test"})},
		ClientCAs:    pool,
		ClientAuth:   tls.VerifyClientCertIfGiven,
	}

	sender := &captureSender{}
	srv, _ := newTestServer(t, sender, nil)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, tls.NewListener(ln, tlsCfg)) }()
	defer func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("Serve() error = %v", err)
		}
	}()

	base := "https://" + ln.Addr().String()
	httpClient := func(certs ...tls.Certificate) *http.Client {
		return &http.Client{
			Timeout: 5 * time.Second,
			Transport: &http.Transport{TLSClientConfig: &tls.Config{
				InsecureSkipVerify: true,
				Certificates:       certs,
			}},
		}
	}

	resp, err := httpClient().Post(base+"/api/register", "application/json", strings.NewReader(`{"email":"a@b.co"}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register status %d", resp.StatusCode)
	}

	resp, err = httpClient().Post(base+"/api/update", "", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("update without certificate: status %d, want 400", resp.StatusCode)
	}

	if resp, err := httpClient(stranger).Post(base+"/api/update", "", nil); err == nil {
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			t.Error("update with an untrusted certificate succeeded")
		}
	}

	req, _ := http.NewRequest(http.MethodPatch, base+"/api/update", nil)
	resp, err = httpClient(client).Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("update status %d", resp.StatusCode)
	}
	var got dataType.IdentityRecord
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got.Identity != "a@b.co" || got.IP != "127.0.0.1" || got.Port <= 0 {
		t.Errorf("record = %+v", got)
	}
	if sender.count() != 1 {
		t.Errorf("frames sent = %d, want 1", sender.count())
	}
}
