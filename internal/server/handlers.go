package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"lan_presence/internal/dataType"
	"lan_presence/internal/identity"
	"lan_presence/internal/metrics"
	"lan_presence/internal/presence"

	"go.uber.org/zap"
)

const (
	requestTypeRegister = "register"
	requestTypeUpdate   = "update"
	maxRegisterBody     = 4 << 10
)

type registerRequest struct {
	Email string `json:"email" validate:"required,presence_email"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	t0 := time.Now()
	var req registerRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRegisterBody))
	if err := dec.Decode(&req); err != nil {
		s.reply(w, requestTypeRegister, t0, http.StatusBadRequest, "malformed request body")
		return
	}
	if err := identity.Validator().Struct(req); err != nil {
		s.reply(w, requestTypeRegister, t0, http.StatusBadRequest, presence.ErrInvalidIdentity.Error())
		return
	}
	accessEntry(r).Identity = req.Email

	rec, err := s.svc.Register(r.Context(), req.Email)
	if err != nil {
		s.fail(w, r, requestTypeRegister, t0, err)
		return
	}
	s.writeRecord(w, requestTypeRegister, t0, http.StatusCreated, rec)
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	t0 := time.Now()
	peerIP, peerPort := peerAddress(r.RemoteAddr)

	if !s.limiter.allow(peerIP) {
		metrics.RateLimitedTotal.Inc()
		w.Header().Set("Retry-After", strconv.FormatInt(s.limiter.retryAfter(), 10))
		s.reply(w, requestTypeUpdate, t0, http.StatusTooManyRequests, "too many updates")
		return
	}

	req := presence.UpdateRequest{
		Certificates: verifiedChain(r.TLS),
		PeerAddr:     peerIP,
		PeerPort:     peerPort,
	}
	if s.overridesAllowed(peerIP) {
		req.ForwardedFor = r.Header.Get("X-Forwarded-For")
		req.RealIP = r.Header.Get("X-Real-IP")
	}

	rec, err := s.svc.Update(r.Context(), req)
	if err != nil {
		s.fail(w, r, requestTypeUpdate, t0, err)
		return
	}
	accessEntry(r).Identity = rec.Identity
	s.writeRecord(w, requestTypeUpdate, t0, http.StatusOK, rec)
}

func (s *Server) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	var builder strings.Builder
	builder.WriteString("ok\n")
	builder.WriteString("version=")
	builder.WriteString(dataType.LanPresenceVersion)
	builder.WriteString("\n")
	builder.WriteString("time=")
	builder.WriteString(time.Now().Format(time.RFC3339))
	builder.WriteString("\n")
	builder.WriteString("ts=")
	builder.WriteString(strconv.FormatFloat(float64(time.Now().UnixNano())/1e9, 'f', 3, 64))
	builder.WriteString("\n")
	builder.WriteString("node=")
	builder.WriteString(s.cfg.NodeName)

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(builder.String())); err != nil {
		s.logger.Error("error writing response", zap.String("handler", "handleHealthCheck"), zap.Error(err))
	}
}

// fail maps service errors to status codes. Unexpected errors are logged
// and answered with a generic body.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, kind string, t0 time.Time, err error) {
	switch {
	case errors.Is(err, presence.ErrInvalidIdentity):
		s.reply(w, kind, t0, http.StatusBadRequest, presence.ErrInvalidIdentity.Error())
	case errors.Is(err, presence.ErrAlreadyExists):
		s.reply(w, kind, t0, http.StatusConflict, err.Error())
	case errors.Is(err, presence.ErrNotRegistered):
		s.reply(w, kind, t0, http.StatusForbidden, err.Error())
	default:
		s.logger.Error("request failed",
			zap.String("type", kind),
			zap.String("request_id", accessEntry(r).RequestID),
			zap.Error(err))
		s.reply(w, kind, t0, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) reply(w http.ResponseWriter, kind string, t0 time.Time, status int, msg string) {
	observe(kind, status, t0)
	http.Error(w, msg, status)
}

func (s *Server) writeRecord(w http.ResponseWriter, kind string, t0 time.Time, status int, rec dataType.IdentityRecord) {
	observe(kind, status, t0)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(rec); err != nil {
		s.logger.Error("error writing response", zap.String("type", kind), zap.Error(err))
	}
}

func observe(kind string, status int, t0 time.Time) {
	metrics.APIRequestsTotal.WithLabelValues(kind, strconv.Itoa(status)).Inc()
	metrics.APIRequestsSeconds.WithLabelValues(kind).Observe(time.Since(t0).Seconds())
}
