package server

import (
	"context"
	"net/http"
	"strings"

	"lan_presence/internal/dataType"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

type ctxKey int

const accessEntryKey ctxKey = iota

var methodOverrideHeaders = []string{"X-HTTP-Method-Override", "X-HTTP-Method", "X-Method-Override"}

// NewRouter wires every API route and middleware.
func (s *Server) NewRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(s.accessLog)
	r.Use(middleware.Recoverer)
	r.Use(methodOverride)

	r.Get("/health_check", s.handleHealthCheck)
	r.Route("/api", func(r chi.Router) {
		r.Post("/register", s.handleRegister)
		r.Post("/update", s.handleUpdate)
		r.Patch("/update", s.handleUpdate)
	})
	return r
}

// accessLog assigns the request id and writes one access line per request.
func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		peerIP, _ := peerAddress(r.RemoteAddr)
		entry := &dataType.AccessEntry{
			RequestID: uuid.NewString(),
			RemoteIP:  peerIP,
			Method:    r.Method,
			Uri:       r.URL.RequestURI(),
			UserAgent: r.UserAgent(),
		}
		w.Header().Set("X-Request-Id", entry.RequestID)

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r.WithContext(context.WithValue(r.Context(), accessEntryKey, entry)))

		entry.Status = ww.Status()
		if entry.Status == 0 {
			entry.Status = http.StatusOK
		}
		s.logs.LogAccess(*entry)
	})
}

func accessEntry(r *http.Request) *dataType.AccessEntry {
	if e, ok := r.Context().Value(accessEntryKey).(*dataType.AccessEntry); ok {
		return e
	}
	return &dataType.AccessEntry{}
}

// methodOverride turns a POST into a PATCH when the client asks for it
// through a form field or one of the override headers.
func methodOverride(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			if m := requestedMethod(r); strings.EqualFold(m, http.MethodPatch) {
				r.Method = http.MethodPatch
				if rctx := chi.RouteContext(r.Context()); rctx != nil {
					rctx.RouteMethod = http.MethodPatch
				}
				accessEntry(r).Method = http.MethodPatch
			}
		}
		next.ServeHTTP(w, r)
	})
}

func requestedMethod(r *http.Request) string {
	for _, h := range methodOverrideHeaders {
		if v := strings.TrimSpace(r.Header.Get(h)); v != "" {
			return v
		}
	}
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/x-www-form-urlencoded") {
		if err := r.ParseForm(); err == nil {
			return strings.TrimSpace(r.PostForm.Get("_method"))
		}
	}
	return ""
}
