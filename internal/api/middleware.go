package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/dhirpatel133/Finance-CS50x-Web-Application/internal/session"
)

type ctxKey int

const (
	identityKey ctxKey = iota
	requestInfoKey
)

// requestInfo is filled in by inner handlers so the outer logging
// middleware can report who made the request.
type requestInfo struct {
	userID int64
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

// observe logs every request and feeds the HTTP metrics.
func (s *APIServer) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		info := &requestInfo{}
		rec := &statusRecorder{ResponseWriter: w}

		next.ServeHTTP(rec, r.WithContext(context.WithValue(r.Context(), requestInfoKey, info)))

		if rec.status == 0 {
			rec.status = http.StatusOK
		}
		elapsed := time.Since(start)

		route := "unmatched"
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		s.metrics.ObserveRequest(route, r.Method, rec.status, elapsed)

		attrs := []any{
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", rec.status),
			slog.Int64("duration_ms", elapsed.Milliseconds()),
		}
		if info.userID != 0 {
			attrs = append(attrs, slog.Int64("user_id", info.userID))
		}

		switch {
		case rec.status >= http.StatusInternalServerError:
			s.logger.Error("Request failed", attrs...)
		case rec.status >= http.StatusBadRequest:
			s.logger.Warn("Request rejected", attrs...)
		default:
			s.logger.Info("Request", attrs...)
		}
	})
}

func noCache(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
		w.Header().Set("Expires", "0")
		w.Header().Set("Pragma", "no-cache")
		next.ServeHTTP(w, r)
	})
}

// authenticate resolves the session from the cookie or a Bearer token and
// sends anonymous visitors to the login page.
func (s *APIServer) authenticate(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity, err := s.auth.RequireSession(r.Context(), sessionToken(r, s.config.Session.CookieName))
		if errors.Is(err, session.ErrUnauthenticated) {
			s.clearSessionCookie(w)
			http.Redirect(w, r, "/login", http.StatusSeeOther)
			return
		}
		if err != nil {
			s.fail(w, r, err)
			return
		}

		if info, ok := r.Context().Value(requestInfoKey).(*requestInfo); ok {
			info.userID = identity.UserID
		}

		r = r.WithContext(context.WithValue(r.Context(), identityKey, identity))
		next(w, r)
	}
}

func identityFrom(ctx context.Context) session.Identity {
	identity, _ := ctx.Value(identityKey).(session.Identity)
	return identity
}

func sessionToken(r *http.Request, cookieName string) string {
	if c, err := r.Cookie(cookieName); err == nil && c.Value != "" {
		return c.Value
	}

	parts := strings.Split(r.Header.Get("Authorization"), " ")
	if len(parts) == 2 && parts[0] == "Bearer" {
		return parts[1]
	}

	return ""
}

func (s *APIServer) setSessionCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.config.Session.CookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(s.config.Session.TTL.Seconds()),
		HttpOnly: true,
		Secure:   s.config.Env == "prod",
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *APIServer) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.config.Session.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.config.Env == "prod",
		SameSite: http.SameSiteLaxMode,
	})
}
