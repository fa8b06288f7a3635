package api

import (
	"bytes"
	"embed"
	"errors"
	"html/template"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/dhirpatel133/Finance-CS50x-Web-Application/internal/lib/usd"
	"github.com/dhirpatel133/Finance-CS50x-Web-Application/internal/lib/validate"
	"github.com/dhirpatel133/Finance-CS50x-Web-Application/internal/metrics"
	"github.com/dhirpatel133/Finance-CS50x-Web-Application/internal/pricing"
	"github.com/dhirpatel133/Finance-CS50x-Web-Application/internal/services/auth"
	"github.com/dhirpatel133/Finance-CS50x-Web-Application/internal/services/trading"
)

//go:embed templates/*.html
var templateFS embed.FS

const (
	flashCookie = "flash"

	// retryAfter is sent with 503 responses while the quote service is down.
	retryAfter = "30"
)

var pageNames = []string{
	"apology", "login", "register", "index", "quote", "quoted",
	"buy", "sell", "history", "additional_cash",
}

type pages struct {
	byName map[string]*template.Template
}

var funcs = template.FuncMap{
	"usd": usd.Format,
	"datetime": func(t time.Time) string {
		return t.UTC().Format("2006-01-02 15:04:05")
	},
}

func mustParsePages() *pages {
	p := &pages{byName: make(map[string]*template.Template, len(pageNames))}
	for _, name := range pageNames {
		p.byName[name] = template.Must(
			template.New("layout.html").Funcs(funcs).ParseFS(templateFS, "templates/layout.html", "templates/"+name+".html"),
		)
	}
	return p
}

// view is what every template receives.
type view struct {
	Title    string
	Username string
	Flash    string
	Data     any
}

func (s *APIServer) render(w http.ResponseWriter, r *http.Request, status int, name, title string, data any) {
	v := view{
		Title:    title,
		Username: identityFrom(r.Context()).Username,
		Flash:    takeFlash(w, r),
		Data:     data,
	}

	var buf bytes.Buffer
	if err := s.pages.byName[name].ExecuteTemplate(&buf, "layout", v); err != nil {
		s.logger.Error("Failed to render page", slog.String("page", name), slog.String("error", err.Error()))
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

type apologyData struct {
	Code    int
	Message string
}

func (s *APIServer) apology(w http.ResponseWriter, r *http.Request, code int, message string) {
	s.render(w, r, code, "apology", "Apology", apologyData{Code: code, Message: message})
}

// fail turns a service error into an apology page with a matching status.
func (s *APIServer) fail(w http.ResponseWriter, r *http.Request, err error) {
	var verr *validate.Error
	switch {
	case errors.As(err, &verr):
		code := http.StatusBadRequest
		if verr.Missing {
			code = http.StatusForbidden
		}
		s.apology(w, r, code, verr.Message)
	case errors.Is(err, pricing.ErrUnknownSymbol):
		s.apology(w, r, http.StatusBadRequest, "Invalid symbol for share")
	case errors.Is(err, trading.ErrInsufficientFunds):
		s.apology(w, r, http.StatusBadRequest, "Sorry, you cannot afford those stocks.")
	case errors.Is(err, trading.ErrInsufficientHoldings):
		s.apology(w, r, http.StatusBadRequest, "Sorry, you don't have this many shares to sell!")
	case errors.Is(err, auth.ErrUsernameTaken):
		s.apology(w, r, http.StatusForbidden, "Username Taken")
	case errors.Is(err, auth.ErrInvalidCredentials):
		s.apology(w, r, http.StatusForbidden, "invalid username and/or password")
	case errors.Is(err, pricing.ErrGatewayUnavailable):
		s.logger.Warn("Quote service unavailable", slog.String("error", err.Error()))
		w.Header().Set("Retry-After", retryAfter)
		s.apology(w, r, http.StatusServiceUnavailable, "Quote service unavailable, try again later")
	default:
		s.logger.Error("Request failed", slog.String("path", r.URL.Path), slog.String("error", err.Error()))
		s.apology(w, r, http.StatusInternalServerError, "Internal Server Error")
	}
}

// tradeOutcome classifies an order result for the trade counter.
func tradeOutcome(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeOK
	case errors.Is(err, validate.ErrInvalid),
		errors.Is(err, pricing.ErrUnknownSymbol),
		errors.Is(err, trading.ErrInsufficientFunds),
		errors.Is(err, trading.ErrInsufficientHoldings):
		return metrics.OutcomeRejected
	default:
		return metrics.OutcomeError
	}
}

// redirectWithFlash sends the browser to location and shows message on the
// next rendered page.
func redirectWithFlash(w http.ResponseWriter, r *http.Request, location, message string) {
	http.SetCookie(w, &http.Cookie{
		Name:     flashCookie,
		Value:    url.QueryEscape(message),
		Path:     "/",
		MaxAge:   60,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, location, http.StatusSeeOther)
}

func takeFlash(w http.ResponseWriter, r *http.Request) string {
	c, err := r.Cookie(flashCookie)
	if err != nil || c.Value == "" {
		return ""
	}

	http.SetCookie(w, &http.Cookie{Name: flashCookie, Path: "/", MaxAge: -1})

	message, err := url.QueryUnescape(c.Value)
	if err != nil {
		return ""
	}
	return message
}
