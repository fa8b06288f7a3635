package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"github.com/dhirpatel133/Finance-CS50x-Web-Application/internal/config"
	"github.com/dhirpatel133/Finance-CS50x-Web-Application/internal/domain/models"
	"github.com/dhirpatel133/Finance-CS50x-Web-Application/internal/metrics"
	"github.com/dhirpatel133/Finance-CS50x-Web-Application/internal/services/trading"
	"github.com/dhirpatel133/Finance-CS50x-Web-Application/internal/session"
)

// Authenticator registers users and manages their sessions.
type Authenticator interface {
	Register(ctx context.Context, username, password, confirmation string) (models.User, string, error)
	Login(ctx context.Context, username, password string) (models.User, string, error)
	Logout(ctx context.Context, token string) error
	RequireSession(ctx context.Context, token string) (session.Identity, error)
}

// Trader executes orders and builds the account views of a user.
type Trader interface {
	Quote(ctx context.Context, symbol string) (models.Quote, error)
	Buy(ctx context.Context, userID int64, order trading.Order) (models.Transaction, error)
	Sell(ctx context.Context, userID int64, order trading.Order) (models.Transaction, error)
	Portfolio(ctx context.Context, userID int64) (models.Portfolio, error)
	History(ctx context.Context, userID int64) ([]models.Transaction, error)
	DepositCash(ctx context.Context, userID int64, amount decimal.Decimal) (decimal.Decimal, error)
	OwnedSymbols(ctx context.Context, userID int64) ([]string, error)
}

type APIServer struct {
	config  *config.Config
	logger  *slog.Logger
	server  *http.Server
	auth    Authenticator
	trader  Trader
	metrics *metrics.Metrics
	pages   *pages
}

func New(config *config.Config, logger *slog.Logger, auth Authenticator, trader Trader, metrics *metrics.Metrics) *APIServer {
	s := &APIServer{
		config: config,
		logger: logger,
		server: &http.Server{
			Addr:              config.ApiHost + ":" + strconv.Itoa(config.ApiPort),
			ReadHeaderTimeout: 10 * time.Second,
		},
		auth:    auth,
		trader:  trader,
		metrics: metrics,
		pages:   mustParsePages(),
	}

	s.configureRouter()

	return s
}

func (s *APIServer) Start() error {
	s.logger.Info("Starting server", slog.String("port", strconv.Itoa(s.config.ApiPort)))

	return s.server.ListenAndServe()
}

func (s *APIServer) MustStart() {
	err := s.Start()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		panic("Failed to start server: " + err.Error())
	}
}

func (s *APIServer) Stop(ctx context.Context) error {
	defer s.logger.Info("Server successfully stopped")
	return s.server.Shutdown(ctx)
}

// Handler exposes the configured router, mainly for tests.
func (s *APIServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *APIServer) configureRouter() {
	router := mux.NewRouter()
	router.Use(s.observe, noCache)

	router.HandleFunc("/", s.authenticate(s.indexHandler())).Methods("GET")
	router.HandleFunc("/login", s.loginPageHandler()).Methods("GET")
	router.HandleFunc("/login", s.loginHandler()).Methods("POST")
	router.HandleFunc("/logout", s.logoutHandler()).Methods("GET", "POST")
	router.HandleFunc("/register", s.registerPageHandler()).Methods("GET")
	router.HandleFunc("/register", s.registerHandler()).Methods("POST")
	router.HandleFunc("/quote", s.authenticate(s.quotePageHandler())).Methods("GET")
	router.HandleFunc("/quote", s.authenticate(s.quoteHandler())).Methods("POST")
	router.HandleFunc("/buy", s.authenticate(s.buyPageHandler())).Methods("GET")
	router.HandleFunc("/buy", s.authenticate(s.buyHandler())).Methods("POST")
	router.HandleFunc("/sell", s.authenticate(s.sellPageHandler())).Methods("GET")
	router.HandleFunc("/sell", s.authenticate(s.sellHandler())).Methods("POST")
	router.HandleFunc("/history", s.authenticate(s.historyHandler())).Methods("GET")
	router.HandleFunc("/additional_cash", s.authenticate(s.additionalCashPageHandler())).Methods("GET")
	router.HandleFunc("/additional_cash", s.authenticate(s.additionalCashHandler())).Methods("POST")

	router.Handle("/metrics", s.metrics.Handler()).Methods("GET")
	router.HandleFunc("/healthz", healthHandler).Methods("GET")

	router.NotFoundHandler = s.observe(noCache(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.apology(w, r, http.StatusNotFound, "Not Found")
	})))
	router.MethodNotAllowedHandler = s.observe(noCache(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.apology(w, r, http.StatusMethodNotAllowed, "Method Not Allowed")
	})))

	s.server.Handler = router
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
