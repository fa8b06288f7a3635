package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/dhirpatel133/Finance-CS50x-Web-Application/internal/domain/models"
	"github.com/dhirpatel133/Finance-CS50x-Web-Application/internal/pricing"
)

// dropSession revokes whatever session the request carries.
func (s *APIServer) dropSession(w http.ResponseWriter, r *http.Request) {
	token := sessionToken(r, s.config.Session.CookieName)
	if token == "" {
		return
	}
	if err := s.auth.Logout(r.Context(), token); err != nil {
		s.logger.Warn("Failed to revoke session", slog.String("error", err.Error()))
	}
	s.clearSessionCookie(w)
}

func (s *APIServer) loginPageHandler() func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		s.dropSession(w, r)
		s.render(w, r, http.StatusOK, "login", "Log In", nil)
	}
}

func (s *APIServer) loginHandler() func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		s.dropSession(w, r)

		form, err := parseCredentialsForm(r)
		if err != nil {
			s.fail(w, r, err)
			return
		}

		_, token, err := s.auth.Login(r.Context(), form.Username, form.Password)
		if err != nil {
			s.fail(w, r, err)
			return
		}

		s.setSessionCookie(w, token)
		http.Redirect(w, r, "/", http.StatusSeeOther)
	}
}

func (s *APIServer) logoutHandler() func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		s.dropSession(w, r)
		http.Redirect(w, r, "/", http.StatusSeeOther)
	}
}

func (s *APIServer) registerPageHandler() func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		s.render(w, r, http.StatusOK, "register", "Register", nil)
	}
}

func (s *APIServer) registerHandler() func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		form, err := parseCredentialsForm(r)
		if err != nil {
			s.fail(w, r, err)
			return
		}

		_, token, err := s.auth.Register(r.Context(), form.Username, form.Password, form.Confirmation)
		if err != nil {
			s.fail(w, r, err)
			return
		}

		s.dropSession(w, r)
		s.setSessionCookie(w, token)
		http.Redirect(w, r, "/", http.StatusSeeOther)
	}
}

func (s *APIServer) indexHandler() func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		portfolio, err := s.trader.Portfolio(r.Context(), identityFrom(r.Context()).UserID)
		if err != nil {
			s.fail(w, r, err)
			return
		}

		s.render(w, r, http.StatusOK, "index", "Portfolio", portfolio)
	}
}

func (s *APIServer) quotePageHandler() func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		s.render(w, r, http.StatusOK, "quote", "Quote", nil)
	}
}

func (s *APIServer) quoteHandler() func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		symbol, err := parseSymbolForm(r)
		if err != nil {
			s.fail(w, r, err)
			return
		}

		quote, err := s.trader.Quote(r.Context(), symbol)
		if errors.Is(err, pricing.ErrUnknownSymbol) {
			s.apology(w, r, http.StatusBadRequest, "Enter a valid Symbol")
			return
		}
		if err != nil {
			s.fail(w, r, err)
			return
		}

		s.render(w, r, http.StatusOK, "quoted", "Quoted", quote)
	}
}

func (s *APIServer) buyPageHandler() func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		s.render(w, r, http.StatusOK, "buy", "Buy", r.URL.Query().Get("symbol"))
	}
}

func (s *APIServer) buyHandler() func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		order, err := parseTradeForm(r)
		if err == nil {
			_, err = s.trader.Buy(r.Context(), identityFrom(r.Context()).UserID, order)
		}
		s.metrics.ObserveTrade("buy", tradeOutcome(err))
		if err != nil {
			s.fail(w, r, err)
			return
		}

		redirectWithFlash(w, r, "/", "Bought!")
	}
}

func (s *APIServer) sellPageHandler() func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		symbols, err := s.trader.OwnedSymbols(r.Context(), identityFrom(r.Context()).UserID)
		if err != nil {
			s.fail(w, r, err)
			return
		}

		s.render(w, r, http.StatusOK, "sell", "Sell", symbols)
	}
}

func (s *APIServer) sellHandler() func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		order, err := parseTradeForm(r)
		if err == nil {
			_, err = s.trader.Sell(r.Context(), identityFrom(r.Context()).UserID, order)
		}
		s.metrics.ObserveTrade("sell", tradeOutcome(err))
		if err != nil {
			s.fail(w, r, err)
			return
		}

		redirectWithFlash(w, r, "/", "Sold!")
	}
}

func (s *APIServer) historyHandler() func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		transactions, err := s.trader.History(r.Context(), identityFrom(r.Context()).UserID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		if transactions == nil {
			transactions = []models.Transaction{}
		}

		s.render(w, r, http.StatusOK, "history", "History", transactions)
	}
}

func (s *APIServer) additionalCashPageHandler() func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		s.render(w, r, http.StatusOK, "additional_cash", "Add Cash", nil)
	}
}

func (s *APIServer) additionalCashHandler() func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		amount, err := parseCashForm(r)
		if err != nil {
			s.fail(w, r, err)
			return
		}

		if _, err := s.trader.DepositCash(r.Context(), identityFrom(r.Context()).UserID, amount); err != nil {
			s.fail(w, r, err)
			return
		}

		redirectWithFlash(w, r, "/", "Additional cash has been added!")
	}
}
