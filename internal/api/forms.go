package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/dhirpatel133/Finance-CS50x-Web-Application/internal/lib/usd"
	"github.com/dhirpatel133/Finance-CS50x-Web-Application/internal/lib/validate"
	"github.com/dhirpatel133/Finance-CS50x-Web-Application/internal/services/trading"
)

type credentialsForm struct {
	Username     string
	Password     string
	Confirmation string
}

func parseCredentialsForm(r *http.Request) (credentialsForm, error) {
	if err := r.ParseForm(); err != nil {
		return credentialsForm{}, validate.Invalid("form", "Malformed form")
	}
	return credentialsForm{
		Username:     strings.TrimSpace(r.PostFormValue("username")),
		Password:     r.PostFormValue("password"),
		Confirmation: r.PostFormValue("confirmation"),
	}, nil
}

func parseTradeForm(r *http.Request) (trading.Order, error) {
	if err := r.ParseForm(); err != nil {
		return trading.Order{}, validate.Invalid("form", "Malformed form")
	}

	symbol := strings.TrimSpace(r.PostFormValue("symbol"))
	shares := strings.TrimSpace(r.PostFormValue("shares"))
	if err := validate.Required("symbol", symbol, "shares", shares); err != nil {
		return trading.Order{}, err
	}

	n, err := strconv.ParseInt(shares, 10, 64)
	if err != nil || n <= 0 {
		return trading.Order{}, validate.Invalid("shares", "Invalid input for number of shares")
	}
	if n > trading.MaxShares {
		return trading.Order{}, validate.Invalid("shares", "Too many shares in one order")
	}

	return trading.Order{Symbol: symbol, Shares: n}, nil
}

func parseSymbolForm(r *http.Request) (string, error) {
	if err := r.ParseForm(); err != nil {
		return "", validate.Invalid("form", "Malformed form")
	}

	symbol := strings.TrimSpace(r.PostFormValue("symbol"))
	if symbol == "" {
		return "", validate.Missing("symbol")
	}
	return symbol, nil
}

func parseCashForm(r *http.Request) (decimal.Decimal, error) {
	if err := r.ParseForm(); err != nil {
		return decimal.Zero, validate.Invalid("form", "Malformed form")
	}

	raw := strings.TrimSpace(r.PostFormValue("cash"))
	if raw == "" {
		return decimal.Zero, validate.Missing("cash")
	}

	amount, err := usd.Parse(raw)
	if err != nil {
		return decimal.Zero, validate.Invalid("cash", "Invalid amount of cash")
	}
	return amount, nil
}
