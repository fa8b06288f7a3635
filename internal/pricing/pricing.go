// Package pricing resolves ticker symbols to live quotes.
package pricing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/PaesslerAG/jsonpath"
	"github.com/shopspring/decimal"

	"github.com/dhirpatel133/Finance-CS50x-Web-Application/internal/config"
	"github.com/dhirpatel133/Finance-CS50x-Web-Application/internal/domain/models"
)

// maxBodySize bounds how much of a provider response is read.
const maxBodySize = 1 << 20

var (
	ErrUnknownSymbol      = errors.New("unknown symbol")
	ErrGatewayUnavailable = errors.New("pricing gateway unavailable")
)

type Gateway interface {
	// Lookup returns the current quote for symbol. It fails with
	// ErrUnknownSymbol when the provider does not know the symbol and with
	// ErrGatewayUnavailable when the provider cannot be reached in time.
	Lookup(ctx context.Context, symbol string) (models.Quote, error)
}

// Client fetches quotes from an IEX Cloud style HTTP API:
// GET {base}/stock/{symbol}/quote?token={key}. The fields of the JSON
// response are picked with jsonpath expressions so other providers with a
// similar endpoint can be plugged in through configuration.
type Client struct {
	baseURL    string
	apiKey     string
	symbolPath string
	namePath   string
	pricePath  string
	http       *http.Client
	logger     *slog.Logger
}

func New(cfg config.Pricing, logger *slog.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		symbolPath: cfg.SymbolPath,
		namePath:   cfg.NamePath,
		pricePath:  cfg.PricePath,
		http:       &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
	}
}

func (c *Client) Lookup(ctx context.Context, symbol string) (models.Quote, error) {
	const op = "pricing.Client.Lookup"

	addr := fmt.Sprintf("%s/stock/%s/quote?token=%s", c.baseURL, url.PathEscape(symbol), url.QueryEscape(c.apiKey))

	jobj, err := c.getJSON(ctx, addr)
	if err != nil {
		return models.Quote{}, fmt.Errorf("%s: %q: %w", op, symbol, err)
	}

	if _, ok := jobj.(map[string]any); !ok {
		return models.Quote{}, fmt.Errorf("%s: %q: %w", op, symbol, ErrUnknownSymbol)
	}

	price, err := c.price(jobj)
	if err != nil {
		c.logger.Debug("Quote without usable price", slog.String("symbol", symbol), slog.String("error", err.Error()))
		return models.Quote{}, fmt.Errorf("%s: %q: %w", op, symbol, ErrUnknownSymbol)
	}

	quote := models.Quote{
		Symbol: c.text(jobj, c.symbolPath, symbol),
		Name:   c.text(jobj, c.namePath, symbol),
		Price:  price,
	}
	quote.Symbol = strings.ToUpper(quote.Symbol)

	return quote, nil
}

// getJSON performs the GET and decodes the body keeping numbers as
// json.Number, so prices are never rounded through float64.
func (c *Client) getJSON(ctx context.Context, addr string) (any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, addr, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrUnknownSymbol
	case resp.StatusCode != http.StatusOK:
		c.logger.Warn("Pricing provider error", slog.Int("status", resp.StatusCode), slog.String("host", req.URL.Host))
		return nil, fmt.Errorf("%w: status %s", ErrGatewayUnavailable, resp.Status)
	}

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, io.LimitReader(resp.Body, maxBodySize)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}

	dec := json.NewDecoder(bytes.NewReader(buf.Bytes()))
	dec.UseNumber()
	var jobj any
	if err := dec.Decode(&jobj); err != nil {
		// IEX answers "Unknown symbol" as plain text on some endpoints.
		if strings.Contains(strings.ToLower(buf.String()), "unknown symbol") {
			return nil, ErrUnknownSymbol
		}
		c.logger.Warn("Pricing provider sent a non-JSON body", slog.String("host", req.URL.Host))
		return nil, fmt.Errorf("%w: malformed body: %v", ErrGatewayUnavailable, err)
	}

	return jobj, nil
}

func (c *Client) price(jobj any) (decimal.Decimal, error) {
	jval, err := jsonpath.Get(c.pricePath, jobj)
	if err != nil {
		return decimal.Zero, err
	}

	var price decimal.Decimal
	switch v := first(jval).(type) {
	case json.Number:
		price, err = decimal.NewFromString(v.String())
	case string:
		price, err = decimal.NewFromString(v)
	case float64:
		price = decimal.NewFromFloat(v)
	default:
		err = fmt.Errorf("price is %T", v)
	}
	if err != nil {
		return decimal.Zero, err
	}
	if !price.IsPositive() {
		return decimal.Zero, fmt.Errorf("non-positive price %s", price)
	}

	return price, nil
}

func (c *Client) text(jobj any, path, fallback string) string {
	jval, err := jsonpath.Get(path, jobj)
	if err != nil {
		return fallback
	}
	if s, ok := first(jval).(string); ok && s != "" {
		return s
	}
	return fallback
}

// first unwraps single-element results: jsonpath returns a list for
// wildcard and filter expressions and a scalar otherwise.
func first(jval any) any {
	if jlist, ok := jval.([]any); ok {
		if len(jlist) == 0 {
			return nil
		}
		return jlist[0]
	}
	return jval
}
