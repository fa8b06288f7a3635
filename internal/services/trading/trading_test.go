package trading

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/dhirpatel133/Finance-CS50x-Web-Application/internal/domain/models"
	"github.com/dhirpatel133/Finance-CS50x-Web-Application/internal/pricing"
	"github.com/dhirpatel133/Finance-CS50x-Web-Application/internal/storage/sqlite"
)

// fakeGateway serves prices that tests can move between calls.
type fakeGateway struct {
	mu     sync.Mutex
	quotes map[string]models.Quote
	err    error
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{quotes: make(map[string]models.Quote)}
}

func (g *fakeGateway) set(symbol, price string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.quotes[symbol] = models.Quote{
		Symbol: symbol,
		Name:   symbol + " Corp",
		Price:  decimal.RequireFromString(price),
	}
}

func (g *fakeGateway) remove(symbol string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.quotes, symbol)
}

func (g *fakeGateway) Lookup(ctx context.Context, symbol string) (models.Quote, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return models.Quote{}, g.err
	}
	q, ok := g.quotes[symbol]
	if !ok {
		return models.Quote{}, pricing.ErrUnknownSymbol
	}
	return q, nil
}

type fixture struct {
	engine  *Engine
	store   *sqlite.Storage
	gateway *fakeGateway
	userID  int64
}

func newFixture(t *testing.T, startingCash string) *fixture {
	t.Helper()
	store, err := sqlite.New(filepath.Join(t.TempDir(), "finance.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Stop() })

	uid, err := store.SaveUser(context.Background(), "trader", []byte("hash"), decimal.RequireFromString(startingCash))
	if err != nil {
		t.Fatalf("SaveUser failed: %v", err)
	}

	gateway := newFakeGateway()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	return &fixture{
		engine:  New(store, gateway, logger),
		store:   store,
		gateway: gateway,
		userID:  uid,
	}
}

func (f *fixture) cash(t *testing.T) decimal.Decimal {
	t.Helper()
	user, err := f.store.UserByID(context.Background(), f.userID)
	if err != nil {
		t.Fatalf("UserByID failed: %v", err)
	}
	return user.Cash
}

func (f *fixture) ledgerLen(t *testing.T) int {
	t.Helper()
	txs, err := f.engine.History(context.Background(), f.userID)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	return len(txs)
}

func (f *fixture) holding(t *testing.T, symbol string) int64 {
	t.Helper()
	holdings, err := f.store.Holdings(context.Background(), f.userID)
	if err != nil {
		t.Fatalf("Holdings failed: %v", err)
	}
	for _, h := range holdings {
		if h.Symbol == symbol {
			return h.Shares
		}
	}
	return 0
}

func assertCash(t *testing.T, f *fixture, want string) {
	t.Helper()
	if got := f.cash(t); !got.Equal(decimal.RequireFromString(want)) {
		t.Errorf("cash = %s, want %s", got, want)
	}
}

func TestWorkedExample(t *testing.T) {
	f := newFixture(t, "10000.00")
	ctx := context.Background()

	f.gateway.set("AAA", "50.00")
	if _, err := f.engine.Buy(ctx, f.userID, Order{Symbol: "AAA", Shares: 10}); err != nil {
		t.Fatalf("Buy failed: %v", err)
	}
	assertCash(t, f, "9500.00")
	if got := f.holding(t, "AAA"); got != 10 {
		t.Errorf("holding = %d, want 10", got)
	}

	_, err := f.engine.Sell(ctx, f.userID, Order{Symbol: "AAA", Shares: 15})
	if !errors.Is(err, ErrInsufficientHoldings) {
		t.Fatalf("expected ErrInsufficientHoldings, got %v", err)
	}
	assertCash(t, f, "9500.00")

	f.gateway.set("AAA", "60.00")
	if _, err := f.engine.Sell(ctx, f.userID, Order{Symbol: "AAA", Shares: 10}); err != nil {
		t.Fatalf("Sell failed: %v", err)
	}
	assertCash(t, f, "10100.00")
	if got := f.holding(t, "AAA"); got != 0 {
		t.Errorf("holding = %d, want 0", got)
	}

	portfolio, err := f.engine.Portfolio(ctx, f.userID)
	if err != nil {
		t.Fatalf("Portfolio failed: %v", err)
	}
	if len(portfolio.Positions) != 0 {
		t.Errorf("closed position still listed: %+v", portfolio.Positions)
	}
	if !portfolio.Total.Equal(decimal.NewFromInt(10100)) {
		t.Errorf("total = %s, want 10100", portfolio.Total)
	}
}

func TestBuy(t *testing.T) {
	f := newFixture(t, "1000")
	ctx := context.Background()
	f.gateway.set("AAA", "33.33")

	tx, err := f.engine.Buy(ctx, f.userID, Order{Symbol: " aaa ", Shares: 3})
	if err != nil {
		t.Fatalf("Buy failed: %v", err)
	}
	if tx.Symbol != "AAA" || tx.Shares != 3 || !tx.Price.Equal(decimal.RequireFromString("33.33")) {
		t.Errorf("unexpected transaction %+v", tx)
	}
	if tx.ID == 0 || tx.UserID != f.userID {
		t.Errorf("transaction not persisted: %+v", tx)
	}
	assertCash(t, f, "900.01")
}

func TestBuyExactlyAllCash(t *testing.T) {
	f := newFixture(t, "100")
	f.gateway.set("AAA", "25")

	if _, err := f.engine.Buy(context.Background(), f.userID, Order{Symbol: "AAA", Shares: 4}); err != nil {
		t.Fatalf("Buy of exactly the available cash failed: %v", err)
	}
	assertCash(t, f, "0")
}

func TestRejectedOrdersLeaveNoTrace(t *testing.T) {
	tests := []struct {
		name  string
		setup func(f *fixture)
		order func(f *fixture) error
		want  error
	}{
		{
			name: "buy more than cash",
			order: func(f *fixture) error {
				_, err := f.engine.Buy(context.Background(), f.userID, Order{Symbol: "AAA", Shares: 21})
				return err
			},
			want: ErrInsufficientFunds,
		},
		{
			name: "sell more than held",
			setup: func(f *fixture) {
				f.engine.Buy(context.Background(), f.userID, Order{Symbol: "AAA", Shares: 2})
			},
			order: func(f *fixture) error {
				_, err := f.engine.Sell(context.Background(), f.userID, Order{Symbol: "AAA", Shares: 3})
				return err
			},
			want: ErrInsufficientHoldings,
		},
		{
			name: "sell never owned",
			order: func(f *fixture) error {
				_, err := f.engine.Sell(context.Background(), f.userID, Order{Symbol: "BBB", Shares: 1})
				return err
			},
			want: ErrInsufficientHoldings,
		},
		{
			name: "buy unknown symbol",
			order: func(f *fixture) error {
				_, err := f.engine.Buy(context.Background(), f.userID, Order{Symbol: "ZZZ", Shares: 1})
				return err
			},
			want: pricing.ErrUnknownSymbol,
		},
		{
			name: "buy zero shares",
			order: func(f *fixture) error {
				_, err := f.engine.Buy(context.Background(), f.userID, Order{Symbol: "AAA", Shares: 0})
				return err
			},
			want: ErrInvalidInput,
		},
		{
			name: "sell negative shares",
			order: func(f *fixture) error {
				_, err := f.engine.Sell(context.Background(), f.userID, Order{Symbol: "AAA", Shares: -1})
				return err
			},
			want: ErrInvalidInput,
		},
		{
			name: "buy without symbol",
			order: func(f *fixture) error {
				_, err := f.engine.Buy(context.Background(), f.userID, Order{Symbol: "  ", Shares: 1})
				return err
			},
			want: ErrInvalidInput,
		},
		{
			name: "gateway down",
			setup: func(f *fixture) {
				f.gateway.err = pricing.ErrGatewayUnavailable
			},
			order: func(f *fixture) error {
				_, err := f.engine.Buy(context.Background(), f.userID, Order{Symbol: "AAA", Shares: 1})
				return err
			},
			want: pricing.ErrGatewayUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, "1000")
			f.gateway.set("AAA", "50")
			f.gateway.set("BBB", "10")
			if tt.setup != nil {
				tt.setup(f)
			}
			cashBefore := f.cash(t)
			ledgerBefore := f.ledgerLen(t)

			if err := tt.order(f); !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}

			if got := f.cash(t); !got.Equal(cashBefore) {
				t.Errorf("cash changed from %s to %s", cashBefore, got)
			}
			f.gateway.err = nil
			if got := f.ledgerLen(t); got != ledgerBefore {
				t.Errorf("ledger grew from %d to %d rows", ledgerBefore, got)
			}
		})
	}
}

func TestReplayMatchesCash(t *testing.T) {
	f := newFixture(t, "10000.00")
	ctx := context.Background()
	rng := rand.New(rand.NewSource(7))

	symbols := []string{"AAA", "BBB", "CCC"}
	for i := 0; i < 120; i++ {
		symbol := symbols[rng.Intn(len(symbols))]
		f.gateway.set(symbol, fmt.Sprintf("%d.%02d", 1+rng.Intn(400), rng.Intn(100)))
		order := Order{Symbol: symbol, Shares: int64(1 + rng.Intn(12))}

		var err error
		if rng.Intn(2) == 0 {
			_, err = f.engine.Buy(ctx, f.userID, order)
		} else {
			_, err = f.engine.Sell(ctx, f.userID, order)
		}
		if err != nil && !errors.Is(err, ErrInsufficientFunds) && !errors.Is(err, ErrInsufficientHoldings) {
			t.Fatalf("order %d: unexpected error %v", i, err)
		}
	}

	history, err := f.engine.History(ctx, f.userID)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(history) == 0 {
		t.Fatal("expected some orders to succeed")
	}

	expected := decimal.RequireFromString("10000.00")
	held := map[string]int64{}
	for _, tx := range history {
		// buys subtract, sells add: cash -= shares * price for signed shares
		expected = expected.Sub(tx.Price.Mul(decimal.NewFromInt(tx.Shares)))
		held[tx.Symbol] += tx.Shares
		if held[tx.Symbol] < 0 {
			t.Fatalf("holding of %s went negative at tx %d", tx.Symbol, tx.ID)
		}
		if expected.IsNegative() {
			t.Fatalf("cash went negative at tx %d", tx.ID)
		}
	}
	assertCash(t, f, expected.String())
}

func TestHistoryKeepsExecutionPrices(t *testing.T) {
	f := newFixture(t, "10000")
	ctx := context.Background()

	f.gateway.set("AAA", "10")
	f.engine.Buy(ctx, f.userID, Order{Symbol: "AAA", Shares: 5})
	f.gateway.set("BBB", "20")
	f.engine.Buy(ctx, f.userID, Order{Symbol: "BBB", Shares: 1})
	f.gateway.set("AAA", "15")
	f.engine.Sell(ctx, f.userID, Order{Symbol: "AAA", Shares: 2})
	f.gateway.set("AAA", "999")

	history, err := f.engine.History(ctx, f.userID)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}

	want := []struct {
		symbol string
		shares int64
		price  string
	}{
		{"AAA", 5, "10"},
		{"BBB", 1, "20"},
		{"AAA", -2, "15"},
	}
	if len(history) != len(want) {
		t.Fatalf("expected %d rows, got %d", len(want), len(history))
	}
	for i, w := range want {
		got := history[i]
		if got.Symbol != w.symbol || got.Shares != w.shares || !got.Price.Equal(decimal.RequireFromString(w.price)) {
			t.Errorf("row %d = %s %d @ %s, want %s %d @ %s", i, got.Symbol, got.Shares, got.Price, w.symbol, w.shares, w.price)
		}
	}
}

func TestPortfolio(t *testing.T) {
	f := newFixture(t, "10000")
	ctx := context.Background()

	f.gateway.set("MSFT", "100")
	f.gateway.set("AAPL", "50")
	f.gateway.set("IBM", "10")
	f.engine.Buy(ctx, f.userID, Order{Symbol: "MSFT", Shares: 2})
	f.engine.Buy(ctx, f.userID, Order{Symbol: "AAPL", Shares: 4})
	f.engine.Buy(ctx, f.userID, Order{Symbol: "IBM", Shares: 3})
	f.engine.Sell(ctx, f.userID, Order{Symbol: "IBM", Shares: 3})
	// cash: 10000 - 200 - 200 - 30 + 30 = 9600

	f.gateway.set("MSFT", "110")
	f.gateway.set("AAPL", "45.5")

	portfolio, err := f.engine.Portfolio(ctx, f.userID)
	if err != nil {
		t.Fatalf("Portfolio failed: %v", err)
	}

	if len(portfolio.Positions) != 2 {
		t.Fatalf("expected 2 positions, got %+v", portfolio.Positions)
	}
	aapl, msft := portfolio.Positions[0], portfolio.Positions[1]
	if aapl.Symbol != "AAPL" || msft.Symbol != "MSFT" {
		t.Fatalf("positions not sorted by symbol: %s, %s", aapl.Symbol, msft.Symbol)
	}
	if aapl.Shares != 4 || !aapl.Price.Equal(decimal.RequireFromString("45.5")) || !aapl.Value.Equal(decimal.NewFromInt(182)) {
		t.Errorf("unexpected AAPL position %+v", aapl)
	}
	if msft.Name != "MSFT Corp" || !msft.Value.Equal(decimal.NewFromInt(220)) {
		t.Errorf("unexpected MSFT position %+v", msft)
	}
	if !portfolio.Cash.Equal(decimal.NewFromInt(9600)) {
		t.Errorf("cash = %s, want 9600", portfolio.Cash)
	}
	if !portfolio.Total.Equal(decimal.NewFromInt(10002)) {
		t.Errorf("total = %s, want 10002", portfolio.Total)
	}

	symbols, err := f.engine.OwnedSymbols(ctx, f.userID)
	if err != nil {
		t.Fatalf("OwnedSymbols failed: %v", err)
	}
	if strings.Join(symbols, ",") != "AAPL,MSFT" {
		t.Errorf("OwnedSymbols = %v", symbols)
	}
}

func TestPortfolioStaleAndUnavailable(t *testing.T) {
	f := newFixture(t, "1000")
	ctx := context.Background()

	f.gateway.set("GONE", "12.5")
	f.engine.Buy(ctx, f.userID, Order{Symbol: "GONE", Shares: 2})
	f.gateway.remove("GONE")

	portfolio, err := f.engine.Portfolio(ctx, f.userID)
	if err != nil {
		t.Fatalf("Portfolio failed: %v", err)
	}
	if len(portfolio.Positions) != 1 {
		t.Fatalf("expected delisted position to stay listed, got %+v", portfolio.Positions)
	}
	p := portfolio.Positions[0]
	if !p.Stale || !p.Price.Equal(decimal.RequireFromString("12.5")) || !p.Value.Equal(decimal.NewFromInt(25)) {
		t.Errorf("unexpected stale position %+v", p)
	}

	f.gateway.err = pricing.ErrGatewayUnavailable
	if _, err := f.engine.Portfolio(ctx, f.userID); !errors.Is(err, pricing.ErrGatewayUnavailable) {
		t.Errorf("expected ErrGatewayUnavailable, got %v", err)
	}
}

func TestQuote(t *testing.T) {
	f := newFixture(t, "0")
	f.gateway.set("NFLX", "400")

	quote, err := f.engine.Quote(context.Background(), "nflx")
	if err != nil {
		t.Fatalf("Quote failed: %v", err)
	}
	if quote.Symbol != "NFLX" || quote.Name != "NFLX Corp" {
		t.Errorf("unexpected quote %+v", quote)
	}

	if _, err := f.engine.Quote(context.Background(), ""); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
	if _, err := f.engine.Quote(context.Background(), "nope"); !errors.Is(err, pricing.ErrUnknownSymbol) {
		t.Errorf("expected ErrUnknownSymbol, got %v", err)
	}
}

func TestDepositCash(t *testing.T) {
	f := newFixture(t, "100")
	ctx := context.Background()

	balance, err := f.engine.DepositCash(ctx, f.userID, decimal.RequireFromString("250.75"))
	if err != nil {
		t.Fatalf("DepositCash failed: %v", err)
	}
	if !balance.Equal(decimal.RequireFromString("350.75")) {
		t.Errorf("balance = %s, want 350.75", balance)
	}
	assertCash(t, f, "350.75")
	if n := f.ledgerLen(t); n != 0 {
		t.Errorf("deposit must not write to the ledger, got %d rows", n)
	}

	for _, amount := range []string{"0", "-5", "1000000000.01", "1e17"} {
		if _, err := f.engine.DepositCash(ctx, f.userID, decimal.RequireFromString(amount)); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("DepositCash(%s): expected ErrInvalidInput, got %v", amount, err)
		}
	}
	assertCash(t, f, "350.75")
}

func TestShareLimits(t *testing.T) {
	f := newFixture(t, "1000000")
	ctx := context.Background()
	f.gateway.set("PNY", "0.0001")

	if _, err := f.engine.Buy(ctx, f.userID, Order{Symbol: "PNY", Shares: MaxShares + 1}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("oversized order: expected ErrInvalidInput, got %v", err)
	}
	if _, err := f.engine.Buy(ctx, f.userID, Order{Symbol: "PNY", Shares: 1 << 62}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("huge order: expected ErrInvalidInput, got %v", err)
	}

	if _, err := f.engine.Buy(ctx, f.userID, Order{Symbol: "PNY", Shares: MaxShares}); err != nil {
		t.Fatalf("Buy of the maximum order failed: %v", err)
	}
	cashBefore := f.cash(t)

	_, err := f.engine.Buy(ctx, f.userID, Order{Symbol: "PNY", Shares: 1})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("holding above the limit: expected ErrInvalidInput, got %v", err)
	}
	if got := f.cash(t); !got.Equal(cashBefore) {
		t.Errorf("cash changed from %s to %s", cashBefore, got)
	}
	if got := f.holding(t, "PNY"); got != MaxShares {
		t.Errorf("holding = %d, want %d", got, MaxShares)
	}

	portfolio, err := f.engine.Portfolio(ctx, f.userID)
	if err != nil {
		t.Fatalf("Portfolio failed: %v", err)
	}
	if len(portfolio.Positions) != 1 || portfolio.Positions[0].Shares != MaxShares {
		t.Errorf("unexpected positions %+v", portfolio.Positions)
	}
	if _, err := f.engine.Sell(ctx, f.userID, Order{Symbol: "PNY", Shares: 1}); err != nil {
		t.Errorf("Sell after reaching the limit failed: %v", err)
	}
}

func TestConcurrentSellsNeverOversell(t *testing.T) {
	f := newFixture(t, "1000")
	ctx := context.Background()
	f.gateway.set("AAA", "10")

	if _, err := f.engine.Buy(ctx, f.userID, Order{Symbol: "AAA", Shares: 5}); err != nil {
		t.Fatalf("Buy failed: %v", err)
	}

	const attempts = 12
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		sold     int
		rejected int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.engine.Sell(ctx, f.userID, Order{Symbol: "AAA", Shares: 1})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				sold++
			case errors.Is(err, ErrInsufficientHoldings):
				rejected++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if sold != 5 || rejected != attempts-5 {
		t.Errorf("sold %d, rejected %d; want 5 and %d", sold, rejected, attempts-5)
	}
	if got := f.holding(t, "AAA"); got != 0 {
		t.Errorf("holding = %d, want 0", got)
	}
	assertCash(t, f, "1000")
}

func TestConcurrentBuysNeverOverspend(t *testing.T) {
	f := newFixture(t, "300")
	ctx := context.Background()
	f.gateway.set("AAA", "100")

	const attempts = 10
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.engine.Buy(ctx, f.userID, Order{Symbol: "AAA", Shares: 1})
			if err != nil && !errors.Is(err, ErrInsufficientFunds) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assertCash(t, f, "0")
	if got := f.holding(t, "AAA"); got != 3 {
		t.Errorf("holding = %d, want 3", got)
	}
}
