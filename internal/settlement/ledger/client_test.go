package ledger_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	simhttp "github.com/radieske/prize-settlement/internal/ledger-simulator/http"
	"github.com/radieske/prize-settlement/internal/ledger-simulator/store"
	"github.com/radieske/prize-settlement/internal/settlement/ledger"
)

const (
	apiKey = "test-key"
	token  = "usdc"
)

type staticCredential struct{}

func (staticCredential) Credential(context.Context) (string, error) { return "Y2lwaGVy", nil }

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type fixture struct {
	store  *store.Memory
	client *ledger.Client
	hits   atomic.Int32
}

// newFixture sobe o simulador atrás de httptest; wrap permite injetar falhas por requisição
func newFixture(t *testing.T, wrap func(next http.Handler) http.Handler) *fixture {
	t.Helper()
	f := &fixture{store: store.NewMemory()}
	require.NoError(t, f.store.CreateWallet("w-alpha", "0xalpha"))
	require.NoError(t, f.store.CreateWallet("w-master", "0xmaster"))

	var h http.Handler = simhttp.NewServer(zap.NewNop(), f.store, apiKey, 0, nil).Router()
	if wrap != nil {
		h = wrap(h)
	}
	counted := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.hits.Add(1)
		h.ServeHTTP(w, r)
	})
	srv := httptest.NewServer(counted)
	t.Cleanup(srv.Close)

	c, err := ledger.New(ledger.Options{
		BaseURL:      srv.URL,
		APIKey:       apiKey,
		Blockchain:   "ETH-SEPOLIA",
		CustodyType:  "DEVELOPER",
		CallTimeout:  2 * time.Second,
		MaxRetries:   2,
		RetryBackoff: time.Millisecond,
		Credentials:  staticCredential{},
	})
	require.NoError(t, err)
	f.client = c
	return f
}

func (f *fixture) deposit(t *testing.T, from, walletID, tokenID string, amounts ...string) {
	t.Helper()
	ds := make([]decimal.Decimal, len(amounts))
	for i, a := range amounts {
		ds[i] = dec(a)
	}
	_, err := f.store.Deposit(from, walletID, tokenID, ds)
	require.NoError(t, err)
}

func TestNewRequiresOptions(t *testing.T) {
	_, err := ledger.New(ledger.Options{APIKey: "k", Credentials: staticCredential{}})
	assert.ErrorContains(t, err, "base url")
	_, err = ledger.New(ledger.Options{BaseURL: "http://x", Credentials: staticCredential{}})
	assert.ErrorContains(t, err, "api key")
	_, err = ledger.New(ledger.Options{BaseURL: "http://x", APIKey: "k"})
	assert.ErrorContains(t, err, "credential")
}

func TestBalanceFoundAndAbsent(t *testing.T) {
	f := newFixture(t, nil)
	f.deposit(t, "0xdonor", "w-alpha", token, "4.5")
	ctx := context.Background()

	b, err := f.client.Balance(ctx, "w-alpha", token)
	require.NoError(t, err)
	assert.True(t, b.Found)
	assert.True(t, dec("4.5").Equal(b.Amount))

	b, err = f.client.Balance(ctx, "w-master", token)
	require.NoError(t, err)
	assert.False(t, b.Found)
	assert.True(t, b.Amount.IsZero())
}

func TestBalanceUnknownWalletIsRejected(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.client.Balance(context.Background(), "nope", token)
	require.Error(t, err)
	assert.True(t, ledger.IsRejected(err))
	assert.False(t, ledger.IsUnavailable(err))

	var rej *ledger.RejectedError
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, http.StatusNotFound, rej.Status)

	assert.True(t, f.client.BalanceOrZero(context.Background(), "nope", token).IsZero())
}

func TestListInboundConfirmedFiltersByTokenAndDestination(t *testing.T) {
	f := newFixture(t, nil)
	f.deposit(t, "0xdonor1", "w-alpha", token, "1", "2")
	f.deposit(t, "0xdonor2", "w-alpha", "other-token", "9")
	f.deposit(t, "0xdonor3", "w-master", token, "5")

	// gera uma OUTBOUND em w-alpha e uma INBOUND em w-master
	_, err := f.client.CreateTransfer(context.Background(), "w-alpha", token, dec("1"), "0xmaster")
	require.NoError(t, err)

	txs, err := f.client.ListInboundConfirmed(context.Background(), token, "0xalpha")
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, "0xdonor1", txs[0].SourceAddress)
	assert.Equal(t, []string{"1", "2"}, txs[0].Amounts)

	all, err := f.client.ListInboundConfirmed(context.Background(), token, "")
	require.NoError(t, err)
	for _, tx := range all {
		assert.Equal(t, ledger.TypeInbound, tx.Type)
		assert.Equal(t, token, tx.TokenID)
	}
	assert.Len(t, all, 3)
}

func TestSameRequestTwiceIsAcceptedOnce(t *testing.T) {
	f := newFixture(t, nil)
	f.deposit(t, "0xdonor", "w-alpha", token, "10")
	ctx := context.Background()

	req := f.client.NewTransferRequest("w-alpha", token, dec("10"), "0xmaster")
	id1, err := f.client.SubmitTransfer(ctx, req)
	require.NoError(t, err)
	id2, err := f.client.SubmitTransfer(ctx, req)
	require.NoError(t, err)

	assert.Equal(t, id1, id2)
	assert.Equal(t, 1, f.store.Accepted())
	bals, err := f.store.Balances("w-master")
	require.NoError(t, err)
	assert.True(t, dec("10").Equal(bals[token]))
}

func TestCreateTransferUsesFreshKeyPerCall(t *testing.T) {
	f := newFixture(t, nil)
	f.deposit(t, "0xdonor", "w-alpha", token, "10")
	ctx := context.Background()

	id1, err := f.client.CreateTransfer(ctx, "w-alpha", token, dec("3"), "0xmaster")
	require.NoError(t, err)
	id2, err := f.client.CreateTransfer(ctx, "w-alpha", token, dec("3"), "0xmaster")
	require.NoError(t, err)

	assert.NotEqual(t, id1, id2)
	assert.Equal(t, 2, f.store.Accepted())
}

func TestTransientFailuresRetryWithSameKey(t *testing.T) {
	var (
		mu   sync.Mutex
		keys []string
		seen int
	)
	flaky := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/transactions/transfer" {
				next.ServeHTTP(w, r)
				return
			}
			raw, _ := io.ReadAll(r.Body)
			var body struct {
				IdempotencyKey string   `json:"idempotencyKey"`
				Amounts        []string `json:"amounts"`
			}
			_ = json.Unmarshal(raw, &body)

			mu.Lock()
			keys = append(keys, body.IdempotencyKey)
			seen++
			n := seen
			mu.Unlock()

			if n <= 2 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(raw))
			next.ServeHTTP(w, r)
		})
	}
	f := newFixture(t, flaky)
	f.deposit(t, "0xdonor", "w-alpha", token, "10")

	id, err := f.client.CreateTransfer(context.Background(), "w-alpha", token, dec("10"), "0xmaster")
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	require.Len(t, keys, 3)
	assert.Equal(t, keys[0], keys[1])
	assert.Equal(t, keys[1], keys[2])
	assert.Equal(t, 1, f.store.Accepted())
}

func TestRejectedTransferIsNotRetried(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.client.CreateTransfer(context.Background(), "w-alpha", token, dec("1"), "0xmaster")
	require.Error(t, err)
	assert.True(t, ledger.IsRejected(err))

	var terr *ledger.TransferError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, "w-alpha", terr.FromWalletID)
	assert.Equal(t, "0xmaster", terr.DestinationAddress)
	assert.Equal(t, int32(1), f.hits.Load())
}

func TestUnavailableAfterRetryBudget(t *testing.T) {
	down := func(http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		})
	}
	f := newFixture(t, down)

	_, err := f.client.Balance(context.Background(), "w-alpha", token)
	require.Error(t, err)
	assert.True(t, ledger.IsUnavailable(err))
	assert.Equal(t, int32(3), f.hits.Load())
}

func TestRejectionBodyIsDecoded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer wrong", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"code":401,"message":"invalid credentials"}`))
	}))
	defer srv.Close()

	c, err := ledger.New(ledger.Options{BaseURL: srv.URL, APIKey: "wrong", Credentials: staticCredential{}, MaxRetries: 3})
	require.NoError(t, err)
	_, err = c.Balance(context.Background(), "w-alpha", token)

	var rej *ledger.RejectedError
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, http.StatusUnauthorized, rej.Status)
	assert.Equal(t, 401, rej.Code)
	assert.Equal(t, "invalid credentials", rej.Message)
}

func TestCallerCancellationIsNotRetried(t *testing.T) {
	f := newFixture(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.client.Balance(ctx, "w-alpha", token)
	require.Error(t, err)
	assert.True(t, ledger.IsUnavailable(err))
	assert.Zero(t, f.hits.Load())
}
