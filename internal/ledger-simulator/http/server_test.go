package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/radieske/prize-settlement/internal/ledger-simulator/dto"
	"github.com/radieske/prize-settlement/internal/ledger-simulator/store"
)

const apiKey = "sim-key"

func newTestServer(t *testing.T) (*Server, http.Handler) {
	t.Helper()
	s := NewServer(zap.NewNop(), store.NewMemory(), apiKey, 0, prometheus.NewRegistry())
	return s, s.Router()
}

func call(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+apiKey)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRejectsMissingBearer(t *testing.T) {
	_, h := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/transactions", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	var body dto.ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "invalid credentials", body.Message)
}

func TestDepositThenBalance(t *testing.T) {
	_, h := newTestServer(t)

	rec := call(t, h, http.MethodPost, "/sim/wallets", `{"walletId":"w1","address":"0xw1"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = call(t, h, http.MethodPost, "/sim/deposits",
		`{"sourceAddress":"0xdonor","walletId":"w1","tokenId":"usdc","amounts":["1.25","0.75"]}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = call(t, h, http.MethodGet, "/wallets/w1/balances", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var bals dto.BalancesResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&bals))
	require.Len(t, bals.Data.TokenBalances, 1)
	assert.Equal(t, "usdc", bals.Data.TokenBalances[0].Token.ID)
	assert.Equal(t, "2", bals.Data.TokenBalances[0].Amount)

	rec = call(t, h, http.MethodGet, "/transactions?destinationAddress=0xw1&state=CONFIRMED", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var txs dto.TransactionsResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&txs))
	require.Len(t, txs.Data.Transactions, 1)
}

func TestTransferErrors(t *testing.T) {
	_, h := newTestServer(t)
	require.Equal(t, http.StatusCreated, call(t, h, http.MethodPost, "/sim/wallets", `{"walletId":"w1","address":"0xw1"}`).Code)

	tests := []struct {
		name   string
		body   string
		status int
		code   int
	}{
		{"bad json", `{`, http.StatusBadRequest, codeInvalidRequest},
		{"missing credential", `{"idempotencyKey":"k","amounts":["1"],"walletId":"w1","tokenId":"usdc","destinationAddress":"0x"}`,
			http.StatusBadRequest, codeInvalidRequest},
		{"float amount", `{"idempotencyKey":"k","entitySecretCipherText":"YWJj","amounts":["x"],"walletId":"w1","tokenId":"usdc","destinationAddress":"0x"}`,
			http.StatusBadRequest, codeInvalidRequest},
		{"unknown wallet", `{"idempotencyKey":"k","entitySecretCipherText":"YWJj","amounts":["1"],"walletId":"nope","tokenId":"usdc","destinationAddress":"0x"}`,
			http.StatusNotFound, codeWalletNotFound},
		{"no funds", `{"idempotencyKey":"k","entitySecretCipherText":"YWJj","amounts":["1"],"walletId":"w1","tokenId":"usdc","destinationAddress":"0x"}`,
			http.StatusBadRequest, codeInsufficientBalance},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := call(t, h, http.MethodPost, "/transactions/transfer", tt.body)
			assert.Equal(t, tt.status, rec.Code)
			var body dto.ErrorResponse
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
			assert.Equal(t, tt.code, body.Code)
		})
	}
}

func TestSimulatedOutageSkipsSimRoutes(t *testing.T) {
	s := NewServer(zap.NewNop(), store.NewMemory(), apiKey, 1, nil)
	s.roll = func() float64 { return 0 }
	h := s.Router()

	assert.Equal(t, http.StatusServiceUnavailable, call(t, h, http.MethodGet, "/transactions", "").Code)
	assert.Equal(t, http.StatusCreated, call(t, h, http.MethodPost, "/sim/wallets", `{"walletId":"w1","address":"0xw1"}`).Code)
}
