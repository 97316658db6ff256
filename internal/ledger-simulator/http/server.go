package http

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"math/rand"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/radieske/prize-settlement/internal/ledger-simulator/dto"
	"github.com/radieske/prize-settlement/internal/ledger-simulator/store"
	"github.com/radieske/prize-settlement/internal/settlement/ledger"
)

// Códigos de erro devolvidos no corpo {code, message}
const (
	codeUnauthorized        = 401
	codeInvalidRequest      = 2
	codeWalletNotFound      = 156001
	codeInsufficientBalance = 155201
	codeKeyConflict         = 155202
	codeWalletExists        = 155203
)

// Server simula a API do ledger custodial para desenvolvimento local e testes
type Server struct {
	log    *zap.Logger
	store  *store.Memory
	apiKey string

	failureRate float64 // fração de requisições respondidas com 503
	roll        func() float64

	requests  *prometheus.CounterVec
	transfers *prometheus.CounterVec
}

// NewServer instancia o simulador. reg nil não registra métricas.
func NewServer(log *zap.Logger, st *store.Memory, apiKey string, failureRate float64, reg prometheus.Registerer) *Server {
	s := &Server{
		log:         log,
		store:       st,
		apiKey:      apiKey,
		failureRate: failureRate,
		roll:        rand.Float64,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_sim_requests_total",
			Help: "requisições recebidas pelo simulador por rota e status",
		}, []string{"route", "status"}),
		transfers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_sim_transfers_total",
			Help: "transferências por resultado (accepted, replayed, rejected)",
		}, []string{"result"}),
	}
	if reg != nil {
		reg.MustRegister(s.requests, s.transfers)
	}
	return s
}

// Router retorna o roteador HTTP com as rotas do ledger e do simulador
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(s.auth)
	r.Get("/wallets/{walletId}/balances", s.balances)
	r.Get("/transactions", s.transactions)
	r.Post("/transactions/transfer", s.transfer)

	// Rotas auxiliares para semear carteiras e contribuições
	r.Post("/sim/wallets", s.createWallet)
	r.Post("/sim/deposits", s.deposit)
	return r
}

// auth valida o bearer token e injeta falhas transitórias quando configurado
func (s *Server) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || token != s.apiKey {
			s.fail(w, r, http.StatusUnauthorized, codeUnauthorized, "invalid credentials")
			return
		}
		if s.failureRate > 0 && !strings.HasPrefix(r.URL.Path, "/sim/") && s.roll() < s.failureRate {
			s.fail(w, r, http.StatusServiceUnavailable, 0, "simulated outage")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) balances(w http.ResponseWriter, r *http.Request) {
	bals, err := s.store.Balances(chi.URLParam(r, "walletId"))
	if err != nil {
		s.storeError(w, r, err)
		return
	}

	var resp dto.BalancesResponse
	resp.Data.TokenBalances = make([]dto.TokenBalance, 0, len(bals))
	for tokenID, amount := range bals {
		resp.Data.TokenBalances = append(resp.Data.TokenBalances, dto.TokenBalance{
			Token:  dto.Token{ID: tokenID},
			Amount: amount.String(),
		})
	}
	s.ok(w, r, resp)
}

// transactions aceita blockchain, custodyType e operation sem filtrar por eles;
// o simulador só conhece uma rede
func (s *Server) transactions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := store.Filter{
		DestinationAddress: q.Get("destinationAddress"),
		State:              ledger.TransactionState(q.Get("state")),
	}
	var resp dto.TransactionsResponse
	resp.Data.Transactions = s.store.Transactions(f)
	s.ok(w, r, resp)
}

func (s *Server) transfer(w http.ResponseWriter, r *http.Request) {
	var req dto.TransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.fail(w, r, http.StatusBadRequest, codeInvalidRequest, "bad json")
		return
	}
	if req.EntitySecretCipherText == "" {
		s.fail(w, r, http.StatusBadRequest, codeInvalidRequest, "entitySecretCipherText required")
		return
	}
	if _, err := base64.StdEncoding.DecodeString(req.EntitySecretCipherText); err != nil {
		s.fail(w, r, http.StatusBadRequest, codeInvalidRequest, "entitySecretCipherText must be base64")
		return
	}
	amounts, err := parseAmounts(req.Amounts)
	if err != nil {
		s.fail(w, r, http.StatusBadRequest, codeInvalidRequest, err.Error())
		return
	}

	id, replayed, err := s.store.Transfer(store.Transfer{
		IdempotencyKey:     req.IdempotencyKey,
		WalletID:           req.WalletID,
		TokenID:            req.TokenID,
		Amounts:            amounts,
		DestinationAddress: req.DestinationAddress,
	})
	if err != nil {
		s.transfers.WithLabelValues("rejected").Inc()
		s.storeError(w, r, err)
		return
	}

	result := "accepted"
	if replayed {
		result = "replayed"
	}
	s.transfers.WithLabelValues(result).Inc()
	s.log.Info("transfer "+result,
		zap.String("transfer_id", id),
		zap.String("idempotency_key", req.IdempotencyKey),
		zap.String("wallet_id", req.WalletID),
		zap.String("destination", req.DestinationAddress),
	)

	var resp dto.TransferResponse
	resp.Data.ID = id
	resp.Data.State = string(ledger.StateConfirmed)
	s.ok(w, r, resp)
}

func (s *Server) createWallet(w http.ResponseWriter, r *http.Request) {
	var req dto.CreateWalletRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.fail(w, r, http.StatusBadRequest, codeInvalidRequest, "bad json")
		return
	}
	if err := s.store.CreateWallet(req.WalletID, req.Address); err != nil {
		s.storeError(w, r, err)
		return
	}
	s.respond(w, r, http.StatusCreated, req)
}

// deposit simula uma contribuição externa chegando na carteira
func (s *Server) deposit(w http.ResponseWriter, r *http.Request) {
	var req dto.DepositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.fail(w, r, http.StatusBadRequest, codeInvalidRequest, "bad json")
		return
	}
	if req.SourceAddress == "" || req.TokenID == "" {
		s.fail(w, r, http.StatusBadRequest, codeInvalidRequest, "sourceAddress and tokenId required")
		return
	}
	amounts, err := parseAmounts(req.Amounts)
	if err != nil {
		s.fail(w, r, http.StatusBadRequest, codeInvalidRequest, err.Error())
		return
	}
	id, err := s.store.Deposit(req.SourceAddress, req.WalletID, req.TokenID, amounts)
	if err != nil {
		s.storeError(w, r, err)
		return
	}
	s.ok(w, r, dto.DepositResponse{TransactionID: id})
}

func (s *Server) storeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, store.ErrWalletNotFound):
		s.fail(w, r, http.StatusNotFound, codeWalletNotFound, err.Error())
	case errors.Is(err, store.ErrInsufficientBalance):
		s.fail(w, r, http.StatusBadRequest, codeInsufficientBalance, err.Error())
	case errors.Is(err, store.ErrKeyConflict):
		s.fail(w, r, http.StatusConflict, codeKeyConflict, err.Error())
	case errors.Is(err, store.ErrWalletExists):
		s.fail(w, r, http.StatusConflict, codeWalletExists, err.Error())
	case errors.Is(err, store.ErrInvalidAmount), errors.Is(err, store.ErrInvalidRequest):
		s.fail(w, r, http.StatusBadRequest, codeInvalidRequest, err.Error())
	default:
		s.log.Error("simulator store error", zap.Error(err))
		s.fail(w, r, http.StatusInternalServerError, 0, "internal error")
	}
}

func (s *Server) ok(w http.ResponseWriter, r *http.Request, v any) {
	s.respond(w, r, http.StatusOK, v)
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, status, code int, msg string) {
	s.respond(w, r, status, dto.ErrorResponse{Code: code, Message: msg})
}

func (s *Server) respond(w http.ResponseWriter, r *http.Request, status int, v any) {
	route := "unmatched" // rejeitado antes do roteamento
	if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
		route = rc.RoutePattern()
	}
	s.requests.WithLabelValues(route, strconv.Itoa(status)).Inc()
	writeJSON(w, status, v)
}

func parseAmounts(raw []string) ([]decimal.Decimal, error) {
	if len(raw) == 0 {
		return nil, errors.New("amounts required")
	}
	out := make([]decimal.Decimal, len(raw))
	for i, a := range raw {
		d, err := decimal.NewFromString(a)
		if err != nil {
			return nil, errors.New("amounts must be decimal strings")
		}
		out[i] = d
	}
	return out, nil
}

// writeJSON serializa e envia resposta JSON
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
