package store

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/radieske/prize-settlement/internal/settlement/ledger"
)

var (
	ErrWalletNotFound      = errors.New("wallet not found")
	ErrWalletExists        = errors.New("wallet already exists")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrInvalidRequest      = errors.New("invalid request")
	ErrKeyConflict         = errors.New("idempotency key reused with a different request")
)

// Filter espelha os parâmetros de consulta de GET /transactions; campos vazios não filtram
type Filter struct {
	DestinationAddress string
	State              ledger.TransactionState
}

// Transfer é a movimentação recebida em POST /transactions/transfer
type Transfer struct {
	IdempotencyKey     string
	WalletID           string
	TokenID            string
	Amounts            []decimal.Decimal
	DestinationAddress string
}

type wallet struct {
	id       string
	address  string
	balances map[string]decimal.Decimal // tokenID -> saldo
}

type accepted struct {
	txID string
	req  Transfer
}

// Memory guarda carteiras, transações e chaves de idempotência em memória.
// Todas as operações são serializadas por um único mutex.
type Memory struct {
	mu        sync.Mutex
	wallets   map[string]*wallet
	byAddress map[string]*wallet
	txs       []ledger.Transaction
	keys      map[string]accepted
	newID     func() string
}

func NewMemory() *Memory {
	return &Memory{
		wallets:   make(map[string]*wallet),
		byAddress: make(map[string]*wallet),
		keys:      make(map[string]accepted),
		newID:     uuid.NewString,
	}
}

// CreateWallet registra uma carteira vazia
func (m *Memory) CreateWallet(walletID, address string) error {
	if walletID == "" || address == "" {
		return fmt.Errorf("%w: walletId and address required", ErrInvalidRequest)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.wallets[walletID]; ok {
		return ErrWalletExists
	}
	if _, ok := m.byAddress[address]; ok {
		return ErrWalletExists
	}
	w := &wallet{id: walletID, address: address, balances: make(map[string]decimal.Decimal)}
	m.wallets[walletID] = w
	m.byAddress[address] = w
	return nil
}

// Deposit credita a carteira de destino e registra uma transação INBOUND confirmada
// vinda de um endereço externo
func (m *Memory) Deposit(sourceAddress, walletID, tokenID string, amounts []decimal.Decimal) (string, error) {
	if err := checkAmounts(amounts); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.wallets[walletID]
	if !ok {
		return "", ErrWalletNotFound
	}
	w.balances[tokenID] = w.balances[tokenID].Add(sum(amounts))
	id := m.newID()
	m.txs = append(m.txs, newTx(id, sourceAddress, w.address, tokenID, amounts, ledger.TypeInbound))
	return id, nil
}

// Balances devolve uma cópia dos saldos da carteira
func (m *Memory) Balances(walletID string) (map[string]decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.wallets[walletID]
	if !ok {
		return nil, ErrWalletNotFound
	}
	out := make(map[string]decimal.Decimal, len(w.balances))
	for k, v := range w.balances {
		out[k] = v
	}
	return out, nil
}

// Transactions devolve as transações que passam no filtro, em ordem de inserção
func (m *Memory) Transactions(f Filter) []ledger.Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ledger.Transaction, 0, len(m.txs))
	for _, tx := range m.txs {
		if f.DestinationAddress != "" && tx.DestinationAddress != f.DestinationAddress {
			continue
		}
		if f.State != "" && tx.State != f.State {
			continue
		}
		out = append(out, tx)
	}
	return out
}

// Transfer debita a carteira de origem e credita o destino quando ele é uma carteira conhecida.
// A mesma chave de idempotência com a mesma requisição devolve o id original sem mover fundos de novo.
func (m *Memory) Transfer(t Transfer) (id string, replayed bool, err error) {
	if t.IdempotencyKey == "" {
		return "", false, fmt.Errorf("%w: idempotencyKey required", ErrInvalidRequest)
	}
	if err := checkAmounts(t.Amounts); err != nil {
		return "", false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if prev, ok := m.keys[t.IdempotencyKey]; ok {
		if !sameTransfer(prev.req, t) {
			return "", false, ErrKeyConflict
		}
		return prev.txID, true, nil
	}

	src, ok := m.wallets[t.WalletID]
	if !ok {
		return "", false, ErrWalletNotFound
	}
	total := sum(t.Amounts)
	if src.balances[t.TokenID].LessThan(total) {
		return "", false, ErrInsufficientBalance
	}

	src.balances[t.TokenID] = src.balances[t.TokenID].Sub(total)
	id = m.newID()
	m.txs = append(m.txs, newTx(id, src.address, t.DestinationAddress, t.TokenID, t.Amounts, ledger.TypeOutbound))
	if dst, ok := m.byAddress[t.DestinationAddress]; ok {
		dst.balances[t.TokenID] = dst.balances[t.TokenID].Add(total)
		m.txs = append(m.txs, newTx(m.newID(), src.address, dst.address, t.TokenID, t.Amounts, ledger.TypeInbound))
	}
	m.keys[t.IdempotencyKey] = accepted{txID: id, req: t}
	return id, false, nil
}

// Accepted conta as transferências efetivamente aceitas (sem replays)
func (m *Memory) Accepted() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.keys)
}

// Wallets lista os ids cadastrados em ordem alfabética
func (m *Memory) Wallets() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.wallets))
	for id := range m.wallets {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func newTx(id, from, to, tokenID string, amounts []decimal.Decimal, typ ledger.TransactionType) ledger.Transaction {
	raw := make([]string, len(amounts))
	for i, a := range amounts {
		raw[i] = a.String()
	}
	return ledger.Transaction{
		ID:                 id,
		SourceAddress:      from,
		DestinationAddress: to,
		TokenID:            tokenID,
		Amounts:            raw,
		State:              ledger.StateConfirmed,
		Type:               typ,
	}
}

func checkAmounts(amounts []decimal.Decimal) error {
	if len(amounts) == 0 {
		return fmt.Errorf("%w: amounts required", ErrInvalidAmount)
	}
	for _, a := range amounts {
		if !a.IsPositive() {
			return fmt.Errorf("%w: %s", ErrInvalidAmount, a)
		}
	}
	return nil
}

func sum(amounts []decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, a := range amounts {
		total = total.Add(a)
	}
	return total
}

func sameTransfer(a, b Transfer) bool {
	if a.WalletID != b.WalletID || a.TokenID != b.TokenID || a.DestinationAddress != b.DestinationAddress || len(a.Amounts) != len(b.Amounts) {
		return false
	}
	for i := range a.Amounts {
		if !a.Amounts[i].Equal(b.Amounts[i]) {
			return false
		}
	}
	return true
}
