package ledger

import "github.com/shopspring/decimal"

// WalletRef identifica uma carteira custodial: walletId interno do ledger e endereço on-chain
type WalletRef struct {
	WalletID string
	Address  string
}

type TransactionState string

const (
	StatePending   TransactionState = "PENDING"
	StateConfirmed TransactionState = "CONFIRMED"
	StateFailed    TransactionState = "FAILED"
)

type TransactionType string

const (
	TypeInbound  TransactionType = "INBOUND"
	TypeOutbound TransactionType = "OUTBOUND"
)

// Transaction é o snapshot somente leitura devolvido pelo ledger.
// Amounts vem como strings decimais; cada entrada conta como uma contribuição.
type Transaction struct {
	ID                 string           `json:"id"`
	SourceAddress      string           `json:"sourceAddress"`
	DestinationAddress string           `json:"destinationAddress"`
	TokenID            string           `json:"tokenId"`
	Amounts            []string         `json:"amounts"`
	State              TransactionState `json:"state"`
	Type               TransactionType  `json:"transactionType"`
}

// Balance distingue saldo presente de saldo ausente (zero) sem usar erro para isso
type Balance struct {
	Amount decimal.Decimal
	Found  bool
}

// TransferRequest é uma movimentação de fundos pretendida.
// IdempotencyKey é gerada uma vez por tentativa lógica e reaproveitada só em retries da mesma tentativa.
type TransferRequest struct {
	IdempotencyKey     string
	FromWalletID       string
	TokenID            string
	Amounts            []decimal.Decimal
	DestinationAddress string
	FeeLevel           string
}
