package orchestrator

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/radieske/prize-settlement/internal/settlement/ledger"
	"github.com/radieske/prize-settlement/internal/settlement/registry"
	"github.com/radieske/prize-settlement/pkg/contracts/events"
)

var (
	// ErrNoWinners é erro do chamador; devolvido antes de qualquer chamada ao ledger
	ErrNoWinners = errors.New("no winner names provided")
	// ErrUnknownWinner marca um vencedor sem projeto registrado
	ErrUnknownWinner = errors.New("unknown winner")
	// ErrPartialSweep indica que ao menos uma carteira ficou fora do pool
	ErrPartialSweep = errors.New("partial sweep failure")
)

type Ledger interface {
	Balance(ctx context.Context, walletID, tokenID string) (ledger.Balance, error)
	ListInboundConfirmed(ctx context.Context, tokenID, destinationAddress string) ([]ledger.Transaction, error)
	CreateTransfer(ctx context.Context, fromWalletID, tokenID string, amount decimal.Decimal, destinationAddress string) (string, error)
}

type Registry interface {
	ListProjects(ctx context.Context) ([]registry.Project, error)
	FindProjectByName(ctx context.Context, name string) (registry.Project, bool, error)
}

type Publisher interface {
	PublishLegs(ctx context.Context, legs []events.SettlementLeg) error
	PublishCompleted(ctx context.Context, e events.SettlementCompleted) error
}

type Invalidator interface {
	Invalidate(ctx context.Context)
}

// TransferResult é o resultado de uma perna. Counterparty é a carteira de origem
// num sweep e o endereço de destino num pagamento.
type TransferResult struct {
	Project      string          `json:"project,omitempty"`
	Amount       decimal.Decimal `json:"amount"`
	Counterparty string          `json:"counterparty,omitempty"`
	TransferID   string          `json:"transferId,omitempty"`
	Failure      string          `json:"failureReason,omitempty"`

	Err error `json:"-"`
}

func (r TransferResult) OK() bool { return r.Err == nil }

func failure(project, counterparty string, amount decimal.Decimal, err error) TransferResult {
	return TransferResult{Project: project, Counterparty: counterparty, Amount: amount, Failure: err.Error(), Err: err}
}

// Summary é o agregado efêmero de uma execução; Winners mistura sucessos e falhas
type Summary struct {
	RunID        string           `json:"runId"`
	Policy       string           `json:"policy"`
	Pool         decimal.Decimal  `json:"pool"`
	Sweeps       []TransferResult `json:"sweeps"`
	Winners      []TransferResult `json:"winners"`
	PartialSweep bool             `json:"partialSweep"`
}

func countOK(rs []TransferResult) (ok, failed int) {
	for _, r := range rs {
		if r.OK() {
			ok++
		} else {
			failed++
		}
	}
	return ok, failed
}
