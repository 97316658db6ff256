package ledger

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrUnavailable cobre falhas de rede, timeouts e 429/5xx depois do orçamento de retries.
// Sempre recuperável pelo chamador com nova tentativa.
var ErrUnavailable = errors.New("ledger unavailable")

// RejectedError é um erro estruturado devolvido pelo ledger (assinatura, saldo, carteira desconhecida).
// Não é repetido automaticamente.
type RejectedError struct {
	Status  int
	Code    int
	Message string
}

func (e *RejectedError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("ledger rejected request: http %d: code %d: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("ledger rejected request: http %d: %s", e.Status, e.Message)
}

// TransferError identifica a perna que falhou; Err é ErrUnavailable, *RejectedError ou falha de credencial
type TransferError struct {
	FromWalletID       string
	DestinationAddress string
	Amounts            []decimal.Decimal
	Err                error
}

func (e *TransferError) Error() string {
	amounts := make([]string, len(e.Amounts))
	for i, a := range e.Amounts {
		amounts[i] = a.String()
	}
	return fmt.Sprintf("transfer %s from %s to %s: %v", strings.Join(amounts, "+"), e.FromWalletID, e.DestinationAddress, e.Err)
}

func (e *TransferError) Unwrap() error { return e.Err }

// IsUnavailable indica se err é uma indisponibilidade transitória do ledger
func IsUnavailable(err error) bool { return errors.Is(err, ErrUnavailable) }

// IsRejected indica se err carrega uma rejeição estruturada do ledger
func IsRejected(err error) bool {
	var rej *RejectedError
	return errors.As(err, &rej)
}
