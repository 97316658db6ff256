// Package contribution reduz o histórico do ledger a totais por endereço contribuinte.
package contribution

import (
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/radieske/prize-settlement/internal/settlement/ledger"
)

// ErrNoContributions indica total geral zero; o chamador não deve tentar alocar
var ErrNoContributions = errors.New("no contributions")

// Totals é o mapa endereço de origem -> valor acumulado, mais o total geral.
// Recalculado a cada execução, nunca persistido.
type Totals struct {
	ByAddress  map[string]decimal.Decimal
	GrandTotal decimal.Decimal
}

// Addresses devolve os contribuintes em ordem alfabética
func (t Totals) Addresses() []string {
	out := make([]string, 0, len(t.ByAddress))
	for a := range t.ByAddress {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

// Aggregate soma cada entrada de amounts das transações INBOUND confirmadas do token.
// Uma transação com várias entradas conta uma vez por entrada.
func Aggregate(txs []ledger.Transaction, tokenID string) (Totals, error) {
	t := Totals{
		ByAddress:  make(map[string]decimal.Decimal),
		GrandTotal: decimal.Zero,
	}
	seen := make(map[string]struct{}, len(txs))

	for _, tx := range txs {
		if tx.State != ledger.StateConfirmed || tx.Type != ledger.TypeInbound || tx.TokenID != tokenID {
			continue
		}
		if tx.ID != "" {
			if _, dup := seen[tx.ID]; dup {
				continue
			}
			seen[tx.ID] = struct{}{}
		}
		for _, raw := range tx.Amounts {
			amount, err := decimal.NewFromString(raw)
			if err != nil {
				return Totals{}, fmt.Errorf("transaction %s: amount %q: %w", tx.ID, raw, err)
			}
			t.GrandTotal = t.GrandTotal.Add(amount)
			t.ByAddress[tx.SourceAddress] = t.ByAddress[tx.SourceAddress].Add(amount)
		}
	}

	if t.GrandTotal.IsZero() {
		return t, ErrNoContributions
	}
	return t, nil
}
