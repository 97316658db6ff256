// Package allocation divide um valor de pagamento entre contribuintes com aritmética decimal exata.
package allocation

import (
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// Places é a precisão de cada parcela. Toda parcela é truncada (arredondamento para baixo),
// então a soma nunca passa do total e o resíduo fica entre 0 e n unidades.
const Places int32 = 6

// Unit é a menor parcela representável (10^-6)
var Unit = decimal.New(1, -Places)

var (
	ErrZeroGrandTotal = errors.New("grand total must be positive")
	ErrNegativeAmount = errors.New("amounts must not be negative")
	ErrNoParticipants = errors.New("at least one participant required")
)

// Share é a parcela de um endereço
type Share struct {
	Address string
	Amount  decimal.Decimal
}

// Allocation traz as parcelas ordenadas por endereço e o resíduo não atribuído
type Allocation struct {
	Shares   []Share
	Residual decimal.Decimal // total - soma das parcelas; >= 0, nunca redistribuído
}

// Sum soma as parcelas
func (a Allocation) Sum() decimal.Decimal {
	total := decimal.Zero
	for _, s := range a.Shares {
		total = total.Add(s.Amount)
	}
	return total
}

// Proportional calcula total * contribuído / grandTotal para cada endereço,
// truncado em Places casas.
func Proportional(total decimal.Decimal, contributions map[string]decimal.Decimal, grandTotal decimal.Decimal) (Allocation, error) {
	if !grandTotal.IsPositive() {
		return Allocation{}, ErrZeroGrandTotal
	}
	if total.IsNegative() {
		return Allocation{}, fmt.Errorf("%w: total %s", ErrNegativeAmount, total)
	}
	if len(contributions) == 0 {
		return Allocation{}, ErrNoParticipants
	}

	addrs := make([]string, 0, len(contributions))
	for a, amount := range contributions {
		if amount.IsNegative() {
			return Allocation{}, fmt.Errorf("%w: %s contributed %s", ErrNegativeAmount, a, amount)
		}
		addrs = append(addrs, a)
	}
	sort.Strings(addrs)

	out := Allocation{Shares: make([]Share, 0, len(addrs))}
	for _, a := range addrs {
		out.Shares = append(out.Shares, Share{
			Address: a,
			Amount:  quotient(total.Mul(contributions[a]), grandTotal),
		})
	}
	out.Residual = total.Sub(out.Sum())
	return out, nil
}

// EqualSplit divide total em n parcelas iguais com o mesmo truncamento; n*parcela <= total
func EqualSplit(total decimal.Decimal, n int) (decimal.Decimal, error) {
	if n <= 0 {
		return decimal.Zero, ErrNoParticipants
	}
	if total.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: total %s", ErrNegativeAmount, total)
	}
	return quotient(total, decimal.NewFromInt(int64(n))), nil
}

// quotient devolve num/den truncado em Places casas, sem arredondamento intermediário.
// num >= 0 e den > 0, então o quociente do QuoRem já é o piso.
func quotient(num, den decimal.Decimal) decimal.Decimal {
	q, _ := num.QuoRem(den, Places)
	return q
}
