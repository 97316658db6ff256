package contribution

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/radieske/prize-settlement/internal/settlement/ledger"
)

func inbound(id, from string, amounts ...string) ledger.Transaction {
	return ledger.Transaction{
		ID:                 id,
		SourceAddress:      from,
		DestinationAddress: "0xpool",
		TokenID:            "usdc",
		Amounts:            amounts,
		State:              ledger.StateConfirmed,
		Type:               ledger.TypeInbound,
	}
}

func TestAggregateSumsEveryAmountEntry(t *testing.T) {
	txs := []ledger.Transaction{
		inbound("t1", "0xa", "1.5", "0.25"),
		inbound("t2", "0xb", "3"),
		inbound("t3", "0xa", "0.000001"),
	}

	got, err := Aggregate(txs, "usdc")
	require.NoError(t, err)

	assert.Equal(t, "1.750001", got.ByAddress["0xa"].String())
	assert.Equal(t, "3", got.ByAddress["0xb"].String())
	assert.Equal(t, "4.750001", got.GrandTotal.String())
	assert.Equal(t, []string{"0xa", "0xb"}, got.Addresses())
}

func TestAggregateGrandTotalMatchesSum(t *testing.T) {
	txs := []ledger.Transaction{
		inbound("t1", "0xa", "0.1", "0.2"),
		inbound("t2", "0xb", "0.3"),
		inbound("t3", "0xc", "123456789.123456789"),
		inbound("t4", "0xb", "7"),
	}

	got, err := Aggregate(txs, "usdc")
	require.NoError(t, err)

	sum := decimal.Zero
	for _, v := range got.ByAddress {
		sum = sum.Add(v)
	}
	assert.True(t, sum.Equal(got.GrandTotal), "sum %s != grand total %s", sum, got.GrandTotal)
}

func TestAggregateFiltersStateTypeAndToken(t *testing.T) {
	pending := inbound("t2", "0xb", "10")
	pending.State = ledger.StatePending
	outbound := inbound("t3", "0xc", "10")
	outbound.Type = ledger.TypeOutbound
	otherToken := inbound("t4", "0xd", "10")
	otherToken.TokenID = "eth"

	got, err := Aggregate([]ledger.Transaction{inbound("t1", "0xa", "2"), pending, outbound, otherToken}, "usdc")
	require.NoError(t, err)
	assert.Len(t, got.ByAddress, 1)
	assert.Equal(t, "2", got.GrandTotal.String())
}

func TestAggregateSkipsRepeatedTransactionIDs(t *testing.T) {
	tx := inbound("t1", "0xa", "5")
	got, err := Aggregate([]ledger.Transaction{tx, tx}, "usdc")
	require.NoError(t, err)
	assert.Equal(t, "5", got.GrandTotal.String())
}

func TestAggregateEmptyIsNoContributions(t *testing.T) {
	_, err := Aggregate(nil, "usdc")
	assert.ErrorIs(t, err, ErrNoContributions)

	_, err = Aggregate([]ledger.Transaction{inbound("t1", "0xa", "0")}, "usdc")
	assert.ErrorIs(t, err, ErrNoContributions)
}

func TestAggregateRejectsMalformedAmount(t *testing.T) {
	_, err := Aggregate([]ledger.Transaction{inbound("t1", "0xa", "abc")}, "usdc")
	require.Error(t, err)
	assert.ErrorContains(t, err, "t1")
}
