package paypal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAmountMinorUnits(t *testing.T) {
	minor, err := Amount{CurrencyCode: "USD", Value: "3.00"}.MinorUnits()
	require.NoError(t, err)
	assert.Equal(t, int64(300), minor)

	minor, err = Amount{CurrencyCode: "USD", Value: "10.5"}.MinorUnits()
	require.NoError(t, err)
	assert.Equal(t, int64(1050), minor)
}

func TestAmountMinorUnits_RejectsSubCent(t *testing.T) {
	_, err := Amount{CurrencyCode: "USD", Value: "3.001"}.MinorUnits()
	assert.Error(t, err)
}

func TestAmountMinorUnits_RejectsGarbage(t *testing.T) {
	_, err := Amount{CurrencyCode: "USD", Value: "three"}.MinorUnits()
	assert.Error(t, err)
}

func TestTransactionCompleted(t *testing.T) {
	assert.True(t, Transaction{Status: "COMPLETED"}.Completed())
	assert.True(t, Transaction{Status: "REFUNDED"}.Completed())
	assert.True(t, Transaction{Status: "PARTIALLY_REFUNDED"}.Completed())
	assert.False(t, Transaction{Status: "DECLINED"}.Completed())
	assert.False(t, Transaction{Status: "PENDING"}.Completed())
}
