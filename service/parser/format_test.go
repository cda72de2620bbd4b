package parser

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormat_MpesaReceived(t *testing.T) {
	tx := NewMpesa(fixedClock()).Parse(mpesaReceived)
	require.NotNil(t, tx)

	d := Format(tx)
	assert.Equal(t, "Ksh 2,030.00", d.Amount)
	require.NotNil(t, d.Balance)
	assert.Equal(t, "Ksh 2,032.47", *d.Balance)
	assert.Equal(t, "Free", d.Fee)
	assert.Equal(t, "Received", d.TypeLabel)
	require.NotNil(t, d.Reference)
	assert.Equal(t, "Ref: TLP3V28BZJ", *d.Reference)
	assert.Nil(t, d.MpesaReference)
	assert.Equal(t, "25th December, 2025", d.DateLabel)
}

func TestFormat_FeeAndSentLabel(t *testing.T) {
	tx := NewMpesa(fixedClock()).Parse(mpesaWithdraw)
	require.NotNil(t, tx)

	d := Format(tx)
	assert.Equal(t, "Sent", d.TypeLabel)
	assert.Equal(t, "Ksh 1,000.00", d.Amount)
	assert.Equal(t, "Ksh 29.00", d.Fee)
}

func TestFormat_Loop(t *testing.T) {
	tx := NewLoop(fixedClock()).Parse(loopCredited)
	require.NotNil(t, tx)

	d := Format(tx)
	assert.Equal(t, "KES 50.00", d.Amount)
	assert.Nil(t, d.Balance)
	assert.Equal(t, "Free", d.Fee)
	require.NotNil(t, d.Reference)
	require.NotNil(t, d.MpesaReference)
	assert.Equal(t, "LOOP: NHLRTM2W4GEZ", *d.Reference)
	assert.Equal(t, "M-Pesa: TI18U1UPKW", *d.MpesaReference)
	assert.Equal(t, "1st September, 2025", d.DateLabel)
}

func TestFormat_KCBWithoutReference(t *testing.T) {
	tx := NewKCB(fixedClock()).Parse(kcbDebited)
	require.NotNil(t, tx)

	d := Format(tx)
	assert.Equal(t, "KES 200.00", d.Amount)
	assert.Nil(t, d.Reference)
}

func TestFormatMoney_Grouping(t *testing.T) {
	assert.Equal(t, "KES 1,234,567.50", FormatMoney("KES", decimal.RequireFromString("1234567.5")))
	assert.Equal(t, "Ksh 0.00", FormatMoney("Ksh", decimal.Zero))
	assert.Equal(t, "Ksh 999.99", FormatMoney("Ksh", decimal.RequireFromString("999.99")))
}
