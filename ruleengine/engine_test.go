package ruleengine

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/ledgerflow/ledgercore/entity"
)

func newDefaultEngine() *Engine {
	e := NewEngine(zerolog.Nop())
	for _, r := range DefaultRules() {
		e.AddRule(r)
	}
	return e
}

func TestMatchUPI(t *testing.T) {
	e := newDefaultEngine()
	mode, ok := e.Match("UPI/P2M/123456/Swiggy")
	assert.True(t, ok)
	assert.Equal(t, entity.PaymentModeUPI, mode)
}

func TestMatchBankTransferBeatsCardWhenBothPresent(t *testing.T) {
	e := newDefaultEngine()
	mode, ok := e.Match("NEFT transfer via card-linked account")
	assert.True(t, ok)
	assert.Equal(t, entity.PaymentModeBankTransfer, mode)
}

func TestMatchNoRuleFires(t *testing.T) {
	e := newDefaultEngine()
	_, ok := e.Match("unspecified payment")
	assert.False(t, ok)
}
