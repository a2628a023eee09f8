package telegram

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFormatPrice(t *testing.T) {
	assert.Equal(t, "1234.50", formatPrice(1234.5))
	assert.Equal(t, "1.2346", formatPrice(1.23456))
	assert.Equal(t, "0.000123", formatPrice(0.000123))
	assert.Equal(t, "0.00001234", formatPrice(0.00001234))
}

func TestFormatAlertMessage(t *testing.T) {
	n := AlertNotification{
		Symbol: "BTCUSDT", Current: 65000, Target: 64000,
		Direction: "above", TriggeredAt: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC),
	}
	msg := formatAlertMessage(n)
	assert.Contains(t, msg, "BTCUSDT")
	assert.Contains(t, msg, "rose above")
	assert.Contains(t, msg, "65000.00")
}
