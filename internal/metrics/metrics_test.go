package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestEngineEvents_IncrementPerLabel(t *testing.T) {
	before := testutil.ToFloat64(EngineEvents.WithLabelValues("started"))
	EngineStarted()
	after := testutil.ToFloat64(EngineEvents.WithLabelValues("started"))
	assert.Equal(t, before+1, after)
}

func TestLeaseEvents_ClaimAndRenew(t *testing.T) {
	before := testutil.ToFloat64(LeaseEvents.WithLabelValues("claim", "success"))
	LeaseClaimSuccess()
	assert.Equal(t, before+1, testutil.ToFloat64(LeaseEvents.WithLabelValues("claim", "success")))
}

func TestTriggerFired_PerKind(t *testing.T) {
	before := testutil.ToFloat64(TriggerFired.WithLabelValues("complex"))
	TriggerComplex()
	assert.Equal(t, before+1, testutil.ToFloat64(TriggerFired.WithLabelValues("complex")))
}
