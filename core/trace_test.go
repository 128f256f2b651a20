package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestTraceStartEnd(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	db := newTestDB(t, &fakeExec{}, OptionSetLogger(zap.New(core)))

	timer := db.TraceStart(testTenantID, "PricingStorage", "getPricingModels")
	timer.End(zap.Int("count", 3))

	entries := logs.AllUntimed()
	require.Len(t, entries, 2)
	assert.Equal(t, "start", entries[0].Message)
	assert.Equal(t, "end", entries[1].Message)

	start := entries[0].ContextMap()
	end := entries[1].ContextMap()
	assert.Equal(t, timer.ID(), start["timer"])
	assert.Equal(t, start["timer"], end["timer"])
	assert.Equal(t, "PricingStorage", end["module"])
	assert.Equal(t, "getPricingModels", end["method"])
	assert.Equal(t, int64(3), end["count"])
	assert.Contains(t, end, "duration")
}

func TestTraceDisabledAboveDebug(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	db := newTestDB(t, &fakeExec{}, OptionSetLogger(zap.New(core)))

	db.TraceStart(testTenantID, "SiteAreaStorage", "getSiteAreas").End()
	assert.Zero(t, logs.Len())
}
