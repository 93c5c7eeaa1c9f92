package limiter

import (
	"testing"

	"gotest.tools/v3/assert"
)

func TestFixedWindowRateLimiterBoundsTrueReturns(t *testing.T) {
	now := int64(0)
	clock := func() int64 { return now }
	l := NewFixedWindowConnectionRate(3, 1000, clock)

	allowed := 0
	for i := 0; i < 10; i++ {
		if l.AllowNewConnection() {
			allowed++
		}
	}
	assert.Equal(t, allowed, 3)

	now = 1000
	allowed = 0
	for i := 0; i < 10; i++ {
		if l.AllowNewConnection() {
			allowed++
		}
	}
	assert.Equal(t, allowed, 3)
}

func TestFixedWindowResetsOnNewWindow(t *testing.T) {
	now := int64(0)
	clock := func() int64 { return now }
	l := NewFixedWindowConnectionRate(1, 100, clock)
	assert.Assert(t, l.AllowNewConnection())
	assert.Assert(t, !l.AllowNewConnection())
	now = 99
	assert.Assert(t, !l.AllowNewConnection())
	now = 100
	assert.Assert(t, l.AllowNewConnection())
}

func TestTotalConnectionLimiterNeverNegative(t *testing.T) {
	l := NewTotalConnectionLimiter(2)
	l.ConnectionClosed()
	l.ConnectionClosed()
	assert.Equal(t, l.Count(), 0)

	assert.Assert(t, l.AllowNewConnection())
	assert.Assert(t, l.AllowNewConnection())
	assert.Assert(t, !l.AllowNewConnection())
	l.ConnectionClosed()
	assert.Assert(t, l.AllowNewConnection())
}

func TestDataRateLimitRemainingQuotaBounded(t *testing.T) {
	d := NewDataRateLimit(1000)
	d.RecordUsage(300)
	assert.Equal(t, d.RemainingQuota(), int64(700))
	d.RecordUsage(10000)
	assert.Equal(t, d.RemainingQuota(), int64(0))
	d.OnTimer()
	assert.Equal(t, d.RemainingQuota(), int64(1000))
}

func TestDataRateLimitMaxQuotaDisablesAccounting(t *testing.T) {
	d := NewDataRateLimit(MaxQuota)
	d.RecordUsage(1 << 40)
	assert.Equal(t, d.RemainingQuota(), int64(MaxQuota))
	assert.Assert(t, d.Allow(1 << 62))
}

func TestDataRateLimitAlarmFires(t *testing.T) {
	var fired int64
	d := NewDataRateLimit(1000)
	d.SetAlarm(500, func(used int64) { fired = used })
	d.RecordUsage(600)
	assert.Assert(t, fired >= 500)
}
