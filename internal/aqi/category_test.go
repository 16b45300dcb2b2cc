package aqi

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify_Boundaries(t *testing.T) {
	tests := []struct {
		index float64
		label string
		tier  Tier
	}{
		{0, "Good", TierGood},
		{50, "Good", TierGood},
		{50.5, "Good", TierGood},
		{51, "Moderate", TierModerate},
		{100, "Moderate", TierModerate},
		{101, "Unhealthy for Sensitive", TierUnhealthySensitive},
		{150, "Unhealthy for Sensitive", TierUnhealthySensitive},
		{151, "Unhealthy", TierUnhealthy},
		{200, "Unhealthy", TierUnhealthy},
		{201, "Very Unhealthy", TierVeryUnhealthy},
		{300, "Very Unhealthy", TierVeryUnhealthy},
		{301, "Hazardous", TierHazardous},
		{500, "Hazardous", TierHazardous},
	}

	for _, tt := range tests {
		c := Classify(tt.index)
		assert.Equal(t, tt.label, c.Label, "index %v", tt.index)
		assert.Equal(t, tt.tier, c.Tier, "index %v", tt.index)
		assert.NotEmpty(t, c.Recommendation)
	}
}

func TestClassify_OutOfRange(t *testing.T) {
	assert.Equal(t, Unknown, Classify(-1))
	assert.Equal(t, Unknown, Classify(-0.01))
	assert.Equal(t, Unknown, Classify(math.NaN()))

	assert.Equal(t, "Hazardous", Classify(501).Label)
	assert.Equal(t, "Hazardous", Classify(9999).Label)
	assert.Equal(t, "Hazardous", Classify(math.Inf(1)).Label)
}

func TestClassify_MonotonicOverScale(t *testing.T) {
	defined := make(map[string]bool)
	for _, c := range Categories() {
		defined[c.Label] = true
	}
	require.Len(t, defined, 6)

	prev := TierUnknown
	for v := 0.0; v <= 500; v += 0.5 {
		c := Classify(v)
		require.True(t, defined[c.Label], "index %v classified as %q", v, c.Label)
		require.GreaterOrEqual(t, c.Tier, prev, "tier decreased at %v", v)
		prev = c.Tier
	}
}

func TestRange(t *testing.T) {
	lo, hi, ok := Range(TierUnhealthy)
	require.True(t, ok)
	assert.Equal(t, 151.0, lo)
	assert.Equal(t, 200.0, hi)

	_, _, ok = Range(TierUnknown)
	assert.False(t, ok)
}

func TestSummary(t *testing.T) {
	assert.Contains(t, Summary(50), "throughout the day")
	assert.Contains(t, Summary(50.1), "Moderate")
	assert.Contains(t, Summary(100), "Moderate")
	assert.Contains(t, Summary(150), "sensitive groups")
	assert.Contains(t, Summary(151), "Poor air quality")
}

func TestEmoji(t *testing.T) {
	assert.Equal(t, "🟢", Emoji("Good"))
	assert.Equal(t, "⚫", Emoji("Hazardous"))
	assert.Equal(t, "❓", Emoji("Unknown"))
}
