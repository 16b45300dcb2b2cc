package aqi

import "math"

// Tier is the ordinal severity of a category. Higher is worse.
type Tier int

const (
	TierUnknown Tier = iota - 1
	TierGood
	TierModerate
	TierUnhealthySensitive
	TierUnhealthy
	TierVeryUnhealthy
	TierHazardous
)

// Category is the classification of a single index value.
type Category struct {
	Tier           Tier   `json:"tier"`
	Label          string `json:"label"`
	Recommendation string `json:"recommendation"`
}

type band struct {
	min, max float64
	category Category
}

// bands are contiguous over [0,500]. The last band is open-ended upward.
var bands = []band{
	{0, 50, Category{TierGood, "Good", "Air quality is satisfactory. Outdoor activities are safe."}},
	{51, 100, Category{TierModerate, "Moderate", "Air quality is acceptable for most people."}},
	{101, 150, Category{TierUnhealthySensitive, "Unhealthy for Sensitive", "Sensitive individuals should limit outdoor activities."}},
	{151, 200, Category{TierUnhealthy, "Unhealthy", "Everyone should limit prolonged outdoor activities."}},
	{201, 300, Category{TierVeryUnhealthy, "Very Unhealthy", "Avoid outdoor activities. Stay indoors."}},
	{301, 500, Category{TierHazardous, "Hazardous", "Emergency conditions. Everyone should stay indoors."}},
}

// Unknown is returned for values that fall below every band.
var Unknown = Category{TierUnknown, "Unknown", "Unable to determine air quality status."}

// Classify maps an index value to its category. It never fails: negative
// and NaN input is Unknown, anything above 500 is Hazardous. Fractional
// values between two integer bands belong to the lower band.
func Classify(index float64) Category {
	if math.IsNaN(index) || index < bands[0].min {
		return Unknown
	}
	for i := len(bands) - 1; i >= 0; i-- {
		if index >= bands[i].min {
			return bands[i].category
		}
	}
	return Unknown
}

// Categories returns the defined categories in tier order.
func Categories() []Category {
	out := make([]Category, len(bands))
	for i, b := range bands {
		out[i] = b.category
	}
	return out
}

// Range returns the inclusive integer bounds of a tier.
func Range(t Tier) (lo, hi float64, ok bool) {
	for _, b := range bands {
		if b.category.Tier == t {
			return b.min, b.max, true
		}
	}
	return 0, 0, false
}

// Emoji returns the marker used in messages for a category label.
func Emoji(label string) string {
	switch label {
	case "Good":
		return "🟢"
	case "Moderate":
		return "🟡"
	case "Unhealthy for Sensitive":
		return "🟠"
	case "Unhealthy":
		return "🔴"
	case "Very Unhealthy":
		return "🟣"
	case "Hazardous":
		return "⚫"
	default:
		return "❓"
	}
}

// Summary buckets the mean of a day's readings into a qualitative sentence.
// Boundaries are inclusive.
func Summary(mean float64) string {
	switch {
	case mean <= 50:
		return "Good air quality throughout the day. Safe for all outdoor activities."
	case mean <= 100:
		return "Moderate air quality. Most people can enjoy outdoor activities."
	case mean <= 150:
		return "Unhealthy for sensitive groups. Consider limiting outdoor exposure."
	default:
		return "Poor air quality. Limit outdoor activities and consider wearing masks."
	}
}
