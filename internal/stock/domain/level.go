package domain

// QuantityLevel is the coarse stock-level tier of an item
type QuantityLevel string

const (
	LevelHigh     QuantityLevel = "high"
	LevelModerate QuantityLevel = "moderate"
	LevelLow      QuantityLevel = "low"
)

// Tier boundaries: above highThreshold is High, moderateFloor..highThreshold is Moderate.
const (
	highThreshold = 50
	moderateFloor = 21
)

// LevelFor maps an aggregate quantity onto its tier
func LevelFor(overallQuantity int) QuantityLevel {
	switch {
	case overallQuantity > highThreshold:
		return LevelHigh
	case overallQuantity >= moderateFloor:
		return LevelModerate
	default:
		return LevelLow
	}
}
