package enums

import "fmt"

// AdjustmentType maps to the adjustment_type enum in Postgres.
type AdjustmentType string

const (
	AdjustmentIn  AdjustmentType = "IN"
	AdjustmentOut AdjustmentType = "OUT"
	AdjustmentSet AdjustmentType = "ADJUSTMENT"
)

var validAdjustmentTypes = []AdjustmentType{
	AdjustmentIn,
	AdjustmentOut,
	AdjustmentSet,
}

// IsValid reports whether the value matches the canonical adjustment_type enum.
func (a AdjustmentType) IsValid() bool {
	for _, candidate := range validAdjustmentTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseAdjustmentType converts raw input into AdjustmentType.
func ParseAdjustmentType(value string) (AdjustmentType, error) {
	for _, candidate := range validAdjustmentTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid adjustment type %q", value)
}
