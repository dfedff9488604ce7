package util

// BoolValue returns the value of a *bool pointer, or the fallback if nil.
func BoolValue(ptr *bool, fallback bool) bool {
	if ptr == nil {
		return fallback
	}
	return *ptr
}

// FloatValue returns the value of a *float64 pointer, or the fallback if nil.
func FloatValue(ptr *float64, fallback float64) float64 {
	if ptr == nil {
		return fallback
	}
	return *ptr
}
