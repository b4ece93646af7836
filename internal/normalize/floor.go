package normalize

import (
	"strconv"
	"strings"
)

// Ground floor is 0 and storey counts are literal. Anything above ten floors
// collapses to 11.
var floorLabels = map[string]int{
	"cellar":          -1,
	"ground_floor":    0,
	"parter":          0,
	"one_floor":       1,
	"two_floors":      2,
	"three_floors":    3,
	"more":            4,
	"> 10":            11,
	"floor_higher_10": 11,
}

// ParseFloor maps a floor or storey-count label onto an integer.
func ParseFloor(label string) (int, bool) {
	label = strings.TrimSpace(label)
	if label == "" {
		return 0, false
	}
	if idx, ok := floorLabels[label]; ok {
		return idx, true
	}
	numeric := strings.TrimPrefix(label, "floor_")
	idx, err := strconv.Atoi(numeric)
	if err != nil || idx < 0 || idx > 10 {
		return 0, false
	}
	return idx, true
}
