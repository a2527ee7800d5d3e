package xray

import (
	"fmt"
	"math"
)

// Coordinate bounds enforced when range validation is on.
const (
	MinLatitude  = -90.0
	MaxLatitude  = 90.0
	MinLongitude = -180.0
	MaxLongitude = 180.0
)

// CheckRanges validates x as latitude, y as longitude and speed as a
// finite non-negative value.
func CheckRanges(c Coordinates) error {
	for name, v := range map[string]float64{"x": c.X, "y": c.Y, "speed": c.Speed} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%s is not finite", name)
		}
	}
	if c.X < MinLatitude || c.X > MaxLatitude {
		return fmt.Errorf("x %v outside [%v, %v]", c.X, MinLatitude, MaxLatitude)
	}
	if c.Y < MinLongitude || c.Y > MaxLongitude {
		return fmt.Errorf("y %v outside [%v, %v]", c.Y, MinLongitude, MaxLongitude)
	}
	if c.Speed < 0 {
		return fmt.Errorf("speed %v is negative", c.Speed)
	}
	return nil
}
