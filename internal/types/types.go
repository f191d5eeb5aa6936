// README: Shared value types used across modules.
package types

// ID identifies drivers (auth uid) and orders.
type ID string

// Point is a WGS84 coordinate pair in decimal degrees.
type Point struct {
	Lat float64 `json:"latitude"`
	Lng float64 `json:"longitude"`
}

// IsZero reports whether the point carries no usable coordinates.
// (0,0) is in the Gulf of Guinea; upstream rows use it as "unset".
func (p Point) IsZero() bool {
	return p.Lat == 0 && p.Lng == 0
}
