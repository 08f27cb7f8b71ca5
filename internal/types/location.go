// README: Geographic value objects shared by trips and the feed filter.
package types

// Point is a WGS84 coordinate in decimal degrees.
type Point struct {
	Lat float64 `json:"lat" bson:"lat" validate:"gte=-90,lte=90"`
	Lng float64 `json:"lng" bson:"lng" validate:"gte=-180,lte=180"`
}

// Location is an address with optional coordinates. The server geocodes the
// address when a geocoder is configured; otherwise Point may be absent.
type Location struct {
	Address string `json:"address" bson:"address" validate:"required,max=512"`
	Point   *Point `json:"coordinates,omitempty" bson:"point,omitempty"`
}

func (l Location) HasPoint() bool {
	return l.Point != nil
}
