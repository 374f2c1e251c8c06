package domain

import "time"

type Place struct {
	ID         int64
	Name       string
	Slug       string
	Address    *string
	City       *string
	State      *string
	Country    *string
	PostalCode *string
	Lat, Lng   float64
	CreatedAt  time.Time
	UpdatedAt  *time.Time
}

// Validate checks the invariants every stored place must satisfy.
func (p Place) Validate() error {
	if p.Name == "" {
		return Invalidf("place name is required")
	}
	if p.Slug == "" {
		return Invalidf("place slug is required")
	}
	if p.Lat < -90 || p.Lat > 90 {
		return Invalidf("latitude %v out of range", p.Lat)
	}
	if p.Lng < -180 || p.Lng > 180 {
		return Invalidf("longitude %v out of range", p.Lng)
	}
	return nil
}

// BBox is a lng/lat rectangle: west,south,east,north. All edges inclusive.
type BBox struct {
	West, South, East, North float64
}

// WorldBBox covers every valid coordinate; used when a query carries no box.
func WorldBBox() BBox { return BBox{West: -180, South: -90, East: 180, North: 90} }

// Validate rejects out-of-domain edges and inverted boxes. A box with
// west > east would cross the antimeridian; the single min/max contract
// cannot express that, so it is rejected rather than guessed at.
func (b BBox) Validate() error {
	if b.South < -90 || b.North > 90 || b.South > b.North {
		return Invalidf("bbox latitude range %v..%v invalid", b.South, b.North)
	}
	if b.West < -180 || b.East > 180 {
		return Invalidf("bbox longitude range %v..%v invalid", b.West, b.East)
	}
	if b.West > b.East {
		return Invalidf("bbox crosses the antimeridian (west %v > east %v); split the query", b.West, b.East)
	}
	return nil
}

// Contains reports whether the point lies inside the box, edges included.
func (b BBox) Contains(lat, lng float64) bool {
	return lat >= b.South && lat <= b.North && lng >= b.West && lng <= b.East
}
