package geo

import "strings"

// DefaultPrecision is the geohash length stored on venues (roughly 5m x 5m cells).
const DefaultPrecision = 9

const base32 = "0123456789bcdefghjkmnpqrstuvwxyz"

// Point is a WGS84 coordinate pair.
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Geohash encodes the point with DefaultPrecision.
func (p Point) Geohash() string {
	return Encode(p.Lat, p.Lng, DefaultPrecision)
}

// Encode returns the base-32 geohash of (lat, lng) with precision characters.
// Bits alternate between longitude and latitude, longitude first.
func Encode(lat, lng float64, precision int) string {
	if precision <= 0 {
		return ""
	}

	latLo, latHi := -90.0, 90.0
	lngLo, lngHi := -180.0, 180.0

	var sb strings.Builder
	sb.Grow(precision)

	even := true
	bit, ch := 0, 0
	for sb.Len() < precision {
		if even {
			mid := (lngLo + lngHi) / 2
			if lng >= mid {
				ch = ch<<1 | 1
				lngLo = mid
			} else {
				ch <<= 1
				lngHi = mid
			}
		} else {
			mid := (latLo + latHi) / 2
			if lat >= mid {
				ch = ch<<1 | 1
				latLo = mid
			} else {
				ch <<= 1
				latHi = mid
			}
		}
		even = !even

		bit++
		if bit == 5 {
			sb.WriteByte(base32[ch])
			bit, ch = 0, 0
		}
	}
	return sb.String()
}
