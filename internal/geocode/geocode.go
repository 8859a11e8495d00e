// Package geocode resolves UK postcodes to coordinates.
//
// Geocoding is best-effort: a Geocoder never returns an error to its caller.
// Failures are reported as "not found" and logged where they happen.
package geocode

import (
	"context"
	"fmt"

	"calmmap/internal/geo"
)

// Geocoder resolves a postcode to its centroid. ok is false when the code is
// unknown or the lookup failed for any reason.
type Geocoder interface {
	Resolve(ctx context.Context, code string) (p geo.Point, ok bool)
}

// ExternalServiceError describes a failed call to the lookup service. It is
// logged and then swallowed; it never fails a moderation action.
type ExternalServiceError struct {
	Service    string
	StatusCode int
	Err        error
}

func (e *ExternalServiceError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("%s lookup failed: %v", e.Service, e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("%s lookup failed: status %d", e.Service, e.StatusCode)
	default:
		return fmt.Sprintf("%s lookup failed", e.Service)
	}
}

func (e *ExternalServiceError) Unwrap() error { return e.Err }

// Nop never resolves anything. Used when no lookup service is configured.
type Nop struct{}

func (Nop) Resolve(context.Context, string) (geo.Point, bool) { return geo.Point{}, false }
