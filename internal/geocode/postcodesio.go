package geocode

import (
	"context"
	"errors"
	"net/http"
	"time"

	"calmmap/internal/geo"
	"calmmap/internal/postcode"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

const (
	DefaultBaseURL = "https://api.postcodes.io"
	DefaultTimeout = 5 * time.Second
)

var errNoCoordinates = errors.New("response has no usable coordinates")

// PostcodesIO is the raw lookup client for a postcodes.io compatible API.
// It does no caching; wrap it with Cached.
type PostcodesIO struct {
	client *resty.Client
	logger *zap.SugaredLogger
}

type postcodeResponse struct {
	Status int `json:"status"`
	Result *struct {
		// Decoded loosely so a string or null coordinate is treated as missing
		// instead of failing the whole decode.
		Latitude  any `json:"latitude"`
		Longitude any `json:"longitude"`
	} `json:"result"`
}

func NewPostcodesIO(baseURL string, timeout time.Duration, logger *zap.SugaredLogger) *PostcodesIO {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")

	return &PostcodesIO{client: client, logger: logger}
}

// Lookup performs one call against the service and reports why it failed.
func (p *PostcodesIO) Lookup(ctx context.Context, code string) (geo.Point, error) {
	var out postcodeResponse

	resp, err := p.client.R().
		SetContext(ctx).
		SetPathParam("code", postcode.Normalize(code)).
		SetResult(&out).
		Get("/postcodes/{code}")
	if err != nil {
		return geo.Point{}, &ExternalServiceError{Service: "postcodes.io", Err: err}
	}
	if resp.StatusCode() != http.StatusOK {
		return geo.Point{}, &ExternalServiceError{Service: "postcodes.io", StatusCode: resp.StatusCode()}
	}
	if out.Result == nil {
		return geo.Point{}, &ExternalServiceError{Service: "postcodes.io", StatusCode: resp.StatusCode(), Err: errNoCoordinates}
	}

	lat, latOK := out.Result.Latitude.(float64)
	lng, lngOK := out.Result.Longitude.(float64)
	if !latOK || !lngOK || lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		return geo.Point{}, &ExternalServiceError{Service: "postcodes.io", StatusCode: resp.StatusCode(), Err: errNoCoordinates}
	}

	return geo.Point{Lat: lat, Lng: lng}, nil
}

// Resolve implements Geocoder. Every failure degrades to ok == false.
func (p *PostcodesIO) Resolve(ctx context.Context, code string) (geo.Point, bool) {
	pt, err := p.Lookup(ctx, code)
	if err != nil {
		p.logger.Warnw("geocoding failed", "postcode", postcode.Normalize(code), "error", err)
		return geo.Point{}, false
	}
	return pt, true
}
