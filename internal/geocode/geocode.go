// Package geocode resolves offer coordinates into street addresses with the
// Google Maps reverse geocoding API.
package geocode

import (
	"context"
	"fmt"
	"net/http"
	"slices"

	"googlemaps.github.io/maps"

	"github.com/JakeFAU/listing-tracker/internal/crawler"
)

// Config controls the Google Maps client.
type Config struct {
	APIKey string
	// BaseURL overrides the API host, used against local test servers.
	BaseURL    string
	HTTPClient *http.Client
}

// Geocoder implements crawler.Geocoder on googlemaps.github.io/maps.
type Geocoder struct {
	client *maps.Client
}

var _ crawler.Geocoder = (*Geocoder)(nil)

// New builds a Geocoder.
func New(cfg Config) (*Geocoder, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("geocode.api_key is required")
	}
	opts := []maps.ClientOption{maps.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, maps.WithBaseURL(cfg.BaseURL))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, maps.WithHTTPClient(cfg.HTTPClient))
	}
	client, err := maps.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("create maps client: %w", err)
	}
	return &Geocoder{client: client}, nil
}

// ReverseGeocode returns the rooftop street address at coords. It returns an
// error wrapping crawler.ErrNotFound when no street address matches.
func (g *Geocoder) ReverseGeocode(ctx context.Context, coords crawler.Coordinates) (crawler.Address, error) {
	results, err := g.client.ReverseGeocode(ctx, &maps.GeocodingRequest{
		LatLng:       &maps.LatLng{Lat: coords.Lat, Lng: coords.Lon},
		LocationType: []maps.GeocodeAccuracy{maps.GeocodeAccuracyRooftop},
	})
	if err != nil {
		return crawler.Address{}, fmt.Errorf("reverse geocode %s: %w", coords, err)
	}
	addr, ok := streetAddress(results)
	if !ok {
		return crawler.Address{}, fmt.Errorf("reverse geocode %s: %w", coords, crawler.ErrNotFound)
	}
	addr.Coordinates = coords
	addr.MapsURL = MapsURL(coords)
	return addr, nil
}

// streetAddress picks the first street_address result and maps its components.
func streetAddress(results []maps.GeocodingResult) (crawler.Address, bool) {
	for _, r := range results {
		if !slices.Contains(r.Types, "street_address") {
			continue
		}
		var addr crawler.Address
		for _, c := range r.AddressComponents {
			switch {
			case slices.Contains(c.Types, "route"):
				addr.Street = c.LongName
			case slices.Contains(c.Types, "street_number"):
				addr.StreetNumber = c.LongName
			case slices.Contains(c.Types, "locality"):
				addr.City = c.LongName
			case slices.Contains(c.Types, "postal_code"):
				addr.PostalCode = c.LongName
			}
		}
		if addr.Street == "" && addr.City == "" && addr.PostalCode == "" {
			return crawler.Address{}, false
		}
		return addr, true
	}
	return crawler.Address{}, false
}

// MapsURL returns a Google Maps search link for coords.
func MapsURL(coords crawler.Coordinates) string {
	return coords.MapsURL()
}
