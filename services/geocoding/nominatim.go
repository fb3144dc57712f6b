package geocoding

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"homehelp/models"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// NominatimConfig configures a NominatimClient.
type NominatimConfig struct {
	BaseURL string
	// UserAgent identifies the application; Nominatim rejects anonymous clients.
	UserAgent string
	Timeout   time.Duration
	// RatePerSec caps outbound calls. Zero or less disables the limiter.
	RatePerSec float64
}

// NominatimClient talks to a Nominatim-compatible geocoding service.
type NominatimClient struct {
	client  *resty.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

// nominatimPlace is the subset of a Nominatim result we consume. Nominatim
// encodes coordinates as strings.
type nominatimPlace struct {
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
	DisplayName string `json:"display_name"`
	Error       string `json:"error,omitempty"`
}

// NewNominatimClient builds a client from cfg.
func NewNominatimClient(cfg NominatimConfig, logger *zap.Logger) *NominatimClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	limit := rate.Inf
	if cfg.RatePerSec > 0 {
		limit = rate.Limit(cfg.RatePerSec)
	}

	c := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetHeader("User-Agent", cfg.UserAgent).
		SetHeader("Accept", "application/json").
		SetTimeout(cfg.Timeout)

	return &NominatimClient{
		client:  c,
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger,
	}
}

// ForwardGeocode searches for query and returns at most five hits.
func (n *NominatimClient) ForwardGeocode(ctx context.Context, query string) ([]models.GeocodeHit, error) {
	query = strings.TrimSpace(query)
	if QueryTooShort(query) {
		geocodeRequestsTotal.WithLabelValues(opForward, outcomeTooShort).Inc()
		return []models.GeocodeHit{}, nil
	}
	if err := n.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	resp, err := n.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"q":      query,
			"format": "json",
			"limit":  "5",
		}).
		Get("/search")
	if err != nil {
		geocodeRequestsTotal.WithLabelValues(opForward, outcomeError).Inc()
		return nil, fmt.Errorf("forward geocode request: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		geocodeRequestsTotal.WithLabelValues(opForward, outcomeError).Inc()
		return nil, fmt.Errorf("forward geocode: status %d", resp.StatusCode())
	}

	var places []nominatimPlace
	if err := json.Unmarshal(resp.Body(), &places); err != nil {
		geocodeRequestsTotal.WithLabelValues(opForward, outcomeError).Inc()
		return nil, fmt.Errorf("decode forward geocode response: %w", err)
	}

	hits := make([]models.GeocodeHit, 0, len(places))
	for _, p := range places {
		lat, lon, ok := p.coordinates()
		if !ok || p.DisplayName == "" {
			n.logger.Debug("ForwardGeocode: skipping malformed place", zap.String("lat", p.Lat), zap.String("lon", p.Lon))
			continue
		}
		hits = append(hits, models.GeocodeHit{DisplayName: p.DisplayName, Lat: lat, Lon: lon})
	}
	if len(hits) == 0 {
		geocodeRequestsTotal.WithLabelValues(opForward, outcomeEmpty).Inc()
	} else {
		geocodeRequestsTotal.WithLabelValues(opForward, outcomeOK).Inc()
	}
	return hits, nil
}

// ReverseGeocode looks up the address at lat/lng. Any failure is reported as
// AddressUnavailable so callers can fall back to a placeholder.
func (n *NominatimClient) ReverseGeocode(ctx context.Context, lat, lng float64) (*models.Address, error) {
	if err := n.limiter.Wait(ctx); err != nil {
		return nil, models.WrapDiscoveryError(models.ErrKindAddressUnavailable, "rate limiter", err)
	}

	resp, err := n.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"lat":    strconv.FormatFloat(lat, 'f', -1, 64),
			"lon":    strconv.FormatFloat(lng, 'f', -1, 64),
			"format": "json",
		}).
		Get("/reverse")
	if err != nil {
		geocodeRequestsTotal.WithLabelValues(opReverse, outcomeError).Inc()
		return nil, models.WrapDiscoveryError(models.ErrKindAddressUnavailable, "reverse geocode request", err)
	}
	if resp.StatusCode() != http.StatusOK {
		geocodeRequestsTotal.WithLabelValues(opReverse, outcomeError).Inc()
		return nil, models.NewDiscoveryError(models.ErrKindAddressUnavailable, fmt.Sprintf("reverse geocode: status %d", resp.StatusCode()))
	}

	var place nominatimPlace
	if err := json.Unmarshal(resp.Body(), &place); err != nil {
		geocodeRequestsTotal.WithLabelValues(opReverse, outcomeError).Inc()
		return nil, models.WrapDiscoveryError(models.ErrKindAddressUnavailable, "decode reverse geocode response", err)
	}
	if place.Error != "" || strings.TrimSpace(place.DisplayName) == "" {
		geocodeRequestsTotal.WithLabelValues(opReverse, outcomeEmpty).Inc()
		return nil, models.NewDiscoveryError(models.ErrKindAddressUnavailable, "no address at coordinates")
	}

	geocodeRequestsTotal.WithLabelValues(opReverse, outcomeOK).Inc()
	return &models.Address{
		DisplayName: place.DisplayName,
		Raw:         json.RawMessage(resp.Body()),
	}, nil
}

func (p nominatimPlace) coordinates() (float64, float64, bool) {
	lat, err := strconv.ParseFloat(p.Lat, 64)
	if err != nil {
		return 0, 0, false
	}
	lon, err := strconv.ParseFloat(p.Lon, 64)
	if err != nil {
		return 0, 0, false
	}
	return lat, lon, true
}
