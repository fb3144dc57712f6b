// Package availability queries the remote provider-availability search and
// tolerates the response layouts it has been seen to return. Ranking stays
// on the server.
package availability

import (
	"context"
	"fmt"
	"strings"
	"time"

	"homehelp/models"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

const searchPath = "/service-providers/nearby-monthly"

// Searcher is satisfied by *Client.
type Searcher interface {
	Search(ctx context.Context, q models.BookingQuery) ([]models.ProviderCandidate, error)
}

// Client calls the availability search service.
type Client struct {
	client          *resty.Client
	defaultRadiusKm float64
	logger          *zap.Logger
}

type searchRequest struct {
	Lat                    float64     `json:"lat"`
	Lng                    float64     `json:"lng"`
	Radius                 float64     `json:"radius"`
	StartDate              string      `json:"startDate"`
	EndDate                string      `json:"endDate"`
	PreferredStartTime     string      `json:"preferredStartTime"`
	Role                   models.Role `json:"role"`
	ServiceDurationMinutes int         `json:"serviceDurationMinutes"`
}

// NewClient builds a client rooted at baseURL. defaultRadiusKm is used for
// queries that leave the radius unset.
func NewClient(baseURL string, timeout time.Duration, defaultRadiusKm float64, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	c := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetHeader("Accept", "application/json").
		SetHeader("Content-Type", "application/json").
		SetTimeout(timeout)
	return &Client{client: c, defaultRadiusKm: defaultRadiusKm, logger: logger}
}

// Search returns the server's candidates for q in the order received. A query
// without coordinates is rejected before any request is made. Failures are
// not retried.
func (c *Client) Search(ctx context.Context, q models.BookingQuery) ([]models.ProviderCandidate, error) {
	if q.Location.IsZero() {
		availabilitySearchesTotal.WithLabelValues("missing_coordinates").Inc()
		return nil, models.NewDiscoveryError(models.ErrKindMissingCoordinates, "no location resolved")
	}
	if err := q.Validate(); err != nil {
		availabilitySearchesTotal.WithLabelValues("invalid").Inc()
		return nil, models.WrapDiscoveryError(models.ErrKindValidation, "invalid booking query", err)
	}

	radius := q.RadiusKm
	if radius <= 0 {
		radius = c.defaultRadiusKm
	}
	body := searchRequest{
		Lat:                    q.Location.Latitude,
		Lng:                    q.Location.Longitude,
		Radius:                 radius,
		StartDate:              q.StartDate,
		EndDate:                q.EndDate,
		PreferredStartTime:     q.PreferredStartTime,
		Role:                   q.Role,
		ServiceDurationMinutes: q.DurationMinutes,
	}

	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(body).
		Post(searchPath)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		availabilitySearchesTotal.WithLabelValues(string(models.NetworkKindNetwork)).Inc()
		c.logger.Warn("Search: request failed", zap.Error(err))
		return nil, models.NewSearchFailed(0, "availability search unreachable", err)
	}
	if status := resp.StatusCode(); status < 200 || status >= 300 {
		kind := models.NetworkKindForStatus(status)
		availabilitySearchesTotal.WithLabelValues(string(kind)).Inc()
		c.logger.Warn("Search: upstream error", zap.Int("status", status), zap.String("kind", string(kind)))
		return nil, models.NewSearchFailed(status, fmt.Sprintf("availability search returned %d", status), nil)
	}

	shape, _ := Classify(resp.Body())
	availabilityResponseShapes.WithLabelValues(shape.String()).Inc()
	if shape == ShapeUnknown {
		c.logger.Info("Search: unrecognised response shape; treating as empty", zap.Int("bytes", len(resp.Body())))
	}
	candidates := Normalize(resp.Body())
	if len(candidates) == 0 {
		availabilitySearchesTotal.WithLabelValues("empty").Inc()
	} else {
		availabilitySearchesTotal.WithLabelValues("ok").Inc()
	}
	return candidates, nil
}
