package savedlocation

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"homehelp/models"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// HTTPBackend talks to the remote preference service.
type HTTPBackend struct {
	client *resty.Client
	logger *zap.Logger
}

type preferencePayload struct {
	CustomerID     string                 `json:"customerId"`
	SavedLocations []models.SavedLocation `json:"savedLocations"`
}

// NewHTTPBackend builds a backend rooted at baseURL.
func NewHTTPBackend(baseURL string, timeout time.Duration, logger *zap.Logger) *HTTPBackend {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	c := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetHeader("Accept", "application/json").
		SetTimeout(timeout)
	return &HTTPBackend{client: c, logger: logger}
}

func settingsPath(customerID string) string {
	return "/user-settings/" + url.PathEscape(customerID)
}

func (b *HTTPBackend) Fetch(ctx context.Context, p models.Principal) (*models.CustomerPreferenceRecord, error) {
	resp, err := b.client.R().
		SetContext(ctx).
		SetAuthToken(p.Token).
		Get(settingsPath(p.CustomerID))
	if err != nil {
		return nil, fmt.Errorf("fetch preferences: %w", err)
	}
	switch resp.StatusCode() {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, models.ErrPreferencesNotFound
	case http.StatusUnauthorized:
		return nil, models.NewDiscoveryError(models.ErrKindAuthRequired, "preference service rejected credentials")
	default:
		return nil, fmt.Errorf("fetch preferences: status %d", resp.StatusCode())
	}

	var payload preferencePayload
	if err := json.Unmarshal(resp.Body(), &payload); err != nil {
		return nil, fmt.Errorf("decode preferences: %w", err)
	}
	return &models.CustomerPreferenceRecord{
		CustomerID:     p.CustomerID,
		SavedLocations: payload.SavedLocations,
	}, nil
}

func (b *HTTPBackend) Replace(ctx context.Context, p models.Principal, rec *models.CustomerPreferenceRecord) error {
	locations := rec.SavedLocations
	if locations == nil {
		locations = []models.SavedLocation{}
	}
	resp, err := b.client.R().
		SetContext(ctx).
		SetAuthToken(p.Token).
		SetHeader("Content-Type", "application/json").
		SetBody(preferencePayload{CustomerID: p.CustomerID, SavedLocations: locations}).
		Put(settingsPath(p.CustomerID))
	if err != nil {
		return fmt.Errorf("replace preferences: %w", err)
	}
	switch code := resp.StatusCode(); {
	case code == http.StatusUnauthorized:
		return models.NewDiscoveryError(models.ErrKindAuthRequired, "preference service rejected credentials")
	case code == http.StatusConflict:
		return models.ErrPreferenceVersionConflict
	case code < 200 || code >= 300:
		b.logger.Warn("Replace: preference service error", zap.String("customerId", p.CustomerID), zap.Int("status", code))
		return fmt.Errorf("replace preferences: status %d", code)
	}
	return nil
}
