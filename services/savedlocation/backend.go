package savedlocation

import (
	"context"

	"homehelp/models"
)

// PreferenceBackend persists one CustomerPreferenceRecord per customer. The
// saved locations array is only ever written whole.
type PreferenceBackend interface {
	// Fetch returns models.ErrPreferencesNotFound when nothing was saved yet.
	Fetch(ctx context.Context, p models.Principal) (*models.CustomerPreferenceRecord, error)
	// Replace writes rec in full. Backends with version checks return
	// models.ErrPreferenceVersionConflict when rec.Version is stale, and bump
	// rec.Version on success.
	Replace(ctx context.Context, p models.Principal, rec *models.CustomerPreferenceRecord) error
}
