package preferencesRepo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"homehelp/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

// CollectionName holds one preference document per customer.
const CollectionName = "user_settings"

// MongoPreferenceRepo stores CustomerPreferenceRecords in MongoDB and
// rejects writes carrying a stale version.
type MongoPreferenceRepo struct {
	coll   *mongo.Collection
	logger *zap.Logger
}

// NewMongoPreferenceRepo creates the repo and its indexes.
func NewMongoPreferenceRepo(db *mongo.Database, logger *zap.Logger) *MongoPreferenceRepo {
	if logger == nil {
		logger = zap.NewNop()
	}
	repo := &MongoPreferenceRepo{coll: db.Collection(CollectionName), logger: logger}
	if err := repo.ensureIndexes(); err != nil {
		logger.Warn("NewMongoPreferenceRepo: failed to create indexes", zap.Error(err))
	}
	return repo
}

// withTimeout bounds a single repository call.
func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, timeout)
}

func (r *MongoPreferenceRepo) ensureIndexes() error {
	ctx, cancel := withTimeout(context.Background(), 10*time.Second)
	defer cancel()

	indexModels := []mongo.IndexModel{
		{Keys: bson.D{{Key: "customerId", Value: 1}}, Options: options.Index().SetUnique(true)},
	}
	if _, err := r.coll.Indexes().CreateMany(ctx, indexModels); err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}
	return nil
}

// Fetch loads the customer's record.
func (r *MongoPreferenceRepo) Fetch(ctx context.Context, p models.Principal) (*models.CustomerPreferenceRecord, error) {
	ctx, cancel := withTimeout(ctx, 5*time.Second)
	defer cancel()

	var rec models.CustomerPreferenceRecord
	err := r.coll.FindOne(ctx, bson.M{"customerId": p.CustomerID}).Decode(&rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, models.ErrPreferencesNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch preferences for %s: %w", p.CustomerID, err)
	}
	if rec.SavedLocations == nil {
		rec.SavedLocations = []models.SavedLocation{}
	}
	return &rec, nil
}

// Replace writes rec whole if the stored version still equals rec.Version.
// A missing document is created. When the filter misses because the version
// moved on, the upsert collides with the unique customerId index and the
// write is reported as a conflict.
func (r *MongoPreferenceRepo) Replace(ctx context.Context, p models.Principal, rec *models.CustomerPreferenceRecord) error {
	ctx, cancel := withTimeout(ctx, 5*time.Second)
	defer cancel()

	next := models.CustomerPreferenceRecord{
		CustomerID:     p.CustomerID,
		SavedLocations: rec.SavedLocations,
		Version:        rec.Version + 1,
	}
	if next.SavedLocations == nil {
		next.SavedLocations = []models.SavedLocation{}
	}
	filter := bson.M{"customerId": p.CustomerID, "version": rec.Version}

	_, err := r.coll.ReplaceOne(ctx, filter, next, options.Replace().SetUpsert(true))
	if mongo.IsDuplicateKeyError(err) {
		r.logger.Debug("Replace: version conflict", zap.String("customerId", p.CustomerID), zap.Int64("version", rec.Version))
		return models.ErrPreferenceVersionConflict
	}
	if err != nil {
		return fmt.Errorf("failed to replace preferences for %s: %w", p.CustomerID, err)
	}
	rec.Version = next.Version
	return nil
}
