// Counters engine - fact/index ingestion and counter evaluation service.
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage implements the StorageLayer: idempotent persistence of
// facts and index entries, relevant-fact lookup, and relevant-counter
// evaluation against a document database cluster (spec §4.5). Grounded on
// go.mongodb.org/mongo-driver, the document-store driver referenced by the
// example corpus's dependency manifests.
package storage

import (
	"context"
	"errors"
	"reflect"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"

	"github.com/sgaydamakov/counters-engine/internal/apperrors"
	"github.com/sgaydamakov/counters-engine/internal/config"
	"github.com/sgaydamakov/counters-engine/internal/dispatcher"
	"github.com/sgaydamakov/counters-engine/internal/logging"
	"github.com/sgaydamakov/counters-engine/internal/metrics"
	"github.com/sgaydamakov/counters-engine/internal/models"
)

// Storage is the StorageLayer: facts, factIndex and log collections plus the
// query dispatcher used for relevant-counter evaluation.
type Storage struct {
	cfg        config.MongoConfig
	client     *mongo.Client
	facts      *mongo.Collection
	index      *mongo.Collection
	logColl    *mongo.Collection
	dispatcher *dispatcher.Dispatcher
}

// Dependencies groups the collaborators the storage layer dispatches queries
// through, decoupling it from how counter pipelines are produced.
type Dependencies struct {
	Dispatcher *dispatcher.Dispatcher
}

// New connects to the configured document database and ensures schema and
// indexes exist (spec §4.5).
func New(ctx context.Context, cfg config.MongoConfig, deps Dependencies) (*Storage, error) {
	connectCtx, cancel := context.WithTimeout(ctx, nonZero(cfg.ConnectTimeout, 10*time.Second))
	defer cancel()

	clientOpts := options.Client().
		ApplyURI(cfg.ConnectionString).
		SetMinPoolSize(nonZeroU64(cfg.MinPoolSize, 2)).
		SetMaxPoolSize(nonZeroU64(cfg.MaxPoolSize, 16)).
		SetWriteConcern(writeconcern.Majority())

	client, err := mongo.Connect(connectCtx, clientOpts)
	if err != nil {
		return nil, apperrors.NewInternalError("storage: connect", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		return nil, apperrors.NewInternalError("storage: ping", err)
	}

	db := client.Database(cfg.DatabaseName)
	s := &Storage{
		cfg:        cfg,
		client:     client,
		facts:      db.Collection(nonZeroStr(cfg.FactsCollection, "facts")),
		index:      db.Collection(nonZeroStr(cfg.IndexCollection, "factIndex")),
		logColl:    db.Collection(nonZeroStr(cfg.LogCollection, "log")),
		dispatcher: deps.Dispatcher,
	}

	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Close disconnects the underlying client.
func (s *Storage) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// factSchema is the $jsonSchema validator for the facts collection: a Fact's
// ID/Type/CreatedAt are always present, Data is a document (possibly empty).
var factSchema = bson.M{
	"bsonType": "object",
	"required": []string{"_id", "t", "c", "d"},
	"properties": bson.M{
		"_id": bson.M{"bsonType": "string"},
		"t":   bson.M{"bsonType": "int"},
		"c":   bson.M{"bsonType": "date"},
		"d":   bson.M{"bsonType": "object"},
	},
}

// indexEntrySchema is the $jsonSchema validator for the factIndex
// collection, matching models.IndexEntry's required fields. Data (d) is
// intentionally absent from "required": it is only populated when
// IncludeFactDataToIndex is configured.
var indexEntrySchema = bson.M{
	"bsonType": "object",
	"required": []string{"_id", "it", "v", "t", "dt", "c"},
	"properties": bson.M{
		"_id": bson.M{
			"bsonType": "object",
			"required": []string{"h", "f"},
			"properties": bson.M{
				"h": bson.M{"bsonType": "string"},
				"f": bson.M{"bsonType": "string"},
			},
		},
		"it": bson.M{"bsonType": "int"},
		"v":  bson.M{"bsonType": "string"},
		"t":  bson.M{"bsonType": "int"},
		"dt": bson.M{"bsonType": "date"},
		"c":  bson.M{"bsonType": "date"},
	},
}

// ensureCollection creates name with the given $jsonSchema validator if it
// does not already exist. MongoDB only accepts a validator at creation time
// (or via collMod on an existing collection), so a pre-existing collection
// from an earlier deployment is left as-is rather than treated as fatal.
func ensureCollection(ctx context.Context, db *mongo.Database, name string, schema bson.M) error {
	opts := options.CreateCollection().SetValidator(bson.M{"$jsonSchema": schema})
	err := db.CreateCollection(ctx, name, opts)
	if err == nil {
		return nil
	}
	var cmdErr mongo.CommandError
	if errors.As(err, &cmdErr) && cmdErr.Name == "NamespaceExists" {
		return nil
	}
	return apperrors.NewInternalError("storage: create collection "+name, err)
}

// ensureSchema creates the facts/factIndex collections with their
// $jsonSchema validators if they do not exist, creates the indexes the
// document-query and relevant-fact operations depend on, and, if sharding is
// enabled, declares shard keys. Shard-key declaration requires a mongos
// router; failures there are logged, not fatal, since a single-node
// deployment is a legitimate target.
func (s *Storage) ensureSchema(ctx context.Context) error {
	db := s.facts.Database()
	if err := ensureCollection(ctx, db, s.facts.Name(), factSchema); err != nil {
		return err
	}
	if err := ensureCollection(ctx, db, s.index.Name(), indexEntrySchema); err != nil {
		return err
	}

	if _, err := s.facts.Indexes().CreateOne(ctx, mongo.IndexModel{Keys: bson.D{{Key: "c", Value: 1}}}); err != nil {
		return apperrors.NewInternalError("storage: create facts.c index", err)
	}

	indexModels := []mongo.IndexModel{
		{Keys: bson.D{{Key: "_id.h", Value: 1}, {Key: "dt", Value: 1}}},
		{Keys: bson.D{{Key: "_id.f", Value: 1}}},
		{Keys: bson.D{{Key: "c", Value: 1}}},
	}
	if _, err := s.index.Indexes().CreateMany(ctx, indexModels); err != nil {
		return apperrors.NewInternalError("storage: create factIndex indexes", err)
	}

	if s.cfg.ShardingEnabled {
		if err := s.client.Database("admin").RunCommand(ctx, bson.D{
			{Key: "shardCollection", Value: s.facts.Database().Name() + "." + s.facts.Name()},
			{Key: "key", Value: bson.D{{Key: "_id", Value: "hashed"}}},
		}).Err(); err != nil {
			logging.Warn().Err(err).Msg("storage: shardCollection(facts) failed, continuing unsharded")
		}
		if err := s.client.Database("admin").RunCommand(ctx, bson.D{
			{Key: "shardCollection", Value: s.index.Database().Name() + "." + s.index.Name()},
			{Key: "key", Value: bson.D{{Key: "_id.h", Value: 1}, {Key: "_id.f", Value: 1}}},
		}).Err(); err != nil {
			logging.Warn().Err(err).Msg("storage: shardCollection(factIndex) failed, continuing unsharded")
		}
	}
	return nil
}

// SaveFact upserts fact keyed on ID. If an existing fact's Data differs, only
// Data is overwritten; CreatedAt is left untouched. Idempotent: saving the
// same fact twice yields {inserted, ignored}, never two inserts (spec §4.5).
func (s *Storage) SaveFact(ctx context.Context, fact *models.Fact) (models.SaveResult, error) {
	start := time.Now()
	var previous models.Fact
	err := s.facts.FindOneAndUpdate(
		ctx,
		bson.M{"_id": fact.ID},
		bson.M{
			"$setOnInsert": bson.M{"_id": fact.ID, "t": fact.Type, "c": fact.CreatedAt},
			"$set":         bson.M{"d": fact.Data},
		},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.Before),
	).Decode(&previous)

	metrics.RecordStorageOperation("saveFact", s.facts.Name(), time.Since(start), errClass(err))

	switch {
	case errors.Is(err, mongo.ErrNoDocuments):
		metrics.RecordSaveFactResult(string(models.SaveResultInserted))
		return models.SaveResultInserted, nil
	case err != nil:
		return "", classifyPersistenceError("saveFact", err)
	case reflect.DeepEqual(previous.Data, fact.Data):
		metrics.RecordSaveFactResult(string(models.SaveResultIgnored))
		return models.SaveResultIgnored, nil
	default:
		metrics.RecordSaveFactResult(string(models.SaveResultUpdated))
		return models.SaveResultUpdated, nil
	}
}

// SaveFactIndexList bulk-upserts entries keyed on (h, f); duplicates are
// silently ignored. Ordering is unordered; a partial failure still reports
// the successful count (spec §4.5).
func (s *Storage) SaveFactIndexList(ctx context.Context, entries []models.IndexEntry) (inserted int, err error) {
	if len(entries) == 0 {
		return 0, nil
	}
	start := time.Now()

	models_ := make([]mongo.WriteModel, len(entries))
	for i, e := range entries {
		models_[i] = mongo.NewUpdateOneModel().
			SetFilter(bson.M{"_id": e.ID}).
			SetUpdate(bson.M{"$setOnInsert": e}).
			SetUpsert(true)
	}

	result, bulkErr := s.index.BulkWrite(ctx, models_, options.BulkWrite().SetOrdered(false))
	if result != nil {
		inserted = int(result.UpsertedCount)
	}
	if bulkErr != nil {
		var bwe mongo.BulkWriteException
		if errors.As(bulkErr, &bwe) {
			for _, we := range bwe.WriteErrors {
				if we.Code == 11000 { // duplicate key: entry already present, ignore
					metrics.IndexEntriesSkippedDuplicate.Inc()
					continue
				}
				err = classifyPersistenceError("saveFactIndexList", bulkErr)
			}
		} else {
			err = classifyPersistenceError("saveFactIndexList", bulkErr)
		}
	}

	metrics.RecordStorageOperation("saveFactIndexList", s.index.Name(), time.Since(start), errClass(err))
	return inserted, err
}

// GetRelevantFacts implements getRelevantFacts(hashValuesByIndexType,
// excludedFactID, depthLimit, depthFromDate) -> []Fact (spec §4.5): one
// aggregation per indexType, unioned and deduplicated by ID.
func (s *Storage) GetRelevantFacts(ctx context.Context, hashValues models.HashValuesByIndexType, excludedFactID string, depthLimit int, depthFromDate *time.Time) ([]*models.Fact, error) {
	type factOrErr struct {
		facts []*models.Fact
		err   error
	}
	resultCh := make(chan factOrErr, len(hashValues))

	for _, hashes := range hashValues {
		hashes := hashes
		go func() {
			pipeline := s.relevantFactsPipeline(hashes, excludedFactID, depthLimit, depthFromDate)
			facts, err := s.runFactAggregation(ctx, pipeline)
			resultCh <- factOrErr{facts: facts, err: err}
		}()
	}

	seen := make(map[string]struct{})
	var out []*models.Fact
	var firstErr error
	for range hashValues {
		r := <-resultCh
		if r.err != nil && firstErr == nil {
			firstErr = r.err
			continue
		}
		for _, f := range r.facts {
			if _, dup := seen[f.ID]; dup {
				continue
			}
			seen[f.ID] = struct{}{}
			out = append(out, f)
		}
	}
	if firstErr != nil {
		return out, firstErr
	}
	return out, nil
}

func (s *Storage) relevantFactsPipeline(hashes []string, excludedFactID string, depthLimit int, depthFromDate *time.Time) mongo.Pipeline {
	match := bson.D{{Key: "_id.h", Value: bson.M{"$in": hashes}}, {Key: "_id.f", Value: bson.M{"$ne": excludedFactID}}}
	if depthFromDate != nil {
		match = append(match, bson.E{Key: "dt", Value: bson.M{"$gte": *depthFromDate}})
	}

	pipeline := mongo.Pipeline{bson.D{{Key: "$match", Value: match}}}
	if depthLimit > 0 {
		pipeline = append(pipeline, bson.D{{Key: "$limit", Value: depthLimit}})
	}
	if !s.cfg.IncludeFactDataToIndex {
		pipeline = append(pipeline,
			bson.D{{Key: "$lookup", Value: bson.M{"from": s.facts.Name(), "localField": "_id.f", "foreignField": "_id", "as": "fact"}}},
			bson.D{{Key: "$unwind", Value: "$fact"}},
			bson.D{{Key: "$replaceRoot", Value: bson.M{"newRoot": "$fact"}}},
		)
	} else {
		pipeline = append(pipeline, bson.D{{Key: "$project", Value: bson.M{"_id": "$_id.f", "t": 1, "c": 1, "d": "$d"}}})
	}
	return pipeline
}

func (s *Storage) runFactAggregation(ctx context.Context, pipeline mongo.Pipeline) ([]*models.Fact, error) {
	start := time.Now()
	cur, err := s.index.Aggregate(ctx, pipeline)
	metrics.RecordStorageOperation("getRelevantFacts", s.index.Name(), time.Since(start), errClass(err))
	if err != nil {
		return nil, classifyPersistenceError("getRelevantFacts", err)
	}
	defer cur.Close(ctx)

	var facts []*models.Fact
	for cur.Next(ctx) {
		var f models.Fact
		if err := cur.Decode(&f); err != nil {
			return nil, apperrors.NewInternalError("storage: decode fact", err)
		}
		facts = append(facts, &f)
	}
	return facts, cur.Err()
}

// SaveLog fire-and-forget inserts a DebugLogSampler record; failures are
// logged, never propagated (spec §4.5).
func (s *Storage) SaveLog(ctx context.Context, record interface{}) {
	start := time.Now()
	_, err := s.logColl.InsertOne(ctx, record)
	metrics.RecordStorageOperation("saveLog", s.logColl.Name(), time.Since(start), errClass(err))
	if err != nil {
		logging.Error().Err(err).Msg("storage: saveLog failed")
	}
}

func errClass(err error) string {
	if err == nil {
		return ""
	}
	if apperrors.IsTransientPersistence(err) {
		return "transient"
	}
	return "permanent"
}

func classifyPersistenceError(op string, err error) error {
	if mongo.IsTimeout(err) || mongo.IsNetworkError(err) {
		return apperrors.NewTransientPersistenceError(op, err)
	}
	return apperrors.NewPermanentPersistenceError(op, err)
}

func nonZero(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}

func nonZeroU64(v, fallback uint64) uint64 {
	if v == 0 {
		return fallback
	}
	return v
}

func nonZeroStr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
