// Counters engine - fact/index ingestion and counter evaluation service.
// SPDX-License-Identifier: AGPL-3.0-or-later

package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sgaydamakov/counters-engine/internal/apperrors"
	"github.com/sgaydamakov/counters-engine/internal/counters"
	"github.com/sgaydamakov/counters-engine/internal/indexer"
	"github.com/sgaydamakov/counters-engine/internal/logsampler"
	"github.com/sgaydamakov/counters-engine/internal/mapper"
	"github.com/sgaydamakov/counters-engine/internal/models"
)

type fakeStorage struct {
	saveFactErr        error
	saveFactCalls      int
	savedIndexCount    int
	counterValues      map[string]models.AttributeMap
	counterErr         error
	savedLogRecords    []interface{}
	relevantFacts      []*models.Fact
	relevantFactsErr   error
	relevantFactsCalls int
}

func (f *fakeStorage) SaveFact(ctx context.Context, fact *models.Fact) (models.SaveResult, error) {
	f.saveFactCalls++
	if f.saveFactErr != nil {
		err := f.saveFactErr
		f.saveFactErr = nil // only fail once, so the retry can succeed
		return "", err
	}
	return models.SaveResultInserted, nil
}

func (f *fakeStorage) SaveFactIndexList(ctx context.Context, entries []models.IndexEntry) (int, error) {
	f.savedIndexCount = len(entries)
	return len(entries), nil
}

func (f *fakeStorage) GetRelevantFactCounters(ctx context.Context, producer *counters.Producer, fact *models.Fact, hashValues models.HashValuesByIndexType) (map[string]models.AttributeMap, models.MetricsInfo, error) {
	return f.counterValues, models.MetricsInfo{}, f.counterErr
}

func (f *fakeStorage) GetRelevantFacts(ctx context.Context, hashValues models.HashValuesByIndexType, excludedFactID string, depthLimit int, depthFromDate *time.Time) ([]*models.Fact, error) {
	f.relevantFactsCalls++
	return f.relevantFacts, f.relevantFactsErr
}

func (f *fakeStorage) SaveLog(ctx context.Context, record interface{}) {
	f.savedLogRecords = append(f.savedLogRecords, record)
}

func buildPipeline(t *testing.T, store Storage) *Pipeline {
	t.Helper()
	m, err := mapper.New(models.MessageMapperConfig{Fields: []models.FieldConfig{
		{Source: "accountId", Dest: "d.accountId", MessageTypes: []int{1}, DataType: models.FieldTypeString, KeyOrder: 1},
	}}, nil)
	if err != nil {
		t.Fatalf("mapper.New() error = %v", err)
	}
	ix, err := indexer.New(models.IndexConfig{Fields: []models.IndexFieldConfig{
		{FieldName: "d.accountId", DateName: "d.createdAt", IndexTypeName: "account", IndexType: 1, IndexValueMode: models.IndexValueModeTransparent},
	}}, false)
	if err != nil {
		t.Fatalf("indexer.New() error = %v", err)
	}
	p, err := counters.New(models.CounterConfig{}, models.IndexConfig{Fields: []models.IndexFieldConfig{
		{FieldName: "d.accountId", DateName: "d.createdAt", IndexTypeName: "account", IndexType: 1, IndexValueMode: models.IndexValueModeTransparent},
	}}, nil)
	if err != nil {
		t.Fatalf("counters.New() error = %v", err)
	}
	sampler := logsampler.New(1000)
	return New(m, ix, p, store, sampler, Config{})
}

func TestProcess_HappyPath(t *testing.T) {
	store := &fakeStorage{counterValues: map[string]models.AttributeMap{"txCount": {"count": 3.0}}}
	p := buildPipeline(t, store)

	result, err := p.Process(context.Background(), map[string]interface{}{"t": 1, "accountId": "acc-1"})
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if result.Fact.ID != "acc-1" {
		t.Errorf("Fact.ID = %q, want acc-1", result.Fact.ID)
	}
	if result.Counters["txCount"]["count"] != 3.0 {
		t.Errorf("Counters[txCount][count] = %v, want 3.0", result.Counters["txCount"]["count"])
	}
	if store.savedIndexCount == 0 {
		t.Error("expected SaveFactIndexList to be called with the produced entries")
	}
}

func TestProcess_MappingFailureReturnsError(t *testing.T) {
	store := &fakeStorage{}
	p := buildPipeline(t, store)

	_, err := p.Process(context.Background(), map[string]interface{}{"t": 1})
	if err == nil {
		t.Fatal("expected MissingKeyError, got nil")
	}
	var mk *apperrors.MissingKeyError
	if !errors.As(err, &mk) {
		t.Fatalf("expected *apperrors.MissingKeyError, got %T", err)
	}
	if store.saveFactCalls != 0 {
		t.Error("mapping failure should short-circuit before any persistence")
	}
}

func TestProcess_RetriesTransientSaveFactFailureOnce(t *testing.T) {
	store := &fakeStorage{saveFactErr: apperrors.NewTransientPersistenceError("saveFact", errors.New("connection reset"))}
	p := buildPipeline(t, store)

	result, err := p.Process(context.Background(), map[string]interface{}{"t": 1, "accountId": "acc-2"})
	if err != nil {
		t.Fatalf("Process() error = %v, want success after one retry", err)
	}
	if store.saveFactCalls != 2 {
		t.Errorf("saveFactCalls = %d, want 2 (original + one retry)", store.saveFactCalls)
	}
	if result.SaveFactResult != models.SaveResultInserted {
		t.Errorf("SaveFactResult = %v, want inserted", result.SaveFactResult)
	}
}

func TestProcess_PermanentSaveFactFailurePropagates(t *testing.T) {
	store := &fakeStorage{saveFactErr: apperrors.NewPermanentPersistenceError("saveFact", errors.New("schema violation"))}
	p := buildPipeline(t, store)

	_, err := p.Process(context.Background(), map[string]interface{}{"t": 1, "accountId": "acc-3"})
	if err == nil {
		t.Fatal("expected permanent persistence error to propagate")
	}
	if store.saveFactCalls != 1 {
		t.Errorf("saveFactCalls = %d, want 1 (no retry for a permanent failure)", store.saveFactCalls)
	}
}

func TestProcess_DebugNotRequestedLeavesStorageUncalled(t *testing.T) {
	store := &fakeStorage{counterValues: map[string]models.AttributeMap{}}
	p := buildPipeline(t, store)

	result, err := p.Process(context.Background(), map[string]interface{}{"t": 1, "accountId": "acc-5"})
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if store.relevantFactsCalls != 0 {
		t.Errorf("relevantFactsCalls = %d, want 0 when debug isn't requested", store.relevantFactsCalls)
	}
	if result.Debug != nil {
		t.Errorf("Debug = %v, want nil", result.Debug)
	}
}

func TestProcess_DebugRequestedPopulatesRelevantFacts(t *testing.T) {
	store := &fakeStorage{
		counterValues: map[string]models.AttributeMap{},
		relevantFacts: []*models.Fact{{ID: "acc-other-1"}, {ID: "acc-other-2"}},
	}
	p := buildPipeline(t, store)

	ctx := models.ContextWithDebugRequested(context.Background())
	result, err := p.Process(ctx, map[string]interface{}{"t": 1, "accountId": "acc-6"})
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if store.relevantFactsCalls != 1 {
		t.Fatalf("relevantFactsCalls = %d, want 1", store.relevantFactsCalls)
	}
	debug, ok := result.Debug.(*models.DebugInfo)
	if !ok {
		t.Fatalf("Debug = %T, want *models.DebugInfo", result.Debug)
	}
	if debug.RelevantFactCount != 2 {
		t.Errorf("RelevantFactCount = %d, want 2", debug.RelevantFactCount)
	}
}

func TestProcess_DebugRequestedLookupFailureAddsWarningNotError(t *testing.T) {
	store := &fakeStorage{
		counterValues:    map[string]models.AttributeMap{},
		relevantFactsErr: errors.New("aggregation timed out"),
	}
	p := buildPipeline(t, store)

	ctx := models.ContextWithDebugRequested(context.Background())
	result, err := p.Process(ctx, map[string]interface{}{"t": 1, "accountId": "acc-7"})
	if err != nil {
		t.Fatalf("Process() error = %v, want the request to still succeed", err)
	}
	if result.Debug != nil {
		t.Errorf("Debug = %v, want nil after a lookup failure", result.Debug)
	}
	found := false
	for _, w := range result.Metrics.Warnings {
		if w == "relevant fact lookup failed: aggregation timed out" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a relevant-fact-lookup warning, got %v", result.Metrics.Warnings)
	}
}

func TestProcess_CounterFailureDoesNotFailRequest(t *testing.T) {
	store := &fakeStorage{counterErr: errors.New("counter dispatch failed")}
	p := buildPipeline(t, store)

	result, err := p.Process(context.Background(), map[string]interface{}{"t": 1, "accountId": "acc-4"})
	if err != nil {
		t.Fatalf("Process() error = %v, want the request to still succeed", err)
	}
	if len(result.Metrics.Warnings) == 0 {
		t.Error("expected a warning recorded for the counter failure")
	}
}
