// Counters engine - fact/index ingestion and counter evaluation service.
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/sgaydamakov/counters-engine/internal/apperrors"
	"github.com/sgaydamakov/counters-engine/internal/models"
)

type fakePipeline struct {
	result  *models.IngestionResult
	err     error
	lastIn  map[string]interface{}
	lastCtx context.Context
}

func (f *fakePipeline) Process(ctx context.Context, message map[string]interface{}) (*models.IngestionResult, error) {
	f.lastIn = message
	f.lastCtx = ctx
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func newTestHandler(p *fakePipeline) *Handler {
	fields := []models.FieldConfig{
		{Source: "accountId", MessageTypes: []int{1}, DataType: models.FieldTypeString, KeyOrder: 1},
		{Source: "amount", MessageTypes: []int{1}, DataType: models.FieldTypeFloat},
	}
	return NewHandler(p, fields, 0)
}

func routerWithParam(h http.HandlerFunc, method, pattern, target string, body *bytes.Buffer) *httptest.ResponseRecorder {
	r := chi.NewRouter()
	switch method {
	case http.MethodPost:
		r.Post(pattern, h)
	default:
		r.Get(pattern, h)
	}
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, target, body)
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestPostJSON_HappyPath(t *testing.T) {
	p := &fakePipeline{result: &models.IngestionResult{
		Fact:     &models.Fact{ID: "acc-1", Type: 1},
		Counters: map[string]models.AttributeMap{"txCount": {"count": 3.0}},
	}}
	h := newTestHandler(p)

	body := bytes.NewBufferString(`{"accountId":"acc-1"}`)
	w := routerWithParam(h.PostJSON, http.MethodPost, "/api/v1/message/{t}/json", "/api/v1/message/1/json", body)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", w.Code, w.Body.String())
	}
	var resp messageResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.FactID != "acc-1" {
		t.Errorf("FactID = %q, want acc-1", resp.FactID)
	}
	if p.lastIn["t"] != 1 {
		t.Errorf("expected t=1 to be injected from the URL, got %v", p.lastIn["t"])
	}
}

func TestPostJSON_RejectsArrayBody(t *testing.T) {
	h := newTestHandler(&fakePipeline{})
	body := bytes.NewBufferString(`[{"accountId":"acc-1"}]`)
	w := routerWithParam(h.PostJSON, http.MethodPost, "/api/v1/message/{t}/json", "/api/v1/message/1/json", body)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	var resp errorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error response: %v", err)
	}
	if resp.Success {
		t.Error("expected success=false")
	}
}

func TestPostJSON_RejectsMalformedJSON(t *testing.T) {
	h := newTestHandler(&fakePipeline{})
	body := bytes.NewBufferString(`not json`)
	w := routerWithParam(h.PostJSON, http.MethodPost, "/api/v1/message/{t}/json", "/api/v1/message/1/json", body)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestPostJSON_MissingKeyFieldReturns500(t *testing.T) {
	p := &fakePipeline{err: &apperrors.MissingKeyError{MessageType: 1}}
	h := newTestHandler(p)
	body := bytes.NewBufferString(`{}`)
	w := routerWithParam(h.PostJSON, http.MethodPost, "/api/v1/message/{t}/json", "/api/v1/message/1/json", body)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
}

func TestPostJSON_ValidationErrorReturns400(t *testing.T) {
	p := &fakePipeline{err: apperrors.NewValidationError("bad field")}
	h := newTestHandler(p)
	body := bytes.NewBufferString(`{"accountId":"x"}`)
	w := routerWithParam(h.PostJSON, http.MethodPost, "/api/v1/message/{t}/json", "/api/v1/message/1/json", body)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

// TestPostJSON_UnknownMessageTypeReturns400 covers the scenario where a
// message's type isn't in the mapper's configuration (t=999): the engine
// must reject it as a client error with no writes attempted, not a 500.
func TestPostJSON_UnknownMessageTypeReturns400(t *testing.T) {
	p := &fakePipeline{err: apperrors.NewValidationError("unknown message type %d", 999)}
	h := newTestHandler(p)
	body := bytes.NewBufferString(`{}`)
	w := routerWithParam(h.PostJSON, http.MethodPost, "/api/v1/message/{t}/json", "/api/v1/message/999/json", body)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

// TestPostJSON_DebugQueryParamMarksContext covers ?debug=1 on the JSON
// ingress: the pipeline must see a context that asks for relevant-fact
// output, so it can populate IngestionResult.Debug.
func TestPostJSON_DebugQueryParamMarksContext(t *testing.T) {
	p := &fakePipeline{result: &models.IngestionResult{Fact: &models.Fact{ID: "acc-1", Type: 1}}}
	h := newTestHandler(p)
	body := bytes.NewBufferString(`{"accountId":"acc-1"}`)
	w := routerWithParam(h.PostJSON, http.MethodPost, "/api/v1/message/{t}/json", "/api/v1/message/1/json?debug=1", body)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", w.Code, w.Body.String())
	}
	if !models.DebugRequested(p.lastCtx) {
		t.Error("expected ?debug=1 to mark the pipeline context as debug-requested")
	}
}

// TestPostJSON_NoDebugQueryParamLeavesContextUnmarked is the control case:
// without ?debug=1 the pipeline must not compute relevant-fact output.
func TestPostJSON_NoDebugQueryParamLeavesContextUnmarked(t *testing.T) {
	p := &fakePipeline{result: &models.IngestionResult{Fact: &models.Fact{ID: "acc-1", Type: 1}}}
	h := newTestHandler(p)
	body := bytes.NewBufferString(`{"accountId":"acc-1"}`)
	w := routerWithParam(h.PostJSON, http.MethodPost, "/api/v1/message/{t}/json", "/api/v1/message/1/json", body)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", w.Code, w.Body.String())
	}
	if models.DebugRequested(p.lastCtx) {
		t.Error("expected no ?debug param to leave the context unmarked")
	}
}

func TestPostJSON_PersistenceErrorReturns500(t *testing.T) {
	p := &fakePipeline{err: apperrors.NewPermanentPersistenceError("saveFact", errors.New("db down"))}
	h := newTestHandler(p)
	body := bytes.NewBufferString(`{"accountId":"x"}`)
	w := routerWithParam(h.PostJSON, http.MethodPost, "/api/v1/message/{t}/json", "/api/v1/message/1/json", body)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
}

func TestPostIRIS_HappyPath(t *testing.T) {
	p := &fakePipeline{result: &models.IngestionResult{
		Fact:     &models.Fact{ID: "acc-1", Type: 1},
		Counters: map[string]models.AttributeMap{"txCount": {"count": 3.0}},
	}}
	h := newTestHandler(p)

	body := bytes.NewBufferString(`<Message><MessageTypeId>1</MessageTypeId><accountId>acc-1</accountId></Message>`)
	w := routerWithParam(h.PostIRIS, http.MethodPost, "/api/v1/message/iris", "/api/v1/message/iris", body)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "<FactId>acc-1</FactId>") {
		t.Errorf("expected FactId element in response, got %s", w.Body.String())
	}
	if p.lastIn["t"] != 1 {
		t.Errorf("expected t=1 decoded from MessageTypeId, got %v", p.lastIn["t"])
	}
}

func TestPostIRIS_MissingMessageTypeIdReturns400(t *testing.T) {
	h := newTestHandler(&fakePipeline{})
	body := bytes.NewBufferString(`<Message><accountId>acc-1</accountId></Message>`)
	w := routerWithParam(h.PostIRIS, http.MethodPost, "/api/v1/message/iris", "/api/v1/message/iris", body)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestGetExample_JSON(t *testing.T) {
	h := newTestHandler(&fakePipeline{})
	w := routerWithParam(h.GetExample, http.MethodGet, "/api/v1/message/{t}/{format}", "/api/v1/message/1/json", nil)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var message map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &message); err != nil {
		t.Fatalf("decode example message: %v", err)
	}
	if _, ok := message["accountId"]; !ok {
		t.Errorf("expected accountId field in example message, got %v", message)
	}
}

func TestGetExample_IRIS(t *testing.T) {
	h := newTestHandler(&fakePipeline{})
	w := routerWithParam(h.GetExample, http.MethodGet, "/api/v1/message/{t}/{format}", "/api/v1/message/1/iris", nil)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), "<MessageTypeId>1</MessageTypeId>") {
		t.Errorf("expected MessageTypeId element, got %s", w.Body.String())
	}
}

func TestHealth(t *testing.T) {
	h := newTestHandler(&fakePipeline{})
	w := routerWithParam(h.Health, http.MethodGet, "/health", "/health", nil)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
}
