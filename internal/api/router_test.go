// Counters engine - fact/index ingestion and counter evaluation service.
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sgaydamakov/counters-engine/internal/models"
)

func TestNewRouter_HealthAndNotFound(t *testing.T) {
	h := newTestHandler(&fakePipeline{})
	router := NewRouter(h)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("/health status = %d, want 200", w.Code)
	}

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/no-such-route", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("unknown route status = %d, want 404", w.Code)
	}
}

func TestNewRouter_PostMessageJSON(t *testing.T) {
	p := &fakePipeline{result: &models.IngestionResult{
		Fact:     &models.Fact{ID: "acc-1", Type: 1},
		Counters: map[string]models.AttributeMap{},
	}}
	h := newTestHandler(p)
	router := NewRouter(h)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/message/1/json", bytes.NewBufferString(`{"accountId":"acc-1"}`))
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", w.Code, w.Body.String())
	}
}
