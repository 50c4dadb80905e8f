// Counters engine - fact/index ingestion and counter evaluation service.
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package api implements the HTTP ingress (spec §6): JSON and IRIS/XML
// message ingestion, example-message generation, and the health probe.
package api

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/sgaydamakov/counters-engine/internal/apperrors"
	"github.com/sgaydamakov/counters-engine/internal/models"
)

const maxRequestBodyBytes = 8 << 20 // 8 MiB

// requestContext marks the request context for debug output (the relevant
// facts found for this message) when the caller passes "?debug=1", so an
// investigator can see why a counter fired without a separate lookup call.
func requestContext(r *http.Request) context.Context {
	if r.URL.Query().Get("debug") == "1" {
		return models.ContextWithDebugRequested(r.Context())
	}
	return r.Context()
}

// Pipeline is the subset of internal/pipeline.Pipeline the HTTP layer depends on.
type Pipeline interface {
	Process(ctx context.Context, message map[string]interface{}) (*models.IngestionResult, error)
}

// messageResponse is the JSON ingress success body (spec §6).
type messageResponse struct {
	MessageType    int                            `json:"messageType"`
	FactID         string                         `json:"factId"`
	Counters       map[string]models.AttributeMap `json:"counters"`
	ProcessingTime models.ProcessingTime          `json:"processingTime"`
	Debug          interface{}                    `json:"debug,omitempty"`
}

// Handler holds the collaborators behind every HTTP endpoint.
type Handler struct {
	pipeline    Pipeline
	fields      []models.FieldConfig
	targetBytes int
}

// NewHandler builds a Handler. fields drives example-message generation for
// the GET .../{t}/{json|iris} endpoints.
func NewHandler(pipeline Pipeline, fields []models.FieldConfig, targetBytes int) *Handler {
	return &Handler{pipeline: pipeline, fields: fields, targetBytes: targetBytes}
}

// PostJSON implements POST /api/v1/message/{t}/json.
func (h *Handler) PostJSON(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBodyBytes))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "validation_error", apperrors.NewValidationError("failed to read request body: %v", err))
		return
	}

	var raw json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		writeError(w, r, http.StatusBadRequest, "validation_error", apperrors.NewValidationError("invalid JSON body: %v", err))
		return
	}
	if len(raw) == 0 || raw[0] != '{' {
		writeError(w, r, http.StatusBadRequest, "validation_error", apperrors.NewValidationError("request body must be a JSON object, not an array or scalar"))
		return
	}

	var message map[string]interface{}
	if err := json.Unmarshal(raw, &message); err != nil {
		writeError(w, r, http.StatusBadRequest, "validation_error", apperrors.NewValidationError("invalid JSON object: %v", err))
		return
	}

	if tParam := chi.URLParam(r, "t"); tParam != "" {
		if _, ok := message["t"]; !ok {
			if n, err := strconv.Atoi(tParam); err == nil {
				message["t"] = n
			}
		}
	}

	result, err := h.pipeline.Process(requestContext(r), message)
	if err != nil {
		writeErrorFromErr(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, messageResponse{
		MessageType:    result.Fact.Type,
		FactID:         result.Fact.ID,
		Counters:       result.Counters,
		ProcessingTime: result.ProcessingTime,
		Debug:          result.Debug,
	})
}

// PostIRIS implements POST /api/v1/message/iris.
func (h *Handler) PostIRIS(w http.ResponseWriter, r *http.Request) {
	message, err := decodeIRISMessage(io.LimitReader(r.Body, maxRequestBodyBytes))
	if err != nil {
		writeErrorFromErr(w, r, err)
		return
	}

	result, err := h.pipeline.Process(requestContext(r), message)
	if err != nil {
		writeErrorFromErr(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/xml; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_ = xml.NewEncoder(w).Encode(toIRISResponse(result))
}

// GetExample implements GET /api/v1/message/{t}/{json|iris}.
func (h *Handler) GetExample(w http.ResponseWriter, r *http.Request) {
	tParam := chi.URLParam(r, "t")
	messageType, err := strconv.Atoi(tParam)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "validation_error", apperrors.NewValidationError("message type %q is not an integer", tParam))
		return
	}

	message := buildExampleMessage(messageType, h.fields, h.targetBytes)

	switch chi.URLParam(r, "format") {
	case "iris":
		w.Header().Set("Content-Type", "application/xml; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_ = xml.NewEncoder(w).Encode(exampleMessageToXML(messageType, message))
	default:
		writeJSON(w, http.StatusOK, message)
	}
}

// Health implements GET /health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
