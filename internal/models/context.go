// Counters engine - fact/index ingestion and counter evaluation service.
// SPDX-License-Identifier: AGPL-3.0-or-later

package models

import "context"

type debugRequestedKey struct{}

// ContextWithDebugRequested marks ctx so IngestionPipeline.Process attaches
// a DebugInfo to the IngestionResult it returns. The HTTP ingress sets this
// from the "?debug=1" query parameter on the ingestion endpoints (spec §6);
// it lives here rather than in the pipeline package so the HTTP layer can
// set it without importing the pipeline's concrete implementation.
func ContextWithDebugRequested(ctx context.Context) context.Context {
	return context.WithValue(ctx, debugRequestedKey{}, true)
}

// DebugRequested reports whether ContextWithDebugRequested was applied to ctx.
func DebugRequested(ctx context.Context) bool {
	v, _ := ctx.Value(debugRequestedKey{}).(bool)
	return v
}
