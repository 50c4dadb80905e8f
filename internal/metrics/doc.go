// Counters engine - fact/index ingestion and counter evaluation service.
// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Package metrics provides Prometheus metrics for the ingestion pipeline,
storage layer, query dispatcher and HTTP boundary.

# Metrics Endpoint

Metrics are exposed at /metrics in Prometheus text format.

# Available Metrics

Pipeline:
  - pipeline_stage_duration_seconds{stage}: map, index, save_fact, save_index, counters, total
  - pipeline_requests_total{message_type,status}
  - index_entries_emitted: histogram of IndexEntry rows per fact

Storage:
  - storage_operation_duration_seconds{operation,collection}
  - storage_operation_errors_total{operation,error_class}
  - save_fact_result_total{result}: inserted|updated|ignored
  - index_entries_skipped_duplicate_total

Dispatcher:
  - dispatcher_pending_queries: gauge, current size of the pending-queries map
  - dispatcher_workers_busy: gauge
  - dispatcher_query_duration_seconds
  - dispatcher_query_timeouts_total
  - dispatcher_no_available_workers_total
  - dispatcher_query_id_collisions_total: must always be zero; see §8 invariant 6 of the design

HTTP:
  - api_requests_total{method,endpoint,status_code}
  - api_request_duration_seconds{method,endpoint}
  - api_active_requests

# Usage Example

	metrics.RecordPipelineStage("index", time.Since(t0))
	metrics.RecordSaveFactResult("inserted")
	metrics.RecordAPIRequest("POST", "/api/v1/message/1/json", "200", dur)
*/
package metrics
