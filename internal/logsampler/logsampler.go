// Counters engine - fact/index ingestion and counter evaluation service.
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package logsampler implements the DebugLogSampler: it retains the
// highest-latency request observed in a window of SaveFrequency requests
// and persists it once per window for post-mortem (spec §4.8).
package logsampler

import (
	"sync"

	"github.com/sgaydamakov/counters-engine/internal/metrics"
	"github.com/sgaydamakov/counters-engine/internal/models"
)

// Sample is one completed request's retained diagnostic snapshot.
type Sample struct {
	Message        map[string]interface{}
	Fact           *models.Fact
	ProcessingTime models.ProcessingTime
	Metrics        models.MetricsInfo
}

// Sampler holds the per-process {requestCounter, worstSoFar} state.
type Sampler struct {
	mu             sync.Mutex
	saveFrequency  int
	requestCounter int
	worstSoFar     *Sample
}

// New builds a Sampler. saveFrequency must be > 0 (validated at config load).
func New(saveFrequency int) *Sampler {
	return &Sampler{saveFrequency: saveFrequency}
}

// Observe records one completed request. When the window closes it calls
// persist with the worst-of-window sample and resets state. At most one
// persist call happens per SaveFrequency requests (spec §4.8 invariant).
func (s *Sampler) Observe(sample Sample, persist func(Sample)) {
	s.mu.Lock()
	s.requestCounter++
	if s.worstSoFar == nil || sample.ProcessingTime.Total > s.worstSoFar.ProcessingTime.Total {
		worst := sample
		s.worstSoFar = &worst
	}

	var toPersist *Sample
	if s.requestCounter >= s.saveFrequency {
		toPersist = s.worstSoFar
		s.worstSoFar = nil
		s.requestCounter = 0
	}
	s.mu.Unlock()

	if toPersist != nil {
		metrics.LogSamplesRetained.Inc()
		persist(*toPersist)
	}
}
