/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the playback core's Prometheus instruments. Gauges are
// updated by a sampling loop, never from the audio thread.
type Metrics struct {
	UnderrunFrames  prometheus.Gauge
	FramesOutput    prometheus.Gauge
	BufferOccupancy *prometheus.GaugeVec
	QueueLength     prometheus.Gauge
	PassagesDecoded prometheus.Counter
	PassagesFailed  prometheus.Counter
	Volume          prometheus.Gauge
}

// New registers the playback metrics on a fresh registry and returns both.
func New() (*Metrics, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	m := &Metrics{
		UnderrunFrames: factory.NewGauge(prometheus.GaugeOpts{
			Name: "melisma_underrun_frames_total",
			Help: "Cumulative zero-filled frames at the mixer boundary.",
		}),
		FramesOutput: factory.NewGauge(prometheus.GaugeOpts{
			Name: "melisma_frames_output_total",
			Help: "Cumulative frames delivered to the audio device.",
		}),
		BufferOccupancy: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "melisma_ring_buffer_occupied_frames",
			Help: "Ring buffer fill level by queue slot.",
		}, []string{"slot"}),
		QueueLength: factory.NewGauge(prometheus.GaugeOpts{
			Name: "melisma_queue_length",
			Help: "Total entries across current, next and queued slots.",
		}),
		PassagesDecoded: factory.NewCounter(prometheus.CounterOpts{
			Name: "melisma_passages_decoded_total",
			Help: "Passages fully decoded.",
		}),
		PassagesFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "melisma_passages_failed_total",
			Help: "Passages whose decode failed fatally.",
		}),
		Volume: factory.NewGauge(prometheus.GaugeOpts{
			Name: "melisma_volume",
			Help: "Output volume scalar.",
		}),
	}
	return m, reg
}

// Handler exposes the metrics endpoint for the registry.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
