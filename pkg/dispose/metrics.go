/*
 * Copyright 2025 SREDiag Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package dispose

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is an Observer exporting registry events to Prometheus.
type Metrics struct {
	tracked  prometheus.Counter
	released *prometheus.CounterVec
	live     prometheus.Gauge
}

var (
	_ Observer             = (*Metrics)(nil)
	_ prometheus.Collector = (*Metrics)(nil)
)

// NewMetrics creates the collectors under namespace. Register the result
// with a prometheus.Registerer and pass it to WithObserver.
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		tracked: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispose",
			Name:      "tracked_total",
			Help:      "Total number of resources enrolled for release.",
		}),
		released: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispose",
			Name:      "released_total",
			Help:      "Total number of resources released, by release path.",
		}, []string{"path"}),
		live: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "dispose",
			Name:      "live",
			Help:      "Number of tracked resources not yet released.",
		}),
	}
}

// Tracked implements Observer.
func (m *Metrics) Tracked(string) {
	m.tracked.Inc()
	m.live.Inc()
}

// Released implements Observer.
func (m *Metrics) Released(_ string, path Path) {
	m.released.WithLabelValues(path.String()).Inc()
	m.live.Dec()
}

// Describe implements prometheus.Collector.
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	m.tracked.Describe(ch)
	m.released.Describe(ch)
	m.live.Describe(ch)
}

// Collect implements prometheus.Collector.
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	m.tracked.Collect(ch)
	m.released.Collect(ch)
	m.live.Collect(ch)
}
