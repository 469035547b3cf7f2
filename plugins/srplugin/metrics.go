// Copyright (c) 2020 Cisco and/or its affiliates.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at:
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package srplugin

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	prom "go.ligato.io/cn-infra/v2/rpc/prometheus"
)

const (
	// Registry path for SR-TE metrics
	registryPath = "/srte"

	statusLabel = "status"
	kindLabel   = "kind"
)

type srMetrics struct {
	policies        *prometheus.GaugeVec
	transitions     *prometheus.CounterVec
	installFailures prometheus.Counter
	labelEvents     *prometheus.CounterVec
}

func newMetrics() *srMetrics {
	return &srMetrics{
		policies: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "srte",
			Subsystem: "policy",
			Name:      "count",
			Help:      "Number of SR policies by status",
		}, []string{statusLabel}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "srte",
			Subsystem: "policy",
			Name:      "transitions_total",
			Help:      "Number of SR policy status changes by new status",
		}, []string{statusLabel}),
		installFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "srte",
			Subsystem: "bsid",
			Name:      "install_failures_total",
			Help:      "Number of failed Binding SID installations",
		}),
		labelEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "srte",
			Subsystem: "label",
			Name:      "events_total",
			Help:      "Number of processed label events by kind",
		}, []string{kindLabel}),
	}
}

func (m *srMetrics) register(p prom.API) error {
	if err := p.NewRegistry(registryPath, promhttp.HandlerOpts{ErrorHandling: promhttp.ContinueOnError}); err != nil {
		return err
	}
	for _, c := range []prometheus.Collector{m.policies, m.transitions, m.installFailures, m.labelEvents} {
		if err := p.Register(registryPath, c); err != nil {
			return err
		}
	}
	return nil
}

// updatePolicies recounts policies in the store by status.
func (m *srMetrics) updatePolicies(store *Store) {
	counts := map[Status]int{StatusUnknown: 0, StatusUp: 0, StatusDown: 0}
	store.Walk(func(p *Policy) bool {
		counts[p.Status]++
		return true
	})
	for status, n := range counts {
		m.policies.WithLabelValues(status.String()).Set(float64(n))
	}
}
