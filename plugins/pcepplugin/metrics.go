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

package pcepplugin

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	prom "go.ligato.io/cn-infra/v2/rpc/prometheus"
)

const (
	// Registry path for PCEP metrics
	registryPath = "/pcep"

	directionLabel = "direction"
	typeLabel      = "type"

	directionIn  = "in"
	directionOut = "out"
)

type pcepMetrics struct {
	messages     *prometheus.CounterVec
	decodeErrors prometheus.Counter
	sessionUp    prometheus.Gauge
}

func newMetrics() *pcepMetrics {
	return &pcepMetrics{
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pcep",
			Name:      "messages_total",
			Help:      "Number of PCEP messages by direction and type",
		}, []string{directionLabel, typeLabel}),
		decodeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pcep",
			Name:      "decode_errors_total",
			Help:      "Number of received paths that could not be decoded",
		}),
		sessionUp: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "pcep",
			Name:      "session_up",
			Help:      "Whether the session with the PCE is established",
		}),
	}
}

func (m *pcepMetrics) register(p prom.API) error {
	if err := p.NewRegistry(registryPath, promhttp.HandlerOpts{ErrorHandling: promhttp.ContinueOnError}); err != nil {
		return err
	}
	for _, c := range []prometheus.Collector{m.messages, m.decodeErrors, m.sessionUp} {
		if err := p.Register(registryPath, c); err != nil {
			return err
		}
	}
	return nil
}
