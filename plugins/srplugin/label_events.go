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
	"sync"

	"go.ligato.io/cn-infra/v2/logging"

	"github.com/ligato/srte-agent/pkg/mpls"
	"github.com/ligato/srte-agent/plugins/mplsplugin"
)

// labelQueue buffers label events between the table and the event loop.
// Pushing never blocks.
type labelQueue struct {
	mu     sync.Mutex
	events []mplsplugin.LabelEvent
	signal chan struct{}
}

func newLabelQueue() *labelQueue {
	return &labelQueue{signal: make(chan struct{}, 1)}
}

func (q *labelQueue) push(ev mplsplugin.LabelEvent) {
	q.mu.Lock()
	q.events = append(q.events, ev)
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// drain returns queued events in arrival order.
func (q *labelQueue) drain() []mplsplugin.LabelEvent {
	q.mu.Lock()
	defer q.mu.Unlock()
	events := q.events
	q.events = nil
	return events
}

// labelReactor re-validates policies when forwarding state of their first
// label changes.
type labelReactor struct {
	log     logging.Logger
	store   *Store
	bsid    *BSIDInstaller
	fsm     *policyFSM
	metrics *srMetrics
}

// ProcessLabelUpdate re-validates every policy whose first label is label.
// All kinds of events are handled the same way.
func (r *labelReactor) ProcessLabelUpdate(label mpls.Label, kind mplsplugin.LabelEventKind) {
	r.metrics.labelEvents.WithLabelValues(kind.String()).Inc()

	var affected []*Policy
	r.store.Walk(func(p *Policy) bool {
		if first, ok := p.SegmentList.FirstLabel(); ok && first == label {
			affected = append(affected, p)
		}
		return true
	})
	for _, p := range affected {
		r.log.Debugf("label %v %v, re-validating %v", label, kind, p)
		if p.Status == StatusUp {
			if err := r.bsid.Uninstall(p); err != nil {
				r.log.Warn(err)
			}
		}
		if err := r.fsm.Validate(p); err != nil {
			r.log.Debug(err)
		}
	}
}
