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
	"context"
)

// watchEvents is the only goroutine touching the store and the policies.
func (p *Plugin) watchEvents(ctx context.Context) {
	defer p.wg.Done()

	for {
		select {
		case req := <-p.requests:
			req()

		case <-p.labels.signal:
			for _, ev := range p.labels.drain() {
				p.reactor.ProcessLabelUpdate(ev.Label, ev.Kind)
			}

		case <-ctx.Done():
			p.Log.Debug("Stop watching events")
			return
		}
		p.metrics.updatePolicies(p.store)
	}
}
