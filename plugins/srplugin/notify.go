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
	"sort"
	"sync"
)

// notifiers keeps registered status notifiers in registration order.
type notifiers struct {
	mu   sync.Mutex
	seq  int
	byID map[int]StatusNotifier
}

func newNotifiers() *notifiers {
	return &notifiers{byID: make(map[int]StatusNotifier)}
}

func (n *notifiers) add(notifier StatusNotifier) (cancel func()) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.seq++
	id := n.seq
	n.byID[id] = notifier
	return func() {
		n.mu.Lock()
		delete(n.byID, id)
		n.mu.Unlock()
	}
}

func (n *notifiers) notify(p *Policy) {
	n.mu.Lock()
	ids := make([]int, 0, len(n.byID))
	for id := range n.byID {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	list := make([]StatusNotifier, 0, len(ids))
	for _, id := range ids {
		list = append(list, n.byID[id])
	}
	n.mu.Unlock()

	for _, notifier := range list {
		notifier.NotifySRPolicyStatus(p.Color, p.Endpoint, p.Name, p.Status)
	}
}
