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
	"net/netip"
)

// API of the SR-TE plugin. All methods are safe for concurrent use, they
// are executed by the plugin event loop and return policy snapshots.
type API interface {
	// SetPolicy creates the policy or updates its name, VRF and segment
	// list, and validates it. An unresolved policy is not an error, the
	// returned snapshot is down.
	SetPolicy(cfg *PolicyConfig) (*Policy, error)

	// DeletePolicy uninstalls forwarding of the policy and removes it.
	DeletePolicy(color uint32, endpoint netip.Addr) error

	// GetPolicy returns the policy or nil. Nil is also returned once the
	// plugin is closed.
	GetPolicy(color uint32, endpoint netip.Addr) *Policy

	// GetPolicyByName returns the policy with the name or nil, like
	// GetPolicy.
	GetPolicyByName(name string) *Policy

	// ListPolicies returns all policies ordered by color and endpoint,
	// none once the plugin is closed.
	ListPolicies() []*Policy

	// WatchStatus registers notifier for policy status changes. Notifiers
	// are called from the event loop and must not call back into the API.
	WatchStatus(n StatusNotifier) (cancel func())
}

// PolicyConfig is the requested state of a policy.
type PolicyConfig struct {
	Color       uint32
	Endpoint    netip.Addr
	Name        string
	VRF         uint32
	SegmentList SegmentList
}

// StatusNotifier receives status changes of SR policies.
type StatusNotifier interface {
	NotifySRPolicyStatus(color uint32, endpoint netip.Addr, name string, status Status)
}

// StatusNotifierFunc is an adapter to use a function as StatusNotifier.
type StatusNotifierFunc func(color uint32, endpoint netip.Addr, name string, status Status)

// NotifySRPolicyStatus calls f.
func (f StatusNotifierFunc) NotifySRPolicyStatus(color uint32, endpoint netip.Addr, name string, status Status) {
	f(color, endpoint, name, status)
}
