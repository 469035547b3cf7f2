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
	"fmt"
	"net/netip"
	"unicode/utf8"

	"github.com/ligato/srte-agent/pkg/mpls"
	"github.com/ligato/srte-agent/plugins/mplsplugin"
)

// MaxPolicyNameLength is the maximum length of a policy name in bytes.
// Longer names are truncated.
const MaxPolicyNameLength = 100

// Status is the operational status of an SR policy.
type Status uint8

const (
	StatusUnknown Status = iota
	StatusUp
	StatusDown
)

func (s Status) String() string {
	switch s {
	case StatusUnknown:
		return "unknown"
	case StatusUp:
		return "up"
	case StatusDown:
		return "down"
	}
	return fmt.Sprintf("Status(%d)", uint8(s))
}

// SegmentList is the label stack of a policy with its Binding SID.
type SegmentList struct {
	// Type of the LSP programmed for the Binding SID.
	Type mplsplugin.LSPType
	// LocalLabel is the Binding SID, mpls.LabelNone if the policy has none.
	LocalLabel mpls.Label
	// Labels are pushed in order, the first one resolves the nexthops.
	Labels mpls.Stack
}

// FirstLabel returns the label used to resolve the policy.
func (sl SegmentList) FirstLabel() (mpls.Label, bool) {
	if len(sl.Labels) == 0 {
		return mpls.LabelNone, false
	}
	return sl.Labels[0], true
}

// Policy is an SR policy identified by color and endpoint.
type Policy struct {
	Color       uint32
	Endpoint    netip.Addr
	Name        string
	Status      Status
	VRF         uint32
	SegmentList SegmentList

	// label of the forwarding state the policy is bound to
	boundLabel mpls.Label
	bound      bool
	// Binding SID forwarding was installed since the last uninstall
	installed bool
}

// Bound returns the label of the forwarding state the policy resolved
// through. It is set iff the policy is up.
func (p *Policy) Bound() (mpls.Label, bool) {
	return p.boundLabel, p.bound
}

// Copy returns a snapshot of the policy.
func (p *Policy) Copy() *Policy {
	c := *p
	c.SegmentList.Labels = p.SegmentList.Labels.Copy()
	return &c
}

func (p *Policy) String() string {
	return fmt.Sprintf("policy %q (color %d, endpoint %v)", p.Name, p.Color, p.Endpoint)
}

// comparePolicies orders policies by color, then by endpoint with IPv4
// before IPv6.
func comparePolicies(a, b *Policy) int {
	switch {
	case a.Color < b.Color:
		return -1
	case a.Color > b.Color:
		return 1
	}
	return a.Endpoint.Compare(b.Endpoint)
}

func policyLess(a, b *Policy) bool {
	return comparePolicies(a, b) < 0
}

func truncateName(name string) string {
	if len(name) <= MaxPolicyNameLength {
		return name
	}
	name = name[:MaxPolicyNameLength]
	// do not leave a partial rune behind
	for len(name) > 0 && !utf8.ValidString(name) {
		name = name[:len(name)-1]
	}
	return name
}
