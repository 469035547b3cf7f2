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

package mplsplugin

import (
	"fmt"
	"net/netip"

	"github.com/ligato/srte-agent/pkg/mpls"
)

// API defines the label forwarding table exposed by the MPLS plugin.
type API interface {
	// LookupLSP returns a snapshot of the LSP for the incoming label in the given
	// VRF, or nil if there is none. The snapshot is not updated afterwards.
	LookupLSP(vrf uint32, label mpls.Label) *LSP

	// ListLSPs returns snapshots of all LSPs ordered by VRF and label.
	ListLSPs() []*LSP

	// InstallLSP adds (or replaces) the NHLFE of the given type and nexthop for
	// the incoming label. Out labels are pushed in the given order.
	InstallLSP(vrf uint32, typ LSPType, inLabel mpls.Label, outLabels mpls.Stack, nh Nexthop) error

	// UninstallNexthop removes a single NHLFE.
	UninstallNexthop(vrf uint32, typ LSPType, inLabel mpls.Label, nh Nexthop) error

	// UninstallLSP removes all NHLFEs of the given type for the label in the VRF.
	UninstallLSP(vrf uint32, typ LSPType, inLabel mpls.Label) error

	// UninstallAllLSP removes all NHLFEs of the given type for the label in every VRF.
	UninstallAllLSP(typ LSPType, inLabel mpls.Label) error

	// WatchLabels registers handler for label lifecycle events. Handlers are
	// called synchronously and must not block or call back into the table.
	// The returned function cancels the registration.
	WatchLabels(handler LabelEventHandler) (cancel func())
}

// LSPType identifies the owner of an NHLFE.
type LSPType uint8

const (
	LSPTypeNone LSPType = iota
	LSPTypeStatic
	LSPTypeLDP
	LSPTypeBGP
	LSPTypeOSPFSR
	LSPTypeISISSR
	LSPTypeSRTE
)

var lspTypeNames = map[LSPType]string{
	LSPTypeNone:   "none",
	LSPTypeStatic: "static",
	LSPTypeLDP:    "ldp",
	LSPTypeBGP:    "bgp",
	LSPTypeOSPFSR: "ospf-sr",
	LSPTypeISISSR: "isis-sr",
	LSPTypeSRTE:   "sr-te",
}

func (t LSPType) String() string {
	if name, ok := lspTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("lsp-type-%d", uint8(t))
}

// ParseLSPType is inverse of String.
func ParseLSPType(s string) (LSPType, error) {
	for t, name := range lspTypeNames {
		if name == s {
			return t, nil
		}
	}
	return LSPTypeNone, fmt.Errorf("unknown LSP type %q", s)
}

// Distance returns preference of the type, lower wins NHLFE selection.
func (t LSPType) Distance() uint8 {
	switch t {
	case LSPTypeStatic:
		return 1
	case LSPTypeSRTE:
		return 10
	case LSPTypeOSPFSR, LSPTypeISISSR:
		return 20
	case LSPTypeLDP:
		return 150
	case LSPTypeBGP:
		return 200
	}
	return 255
}

// Family is the address family of the FEC an LSP forwards.
type Family uint8

const (
	FamilyUnknown Family = iota
	FamilyIPv4
	FamilyIPv6
)

func (f Family) String() string {
	switch f {
	case FamilyIPv4:
		return "ipv4"
	case FamilyIPv6:
		return "ipv6"
	}
	return "unknown"
}

// FamilyOf returns the family of the address.
func FamilyOf(addr netip.Addr) Family {
	switch {
	case addr.Is4() || addr.Is4In6():
		return FamilyIPv4
	case addr.Is6():
		return FamilyIPv6
	}
	return FamilyUnknown
}

// Nexthop describes where labelled traffic is sent.
type Nexthop struct {
	Gateway netip.Addr
	IfIndex int
	IfName  string
}

func (nh Nexthop) String() string {
	switch {
	case nh.Gateway.IsValid() && nh.IfName != "":
		return fmt.Sprintf("%s dev %s", nh.Gateway, nh.IfName)
	case nh.Gateway.IsValid():
		return nh.Gateway.String()
	case nh.IfName != "":
		return "dev " + nh.IfName
	}
	return fmt.Sprintf("ifindex %d", nh.IfIndex)
}

// NHLFEFlags hold the state of an NHLFE.
type NHLFEFlags uint8

const (
	// FlagSelected marks NHLFEs chosen for forwarding.
	FlagSelected NHLFEFlags = 1 << iota
	// FlagDeleted marks NHLFEs pending removal.
	FlagDeleted
	// FlagInstalled marks NHLFEs programmed into the dataplane.
	FlagInstalled
)

// NHLFE is a next hop label forwarding entry.
type NHLFE struct {
	Type      LSPType
	Nexthop   Nexthop
	OutLabels mpls.Stack
	Flags     NHLFEFlags
}

// IsSelected returns true if the NHLFE is selected and not pending removal.
func (n *NHLFE) IsSelected() bool {
	return n.Flags&FlagSelected != 0 && n.Flags&FlagDeleted == 0
}

// IsDeleted returns true if the NHLFE is pending removal.
func (n *NHLFE) IsDeleted() bool {
	return n.Flags&FlagDeleted != 0
}

// LSP is the forwarding state for one incoming label.
type LSP struct {
	VRF     uint32
	InLabel mpls.Label
	Family  Family
	NHLFEs  []*NHLFE
}

// Copy returns a deep copy.
func (l *LSP) Copy() *LSP {
	c := &LSP{
		VRF:     l.VRF,
		InLabel: l.InLabel,
		Family:  l.Family,
		NHLFEs:  make([]*NHLFE, 0, len(l.NHLFEs)),
	}
	for _, n := range l.NHLFEs {
		nc := *n
		nc.OutLabels = n.OutLabels.Copy()
		c.NHLFEs = append(c.NHLFEs, &nc)
	}
	return c
}

// LabelEventKind is the kind of the label lifecycle event.
type LabelEventKind uint8

const (
	LabelCreated LabelEventKind = iota
	LabelUpdated
	LabelRemoved
)

func (k LabelEventKind) String() string {
	switch k {
	case LabelCreated:
		return "created"
	case LabelUpdated:
		return "updated"
	case LabelRemoved:
		return "removed"
	}
	return "invalid"
}

// LabelEvent notifies about change of the forwarding state for a label.
type LabelEvent struct {
	Kind  LabelEventKind
	VRF   uint32
	Label mpls.Label
}

// LabelEventHandler receives label events.
type LabelEventHandler func(ev LabelEvent)
