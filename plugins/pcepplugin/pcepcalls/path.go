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

package pcepcalls

import (
	"fmt"
	"net/netip"
	"strings"

	"github.com/ligato/srte-agent/pkg/mpls"
	"github.com/ligato/srte-agent/pkg/pcep"
)

// NBKey identifies the candidate path of an SR policy.
type NBKey struct {
	Color      uint32
	Endpoint   netip.Addr
	Preference uint32
}

func (k NBKey) String() string {
	return fmt.Sprintf("color %d endpoint %v preference %d", k.Color, k.Endpoint, k.Preference)
}

// SIDMPLS is a SID expressed as an MPLS label stack entry.
type SIDMPLS struct {
	Label        mpls.Label
	TrafficClass uint8
	IsBottom     bool
	TTL          uint8
}

// SID holds either a raw SID index in Value or an MPLS SID in MPLS,
// depending on PathHop.IsMPLS.
type SID struct {
	Value uint32
	MPLS  SIDMPLS
}

// NAIIPv4Node is the node identifier of an IPv4 node.
type NAIIPv4Node struct {
	Addr netip.Addr
}

// NAI is the node or adjacency identifier of a hop, the variant in use is
// given by PathHop.NAIType.
type NAI struct {
	IPv4Node NAIIPv4Node
}

// PathHop is one segment of a path.
type PathHop struct {
	IsLoose bool
	HasSID  bool
	IsMPLS  bool
	// HasAttribs means traffic class, bottom of stack and TTL of the MPLS
	// SID are meaningful.
	HasAttribs bool
	SID        SID
	HasNAI     bool
	NAIType    pcep.NAIType
	NAI        NAI
}

func (h PathHop) String() string {
	var parts []string
	switch {
	case h.HasSID && h.IsMPLS:
		parts = append(parts, "label "+h.SID.MPLS.Label.String())
	case h.HasSID:
		parts = append(parts, fmt.Sprintf("sid %d", h.SID.Value))
	}
	if h.HasNAI {
		if h.NAIType == pcep.NAIIPv4Node {
			parts = append(parts, "node "+h.NAI.IPv4Node.Addr.String())
		} else {
			parts = append(parts, "nai "+h.NAIType.String())
		}
	}
	if h.IsLoose {
		parts = append(parts, "loose")
	}
	return strings.Join(parts, " ")
}

// Path is a candidate path exchanged with the PCE.
type Path struct {
	// Sender is the address the path was received from.
	Sender netip.Addr
	NBKey  NBKey
	// PLSPID is the PCC assigned LSP identifier.
	PLSPID uint32
	// SRPID correlates a PCE request with the report answering it.
	SRPID uint32
	// ReqID identifies a path computation request of the PCC.
	ReqID  uint32
	Name   string
	Status pcep.OperStatus
	// DoRemove asks the PCC to remove the path.
	DoRemove bool
	// GoActive asks the PCC to activate the path.
	GoActive bool
	// WasCreated marks paths initiated by the PCE.
	WasCreated bool
	// WasRemoved marks paths removed by the PCC.
	WasRemoved  bool
	IsSynching  bool
	IsDelegated bool
	Hops        []PathHop
}

// Copy returns a copy of the path not sharing the hops.
func (p *Path) Copy() *Path {
	c := *p
	if p.Hops != nil {
		c.Hops = append([]PathHop(nil), p.Hops...)
	}
	return &c
}

// Labels returns the MPLS labels of the hops in order, false if some hop
// does not carry an MPLS SID.
func (p *Path) Labels() (mpls.Stack, bool) {
	labels := make(mpls.Stack, 0, len(p.Hops))
	for _, h := range p.Hops {
		if !h.HasSID || !h.IsMPLS {
			return nil, false
		}
		labels = append(labels, h.SID.MPLS.Label)
	}
	return labels, true
}

func (p *Path) String() string {
	hops := make([]string, len(p.Hops))
	for i, h := range p.Hops {
		hops[i] = h.String()
	}
	return fmt.Sprintf("path %q plsp-id %d (%v) status %v hops [%s]",
		p.Name, p.PLSPID, p.NBKey, p.Status, strings.Join(hops, ", "))
}

// Caps are the capabilities negotiated with the PCE.
type Caps struct {
	IsStateful bool
}

// PCEOpts locates the PCE.
type PCEOpts struct {
	Addr netip.Addr
	Port uint16
}

// AddrPort returns the PCE address with the default port when none is set.
func (o PCEOpts) AddrPort() netip.AddrPort {
	port := o.Port
	if port == 0 {
		port = pcep.DefaultPort
	}
	return netip.AddrPortFrom(o.Addr, port)
}

// PCCOpts are the local session parameters.
type PCCOpts struct {
	Addr netip.Addr
	Port uint16
	// ForceStateless disables the stateful capability in OPEN.
	ForceStateless bool
	// Keepalive and DeadTimer in seconds, defaults are used when zero.
	Keepalive uint8
	DeadTimer uint8
}

// AddrPort returns the local address, unspecified parts are chosen by the
// system.
func (o PCCOpts) AddrPort() netip.AddrPort {
	return netip.AddrPortFrom(o.Addr, o.Port)
}
