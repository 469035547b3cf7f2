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

package pcep

import (
	"encoding/binary"
	"fmt"

	"github.com/pkg/errors"
)

// SubobjectSR is the ERO subobject type of an SR-ERO (RFC 8664).
const SubobjectSR = 0x24

const (
	srFlagNAIAbsent = 0x08 // F
	srFlagSIDAbsent = 0x04 // S
	srFlagAttribs   = 0x02 // C
	srFlagMPLS      = 0x01 // M
)

// NAIType identifies the kind of node or adjacency identifier of an SR hop.
type NAIType uint8

const (
	NAIAbsent                 NAIType = 0
	NAIIPv4Node               NAIType = 1
	NAIIPv6Node               NAIType = 2
	NAIIPv4Adjacency          NAIType = 3
	NAIIPv6AdjacencyGlobal    NAIType = 4
	NAIUnnumberedAdjacency    NAIType = 5
	NAIIPv6AdjacencyLinkLocal NAIType = 6
)

var naiLengths = map[NAIType]int{
	NAIAbsent:                 0,
	NAIIPv4Node:               4,
	NAIIPv6Node:               16,
	NAIIPv4Adjacency:          8,
	NAIIPv6AdjacencyGlobal:    32,
	NAIUnnumberedAdjacency:    16,
	NAIIPv6AdjacencyLinkLocal: 40,
}

// Length returns the encoded length of the NAI or false for unknown types.
func (t NAIType) Length() (int, bool) {
	l, ok := naiLengths[t]
	return l, ok
}

func (t NAIType) String() string {
	switch t {
	case NAIAbsent:
		return "absent"
	case NAIIPv4Node:
		return "ipv4-node"
	case NAIIPv6Node:
		return "ipv6-node"
	case NAIIPv4Adjacency:
		return "ipv4-adjacency"
	case NAIIPv6AdjacencyGlobal:
		return "ipv6-adjacency"
	case NAIUnnumberedAdjacency:
		return "unnumbered-adjacency"
	case NAIIPv6AdjacencyLinkLocal:
		return "ipv6-adjacency-link-local"
	}
	return fmt.Sprintf("NAIType(%d)", uint8(t))
}

// SRSubobject is one hop of a segment routed explicit route.
type SRSubobject struct {
	Loose   bool
	NAIType NAIType
	// NoNAI and NoSID mark the corresponding field as absent.
	NoNAI bool
	NoSID bool
	// Attribs means TC, S and TTL of an MPLS SID are meaningful.
	Attribs bool
	// MPLS means SID is an MPLS label stack entry, otherwise an index.
	MPLS bool
	SID  uint32
	NAI  []byte
}

func (s *SRSubobject) appendTo(b []byte) ([]byte, error) {
	naiLen, ok := s.NAIType.Length()
	if !ok {
		return nil, errors.Errorf("unsupported NAI type %d", s.NAIType)
	}
	if s.NoNAI {
		naiLen = 0
	} else if len(s.NAI) != naiLen {
		return nil, errors.Errorf("NAI of type %v must have %d bytes, got %d", s.NAIType, naiLen, len(s.NAI))
	}
	if s.NoSID && naiLen == 0 {
		return nil, errors.New("SR subobject needs SID or NAI")
	}
	length := 4 + naiLen
	if !s.NoSID {
		length += 4
	}

	typ := uint8(SubobjectSR)
	if s.Loose {
		typ |= 0x80
	}
	var flags uint8
	if s.NoNAI {
		flags |= srFlagNAIAbsent
	}
	if s.NoSID {
		flags |= srFlagSIDAbsent
	}
	if s.Attribs {
		flags |= srFlagAttribs
	}
	if s.MPLS {
		flags |= srFlagMPLS
	}
	b = append(b, typ, uint8(length), uint8(s.NAIType)<<4, flags)
	if !s.NoSID {
		b = binary.BigEndian.AppendUint32(b, s.SID)
	}
	if !s.NoNAI {
		b = append(b, s.NAI...)
	}
	return b, nil
}

func decodeSRSubobject(b []byte) (SRSubobject, int, error) {
	var s SRSubobject
	if len(b) < 4 {
		return s, 0, decodeErrorf("ERO", "truncated subobject")
	}
	s.Loose = b[0]&0x80 != 0
	if typ := b[0] & 0x7f; typ != SubobjectSR {
		return s, 0, decodeErrorf("ERO", "unsupported subobject type %d", typ)
	}
	length := int(b[1])
	if length < 4 || length > len(b) {
		return s, 0, decodeErrorf("ERO", "invalid SR subobject length %d", length)
	}
	s.NAIType = NAIType(b[2] >> 4)
	s.NoNAI = b[3]&srFlagNAIAbsent != 0
	s.NoSID = b[3]&srFlagSIDAbsent != 0
	s.Attribs = b[3]&srFlagAttribs != 0
	s.MPLS = b[3]&srFlagMPLS != 0

	naiLen, ok := s.NAIType.Length()
	if !ok {
		return s, 0, decodeErrorf("ERO", "unknown NAI type %d", s.NAIType)
	}
	if s.NoNAI || s.NAIType == NAIAbsent {
		naiLen = 0
	}
	if s.NoSID && naiLen == 0 {
		return s, 0, decodeErrorf("ERO", "SR subobject without SID and NAI")
	}
	expected := 4 + naiLen
	if !s.NoSID {
		expected += 4
	}
	if length != expected {
		return s, 0, decodeErrorf("ERO", "SR subobject length %d, expected %d", length, expected)
	}
	off := 4
	if !s.NoSID {
		s.SID = binary.BigEndian.Uint32(b[off : off+4])
		off += 4
	}
	if naiLen > 0 {
		s.NAI = append([]byte(nil), b[off:off+naiLen]...)
	}
	return s, length, nil
}

// EROObject is an explicit route made of SR hops.
type EROObject struct {
	Subobjects []SRSubobject
}

func (o *EROObject) Class() ObjectClass { return ClassERO }
func (o *EROObject) objectType() uint8  { return 1 }

func (o *EROObject) appendBody(b []byte) ([]byte, error) {
	var err error
	for i := range o.Subobjects {
		if b, err = o.Subobjects[i].appendTo(b); err != nil {
			return nil, errors.Wrapf(err, "hop %d", i)
		}
	}
	return b, nil
}

func (o *EROObject) decode(_ uint8, body []byte) error {
	var subobjects []SRSubobject
	for len(body) > 0 {
		// object padding
		if len(body) < 4 && allZero(body) {
			break
		}
		s, n, err := decodeSRSubobject(body)
		if err != nil {
			return err
		}
		subobjects = append(subobjects, s)
		body = body[n:]
	}
	o.Subobjects = subobjects
	return nil
}

func allZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}
