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

// Package mpls defines MPLS label values and the label stack entry encoding
// (RFC 3032) shared by the forwarding table and the PCEP codec.
package mpls

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

/*
	0                   1                   2                   3
	0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1
	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
	|                Label                  | TC  |S|       TTL     |
	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
*/
const (
	lseLabelShift = 12
	lseTCShift    = 9
	lseSShift     = 8

	lseLabelMask uint32 = 0xFFFFF000
	lseTCMask    uint32 = 0x00000E00
	lseSMask     uint32 = 0x00000100
	lseTTLMask   uint32 = 0x000000FF
)

// Label is a 20-bit MPLS label value.
type Label uint32

// Reserved label values.
const (
	LabelIPv4ExplicitNull Label = 0 // RFC3032
	LabelRouterAlert      Label = 1 // RFC3032
	LabelIPv6ExplicitNull Label = 2 // RFC3032
	LabelImplicitNull     Label = 3 // RFC3032

	// LabelFirstUnreserved is the lowest label available for allocation.
	LabelFirstUnreserved Label = 16
	// LabelMax is the largest value encodable in 20 bits.
	LabelMax Label = 0xFFFFF

	// LabelNone marks an unset label (e.g. a policy without Binding SID).
	// It lies outside the 20-bit space so it can never collide with a real label.
	LabelNone Label = 0xFFFFFFFF
)

// IsValid returns true if the label fits into 20 bits.
func (l Label) IsValid() bool {
	return l <= LabelMax
}

// IsReserved returns true for the special-purpose range 0-15.
func (l Label) IsReserved() bool {
	return l < LabelFirstUnreserved
}

func (l Label) String() string {
	switch l {
	case LabelNone:
		return "none"
	case LabelImplicitNull:
		return "implicit-null"
	case LabelIPv4ExplicitNull, LabelIPv6ExplicitNull:
		return "explicit-null"
	}
	return strconv.FormatUint(uint64(l), 10)
}

// ParseLabel parses decimal label value or one of the symbolic names.
func ParseLabel(s string) (Label, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "none", "":
		return LabelNone, nil
	case "implicit-null":
		return LabelImplicitNull, nil
	case "explicit-null":
		return LabelIPv4ExplicitNull, nil
	}
	v, err := strconv.ParseUint(strings.TrimSpace(s), 10, 32)
	if err != nil {
		return LabelNone, errors.Wrapf(err, "invalid label %q", s)
	}
	l := Label(v)
	if !l.IsValid() {
		return LabelNone, errors.Errorf("label %d out of range", v)
	}
	return l, nil
}

// Stack is an ordered label stack, top label first.
type Stack []Label

func (s Stack) String() string {
	if len(s) == 0 {
		return "[]"
	}
	parts := make([]string, len(s))
	for i, l := range s {
		parts[i] = l.String()
	}
	return "[" + strings.Join(parts, "/") + "]"
}

// Equal compares two stacks element by element.
func (s Stack) Equal(o Stack) bool {
	if len(s) != len(o) {
		return false
	}
	for i := range s {
		if s[i] != o[i] {
			return false
		}
	}
	return true
}

// Copy returns a copy not sharing the underlying array.
func (s Stack) Copy() Stack {
	if s == nil {
		return nil
	}
	return append(Stack(nil), s...)
}

// StackEntry is one decoded label stack entry.
type StackEntry struct {
	Label         Label
	TrafficClass  uint8
	BottomOfStack bool
	TTL           uint8
}

// Encode packs the entry into its 32-bit wire form.
func (e StackEntry) Encode() uint32 {
	v := (uint32(e.Label) << lseLabelShift) & lseLabelMask
	v |= (uint32(e.TrafficClass) << lseTCShift) & lseTCMask
	if e.BottomOfStack {
		v |= lseSMask
	}
	v |= uint32(e.TTL) & lseTTLMask
	return v
}

// DecodeStackEntry unpacks a 32-bit label stack entry.
func DecodeStackEntry(v uint32) StackEntry {
	return StackEntry{
		Label:         Label((v & lseLabelMask) >> lseLabelShift),
		TrafficClass:  uint8((v & lseTCMask) >> lseTCShift),
		BottomOfStack: v&lseSMask != 0,
		TTL:           uint8(v & lseTTLMask),
	}
}

func (e StackEntry) String() string {
	return fmt.Sprintf("%v/tc=%d/s=%t/ttl=%d", e.Label, e.TrafficClass, e.BottomOfStack, e.TTL)
}
