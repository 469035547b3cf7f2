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
	"net/netip"
)

// TLVType is the type of an optional object TLV.
type TLVType uint16

const (
	TLVStatefulCapability    TLVType = 0x10 // RFC 8231
	TLVSymbolicPathName      TLVType = 0x11 // RFC 8231
	TLVIPv4LSPIdentifiers    TLVType = 0x12 // RFC 8231
	TLVIPv6LSPIdentifiers    TLVType = 0x13 // RFC 8231
	TLVSRCapability          TLVType = 0x1a // RFC 8664
	TLVPathSetupType         TLVType = 0x1c // RFC 8408
	TLVExtendedAssociationID TLVType = 0x1f // RFC 8697
	TLVSRPolicyPreference    TLVType = 0x3b
)

const (
	statefulFlagUpdate   = 0x01
	statefulFlagInitiate = 0x04

	// PathSetupSR is the path setup type for segment routed paths.
	PathSetupSR = 1
)

// TLV is a raw type-length-value element.
type TLV struct {
	Type  TLVType
	Value []byte
}

func appendTLV(b []byte, typ TLVType, value []byte) []byte {
	b = binary.BigEndian.AppendUint16(b, uint16(typ))
	b = binary.BigEndian.AppendUint16(b, uint16(len(value)))
	b = append(b, value...)
	return append(b, make([]byte, pad4(len(value)))...)
}

func decodeTLVs(object string, b []byte) ([]TLV, error) {
	var tlvs []TLV
	for len(b) > 0 {
		if len(b) < tlvHeaderLen {
			return nil, decodeErrorf(object, "truncated TLV header")
		}
		typ := TLVType(binary.BigEndian.Uint16(b[0:2]))
		length := int(binary.BigEndian.Uint16(b[2:4]))
		end := tlvHeaderLen + length
		if end > len(b) {
			return nil, decodeErrorf(object, "TLV %d length %d exceeds object", typ, length)
		}
		tlvs = append(tlvs, TLV{Type: typ, Value: b[tlvHeaderLen:end]})
		end += pad4(length)
		if end > len(b) {
			end = len(b)
		}
		b = b[end:]
	}
	return tlvs, nil
}

func findTLV(tlvs []TLV, typ TLVType) (TLV, bool) {
	for _, t := range tlvs {
		if t.Type == typ {
			return t, true
		}
	}
	return TLV{}, false
}

func pad4(n int) int {
	return (4 - n%4) % 4
}

func appendAddr(b []byte, addr netip.Addr) []byte {
	return append(b, addr.AsSlice()...)
}

func addrFrom(b []byte) netip.Addr {
	addr, _ := netip.AddrFromSlice(b)
	return addr
}

func uint32Value(v uint32) []byte {
	return binary.BigEndian.AppendUint32(nil, v)
}
