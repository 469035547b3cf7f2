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
	"bytes"
	"net/netip"
	"testing"

	"github.com/google/go-cmp/cmp"
	. "github.com/onsi/gomega"
)

var addrComparer = cmp.Comparer(func(a, b netip.Addr) bool { return a == b })

func TestMessageRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		msg  *Message
	}{
		{
			name: "open stateful",
			msg: NewMessage(MessageOpen, &OpenObject{
				Keepalive: 30,
				DeadTimer: 120,
				SessionID: 7,
				Stateful:  &StatefulCapability{Update: true, Initiate: true},
				SRCapable: true,
				MSD:       10,
			}),
		},
		{
			name: "open stateless",
			msg:  NewMessage(MessageOpen, &OpenObject{Keepalive: 30, DeadTimer: 120}),
		},
		{
			name: "keepalive",
			msg:  NewKeepalive(),
		},
		{
			name: "close",
			msg:  NewClose(CloseReasonDeadTimer),
		},
		{
			name: "pcreq",
			msg: NewMessage(MessagePCReq,
				&RPObject{Priority: 3, RequestID: 42, SRPath: true},
				&EndPointsObject{
					Source:      netip.MustParseAddr("192.0.2.1"),
					Destination: netip.MustParseAddr("192.0.2.9"),
				},
			),
		},
		{
			name: "pcrep no path",
			msg: NewMessage(MessagePCRep,
				&RPObject{RequestID: 42},
				&NoPathObject{Nature: 1},
			),
		},
		{
			name: "pcrpt",
			msg: NewMessage(MessagePCRpt,
				&SRPObject{SRPID: 11, SRPath: true},
				&LSPObject{
					PLSPID:         1234,
					Oper:           OperActive,
					Administrative: true,
					Delegate:       true,
					Create:         true,
					Name:           "to-pe9",
					Sender:         netip.MustParseAddr("192.0.2.1"),
					Endpoint:       netip.MustParseAddr("192.0.2.9"),
					TunnelID:       5,
				},
				&AssociationObject{
					AssocType:  AssociationTypeSRPolicy,
					AssocID:    1,
					Source:     netip.MustParseAddr("192.0.2.1"),
					Color:      100,
					Endpoint:   netip.MustParseAddr("192.0.2.9"),
					Preference: 200,
				},
				&EROObject{Subobjects: []SRSubobject{
					{NAIType: NAIIPv4Node, MPLS: true, SID: 16002 << 12, NAI: []byte{192, 0, 2, 2}},
					{Loose: true, NAIType: NAIAbsent, NoNAI: true, MPLS: true, Attribs: true, SID: 16009<<12 | 1<<8 | 64},
					{NAIType: NAIIPv6Node, NoSID: true, NAI: netip.MustParseAddr("2001:db8::9").AsSlice()},
				}},
			),
		},
		{
			name: "pcupd ipv6",
			msg: NewMessage(MessagePCUpd,
				&SRPObject{SRPID: 12, Remove: true},
				&LSPObject{
					PLSPID:   MaxPLSPID,
					Sync:     true,
					Remove:   true,
					Sender:   netip.MustParseAddr("2001:db8::1"),
					Endpoint: netip.MustParseAddr("2001:db8::9"),
				},
				&EROObject{},
			),
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			RegisterTestingT(t)

			data, err := test.msg.Marshal()
			Expect(err).ToNot(HaveOccurred())
			Expect(len(data) % 4).To(BeZero())

			decoded, err := Unmarshal(data)
			Expect(err).ToNot(HaveOccurred())
			if diff := cmp.Diff(test.msg, decoded, addrComparer); diff != "" {
				t.Errorf("decoded message differs (-want +got):\n%s", diff)
			}

			read, err := ReadMessage(bytes.NewReader(data))
			Expect(err).ToNot(HaveOccurred())
			Expect(read.Type).To(Equal(test.msg.Type))
		})
	}
}

func TestFind(t *testing.T) {
	RegisterTestingT(t)

	m := NewMessage(MessagePCRpt, &SRPObject{SRPID: 1}, &LSPObject{PLSPID: 2})
	lsp, ok := Find[*LSPObject](m)
	Expect(ok).To(BeTrue())
	Expect(lsp.PLSPID).To(Equal(uint32(2)))

	_, ok = Find[*EROObject](m)
	Expect(ok).To(BeFalse())
}

func TestUnknownObjectPreserved(t *testing.T) {
	RegisterTestingT(t)

	m := NewMessage(MessagePCRpt, &UnknownObject{ObjectClass: 0x22, Type: 1, Body: []byte{1, 2, 3, 4}})
	data, err := m.Marshal()
	Expect(err).ToNot(HaveOccurred())

	decoded, err := Unmarshal(data)
	Expect(err).ToNot(HaveOccurred())
	Expect(decoded.Objects).To(HaveLen(1))
	Expect(decoded.Objects[0]).To(Equal(&UnknownObject{ObjectClass: 0x22, Type: 1, Body: []byte{1, 2, 3, 4}}))
}

func TestDecodeErrors(t *testing.T) {
	validERO := func(sub []byte) []byte {
		length := 4 + 4 + len(sub)
		data := []byte{0x20, 0x0b, 0, byte(length)}
		data = append(data, 0x07, 0x10, 0, byte(4+len(sub)))
		return append(data, sub...)
	}
	tests := []struct {
		name string
		data []byte
	}{
		{
			name: "short header",
			data: []byte{0x20, 0x0b},
		},
		{
			name: "bad version",
			data: []byte{0x40, 0x02, 0, 4},
		},
		{
			name: "length mismatch",
			data: []byte{0x20, 0x02, 0, 8},
		},
		{
			name: "object overflows message",
			data: []byte{0x20, 0x0b, 0, 8, 0x21, 0x10, 0, 12},
		},
		{
			name: "unaligned object length",
			data: []byte{0x20, 0x0b, 0, 9, 0x21, 0x10, 0, 5, 0},
		},
		{
			name: "unsupported subobject type",
			data: validERO([]byte{0x01, 8, 0, 0, 192, 0, 2, 1}),
		},
		{
			name: "unknown NAI type",
			data: validERO([]byte{0x24, 8, 0x90, 0x01, 0, 0, 0x10, 0}),
		},
		{
			name: "SR subobject length mismatch",
			data: validERO([]byte{0x24, 8, 0x10, 0x01, 0, 0, 0x10, 0}),
		},
		{
			name: "SR subobject without SID and NAI",
			data: validERO([]byte{0x24, 4, 0x00, 0x0c, 0, 0, 0, 0}),
		},
		{
			name: "truncated LSP identifiers",
			data: []byte{0x20, 0x0a, 0, 20, 0x20, 0x10, 0, 16, 0, 0, 0x10, 0, 0, 0x12, 0, 4, 192, 0, 2, 1},
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			RegisterTestingT(t)

			m, err := Unmarshal(test.data)
			Expect(err).To(HaveOccurred())
			Expect(IsDecodeError(err)).To(BeTrue(), "%v", err)
			Expect(m).To(BeNil())
		})
	}
}

func TestEncodeErrors(t *testing.T) {
	tests := []struct {
		name string
		msg  *Message
	}{
		{
			name: "PLSP-ID out of range",
			msg:  NewMessage(MessagePCRpt, &LSPObject{PLSPID: MaxPLSPID + 1}),
		},
		{
			name: "NAI length",
			msg: NewMessage(MessagePCRpt, &EROObject{Subobjects: []SRSubobject{
				{NAIType: NAIIPv4Node, NAI: []byte{1, 2}},
			}}),
		},
		{
			name: "mixed end-points",
			msg: NewMessage(MessagePCReq, &EndPointsObject{
				Source:      netip.MustParseAddr("192.0.2.1"),
				Destination: netip.MustParseAddr("2001:db8::1"),
			}),
		},
		{
			name: "association without source",
			msg:  NewMessage(MessagePCRpt, &AssociationObject{AssocType: AssociationTypeSRPolicy}),
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			RegisterTestingT(t)

			_, err := test.msg.Marshal()
			Expect(err).To(HaveOccurred())
		})
	}
}
