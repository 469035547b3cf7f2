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
	"context"
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	. "github.com/onsi/gomega"
	"github.com/pkg/errors"

	"github.com/ligato/srte-agent/pkg/mpls"
	"github.com/ligato/srte-agent/pkg/pcep"
)

var addrComparer = cmp.Comparer(func(a, b netip.Addr) bool { return a == b })

func mplsLabel(v uint32) mpls.Label {
	return mpls.Label(v)
}

func mplsStack(values ...uint32) mpls.Stack {
	s := make(mpls.Stack, len(values))
	for i, v := range values {
		s[i] = mpls.Label(v)
	}
	return s
}

func mplsHop(label uint32, node string) PathHop {
	h := PathHop{
		HasSID: true,
		IsMPLS: true,
		SID:    SID{MPLS: SIDMPLS{Label: mplsLabel(label)}},
	}
	if node != "" {
		h.HasNAI = true
		h.NAIType = pcep.NAIIPv4Node
		h.NAI.IPv4Node.Addr = netip.MustParseAddr(node)
	}
	return h
}

// encodes and decodes the message as if it went over the wire
func overWire(m *pcep.Message) *pcep.Message {
	data, err := m.Marshal()
	Expect(err).ToNot(HaveOccurred())
	decoded, err := pcep.Unmarshal(data)
	Expect(err).ToNot(HaveOccurred())
	return decoded
}

func TestReportRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		path *Path
	}{
		{
			name: "delegated sr policy",
			path: &Path{
				Sender: netip.MustParseAddr("192.0.2.1"),
				NBKey: NBKey{
					Color:      100,
					Endpoint:   netip.MustParseAddr("192.0.2.9"),
					Preference: 200,
				},
				PLSPID:      7,
				SRPID:       3,
				Name:        "to-pe9",
				Status:      pcep.OperUp,
				GoActive:    true,
				IsDelegated: true,
				WasCreated:  true,
				Hops: []PathHop{
					mplsHop(16002, "192.0.2.2"),
					mplsHop(16009, ""),
					{
						IsLoose:    true,
						HasSID:     true,
						IsMPLS:     true,
						HasAttribs: true,
						SID:        SID{MPLS: SIDMPLS{Label: mplsLabel(24001), TrafficClass: 5, IsBottom: true, TTL: 64}},
					},
				},
			},
		},
		{
			name: "removed path",
			path: &Path{
				NBKey:      NBKey{Color: 1, Endpoint: netip.MustParseAddr("2001:db8::9")},
				PLSPID:     pcep.MaxPLSPID,
				DoRemove:   true,
				WasRemoved: true,
				Status:     pcep.OperDown,
			},
		},
		{
			name: "index sid and node only hops",
			path: &Path{
				PLSPID:     1,
				IsSynching: true,
				Hops: []PathHop{
					{HasSID: true, SID: SID{Value: 42}},
					{HasNAI: true, NAIType: pcep.NAIIPv4Node, NAI: NAI{IPv4Node: NAIIPv4Node{Addr: netip.MustParseAddr("10.0.0.1")}}},
				},
			},
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			RegisterTestingT(t)

			msg, err := FormatReport(test.path)
			Expect(err).ToNot(HaveOccurred())
			Expect(msg.Type).To(Equal(pcep.MessagePCRpt))

			path, err := ParsePath(overWire(msg))
			Expect(err).ToNot(HaveOccurred())
			if diff := cmp.Diff(test.path, path, addrComparer); diff != "" {
				t.Errorf("parsed path differs (-want +got):\n%s", diff)
			}
		})
	}
}

func TestReportObjects(t *testing.T) {
	RegisterTestingT(t)

	msg, err := FormatReport(&Path{
		Sender: netip.MustParseAddr("192.0.2.1"),
		NBKey:  NBKey{Color: 100, Endpoint: netip.MustParseAddr("192.0.2.9"), Preference: 10},
		PLSPID: 7,
		Hops:   []PathHop{mplsHop(16002, "")},
	})
	Expect(err).ToNot(HaveOccurred())
	Expect(msg.Objects).To(HaveLen(4))

	srp, ok := pcep.Find[*pcep.SRPObject](msg)
	Expect(ok).To(BeTrue())
	Expect(srp.SRPath).To(BeTrue())

	assoc, ok := pcep.Find[*pcep.AssociationObject](msg)
	Expect(ok).To(BeTrue())
	Expect(assoc.AssocType).To(Equal(pcep.AssociationTypeSRPolicy))
	Expect(assoc.Color).To(Equal(uint32(100)))
	Expect(assoc.Source).To(Equal(netip.MustParseAddr("192.0.2.1")))

	ero, ok := pcep.Find[*pcep.EROObject](msg)
	Expect(ok).To(BeTrue())
	Expect(ero.Subobjects).To(HaveLen(1))
	Expect(ero.Subobjects[0].SID).To(Equal(uint32(16002 << 12)))
	Expect(ero.Subobjects[0].NoNAI).To(BeTrue())
}

func TestEndOfSync(t *testing.T) {
	RegisterTestingT(t)

	path, err := ParsePath(overWire(FormatEndOfSync()))
	Expect(err).ToNot(HaveOccurred())
	Expect(path.PLSPID).To(BeZero())
	Expect(path.IsSynching).To(BeFalse())
	Expect(path.Hops).To(BeEmpty())
}

func TestFormatReportErrors(t *testing.T) {
	tests := []struct {
		name string
		hop  PathHop
	}{
		{
			name: "IPv6 address as IPv4 node",
			hop:  PathHop{HasNAI: true, NAIType: pcep.NAIIPv4Node, NAI: NAI{IPv4Node: NAIIPv4Node{Addr: netip.MustParseAddr("2001:db8::1")}}},
		},
		{
			name: "unsupported NAI type",
			hop:  PathHop{HasSID: true, HasNAI: true, NAIType: pcep.NAIIPv6Node},
		},
		{
			name: "label above 20 bits",
			hop:  PathHop{HasSID: true, IsMPLS: true, SID: SID{MPLS: SIDMPLS{Label: mpls.LabelMax + 1}}},
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			RegisterTestingT(t)

			msg, err := FormatReport(&Path{PLSPID: 1, Hops: []PathHop{test.hop}})
			Expect(err).To(HaveOccurred())
			Expect(msg).To(BeNil())
		})
	}
}

func TestParseUpdate(t *testing.T) {
	RegisterTestingT(t)

	upd := pcep.NewMessage(pcep.MessagePCUpd,
		&pcep.SRPObject{SRPID: 9, SRPath: true},
		&pcep.LSPObject{PLSPID: 12, Administrative: true, Delegate: true},
		&pcep.EROObject{Subobjects: []pcep.SRSubobject{
			{NAIType: pcep.NAIIPv4Node, MPLS: true, SID: 16005 << 12, NAI: []byte{10, 0, 0, 5}},
			{NAIType: pcep.NAIAbsent, NoNAI: true, MPLS: true, SID: 16009 << 12},
		}},
	)
	path, err := ParsePath(overWire(upd))
	Expect(err).ToNot(HaveOccurred())
	Expect(path.SRPID).To(Equal(uint32(9)))
	Expect(path.PLSPID).To(Equal(uint32(12)))
	Expect(path.GoActive).To(BeTrue())
	Expect(path.IsDelegated).To(BeTrue())
	Expect(path.DoRemove).To(BeFalse())
	Expect(path.Hops).To(HaveLen(2))
	Expect(path.Hops[0].NAI.IPv4Node.Addr).To(Equal(netip.MustParseAddr("10.0.0.5")))
	Expect(path.Hops[1].HasNAI).To(BeFalse())

	labels, ok := path.Labels()
	Expect(ok).To(BeTrue())
	Expect(labels).To(Equal(mplsStack(16005, 16009)))
}

func TestParseInitiateRemove(t *testing.T) {
	RegisterTestingT(t)

	msg := pcep.NewMessage(pcep.MessagePCInitiate,
		&pcep.SRPObject{SRPID: 4, Remove: true},
		&pcep.LSPObject{PLSPID: 3},
	)
	path, err := ParsePath(overWire(msg))
	Expect(err).ToNot(HaveOccurred())
	Expect(path.DoRemove).To(BeTrue())
	Expect(path.PLSPID).To(Equal(uint32(3)))
	Expect(path.Hops).To(BeNil())
}

func TestParsePathErrors(t *testing.T) {
	tests := []struct {
		name      string
		msg       *pcep.Message
		decodeErr bool
	}{
		{
			name: "unsupported NAI type",
			msg: pcep.NewMessage(pcep.MessagePCUpd,
				&pcep.SRPObject{SRPID: 1},
				&pcep.LSPObject{PLSPID: 1},
				&pcep.EROObject{Subobjects: []pcep.SRSubobject{
					{NAIType: pcep.NAIIPv4Node, MPLS: true, SID: 16005 << 12, NAI: []byte{10, 0, 0, 5}},
					{NAIType: pcep.NAIIPv6Node, MPLS: true, SID: 16006 << 12, NAI: netip.MustParseAddr("2001:db8::6").AsSlice()},
				}},
			),
			decodeErr: true,
		},
		{
			name:      "missing LSP",
			msg:       pcep.NewMessage(pcep.MessagePCUpd, &pcep.SRPObject{SRPID: 1}),
			decodeErr: true,
		},
		{
			name: "keepalive",
			msg:  pcep.NewKeepalive(),
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			RegisterTestingT(t)

			path, err := ParsePath(overWire(test.msg))
			Expect(err).To(HaveOccurred())
			Expect(pcep.IsDecodeError(err)).To(Equal(test.decodeErr), "%v", err)
			Expect(path).To(BeNil())
		})
	}
}

func TestParseReply(t *testing.T) {
	RegisterTestingT(t)

	rep := pcep.NewMessage(pcep.MessagePCRep,
		&pcep.RPObject{RequestID: 77, SRPath: true},
		&pcep.EROObject{Subobjects: []pcep.SRSubobject{
			{NAIType: pcep.NAIAbsent, NoNAI: true, MPLS: true, SID: 16009 << 12},
		}},
	)
	path, err := ParsePath(overWire(rep))
	Expect(err).ToNot(HaveOccurred())
	Expect(path.ReqID).To(Equal(uint32(77)))
	Expect(path.Hops).To(HaveLen(1))

	noPath := pcep.NewMessage(pcep.MessagePCRep,
		&pcep.RPObject{RequestID: 78},
		&pcep.NoPathObject{},
	)
	path, err = ParsePath(overWire(noPath))
	Expect(errors.Cause(err)).To(Equal(ErrNoPath))
	Expect(path).To(BeNil())
}

func TestFormatRequest(t *testing.T) {
	RegisterTestingT(t)

	msg, err := FormatRequest(5, netip.MustParseAddr("192.0.2.1"), netip.MustParseAddr("192.0.2.9"))
	Expect(err).ToNot(HaveOccurred())
	msg = overWire(msg)
	Expect(msg.Type).To(Equal(pcep.MessagePCReq))

	rp, ok := pcep.Find[*pcep.RPObject](msg)
	Expect(ok).To(BeTrue())
	Expect(rp.RequestID).To(Equal(uint32(5)))
	Expect(rp.SRPath).To(BeTrue())

	ep, ok := pcep.Find[*pcep.EndPointsObject](msg)
	Expect(ok).To(BeTrue())
	Expect(ep.Destination).To(Equal(netip.MustParseAddr("192.0.2.9")))

	_, err = FormatRequest(6, netip.MustParseAddr("192.0.2.1"), netip.MustParseAddr("2001:db8::9"))
	Expect(err).To(HaveOccurred())
	_, err = FormatRequest(6, netip.Addr{}, netip.MustParseAddr("192.0.2.9"))
	Expect(err).To(HaveOccurred())
}

func TestParseCapabilities(t *testing.T) {
	RegisterTestingT(t)

	var caps Caps
	open := pcep.NewMessage(pcep.MessageOpen, &pcep.OpenObject{
		Keepalive: 30,
		DeadTimer: 120,
		Stateful:  &pcep.StatefulCapability{Update: true},
	})
	Expect(ParseCapabilities(overWire(open), &caps)).To(Succeed())
	Expect(caps.IsStateful).To(BeTrue())

	open = pcep.NewMessage(pcep.MessageOpen, &pcep.OpenObject{Keepalive: 30, DeadTimer: 120})
	Expect(ParseCapabilities(overWire(open), &caps)).To(Succeed())
	Expect(caps.IsStateful).To(BeFalse())

	Expect(ParseCapabilities(pcep.NewKeepalive(), &caps)).ToNot(Succeed())
}

func TestInitializeTwice(t *testing.T) {
	RegisterTestingT(t)
	t.Cleanup(Finalize)

	Expect(Initialize(nil)).To(Succeed())
	Expect(Initialize(nil)).To(Equal(ErrAlreadyInitialized))
	Finalize()
	Expect(Initialize(nil)).To(Succeed())
}

func TestConnectNotInitialized(t *testing.T) {
	RegisterTestingT(t)

	Finalize()
	_, err := Connect(context.Background(), PCCOpts{}, PCEOpts{Addr: netip.MustParseAddr("127.0.0.1")})
	Expect(err).To(Equal(ErrNotInitialized))
}

// servePCE accepts one PCC, answers its OPEN and reports whether the PCC
// announced the stateful capability. Messages received afterwards are
// forwarded to the returned channel.
func servePCE(t *testing.T) (netip.AddrPort, <-chan bool, <-chan *pcep.Message) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	stateful := make(chan bool, 1)
	received := make(chan *pcep.Message, 8)
	go func() {
		defer close(received)
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		m, err := pcep.ReadMessage(conn)
		if err != nil || m.Type != pcep.MessageOpen {
			return
		}
		open, _ := pcep.Find[*pcep.OpenObject](m)
		stateful <- open.Stateful != nil
		pcep.WriteMessage(conn, pcep.NewMessage(pcep.MessageOpen, &pcep.OpenObject{
			Keepalive: 30,
			DeadTimer: 120,
			Stateful:  open.Stateful,
		}))
		pcep.WriteMessage(conn, pcep.NewKeepalive())
		for {
			m, err := pcep.ReadMessage(conn)
			if err != nil {
				return
			}
			if m.Type != pcep.MessageKeepalive {
				received <- m
			}
		}
	}()
	return ln.Addr().(*net.TCPAddr).AddrPort(), stateful, received
}

func TestConnectAndDisconnect(t *testing.T) {
	RegisterTestingT(t)
	Expect(Initialize(nil)).To(Succeed())
	t.Cleanup(Finalize)

	addr, stateful, received := servePCE(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s, err := Connect(ctx, PCCOpts{}, PCEOpts{Addr: addr.Addr(), Port: addr.Port()})
	Expect(err).ToNot(HaveOccurred())
	Eventually(stateful).Should(Receive(BeTrue()))

	var caps Caps
	Expect(ParseCapabilities(s.PeerOpen(), &caps)).To(Succeed())
	Expect(caps.IsStateful).To(BeTrue())

	Disconnect(s)
	Expect(s.Events()).To(BeClosed())
	var m *pcep.Message
	Eventually(received, 2*time.Second).Should(Receive(&m))
	Expect(m.Type).To(Equal(pcep.MessageClose))

	// second disconnect is harmless
	Disconnect(s)
}

func TestConnectStateless(t *testing.T) {
	RegisterTestingT(t)
	Expect(Initialize(nil)).To(Succeed())
	t.Cleanup(Finalize)

	addr, stateful, _ := servePCE(t)
	s, err := Connect(context.Background(), PCCOpts{ForceStateless: true}, PCEOpts{Addr: addr.Addr(), Port: addr.Port()})
	Expect(err).ToNot(HaveOccurred())
	Eventually(stateful).Should(Receive(BeFalse()))

	var caps Caps
	Expect(ParseCapabilities(s.PeerOpen(), &caps)).To(Succeed())
	Expect(caps.IsStateful).To(BeFalse())

	// finalize disconnects live sessions
	Finalize()
	Expect(s.Done()).To(BeClosed())
}
