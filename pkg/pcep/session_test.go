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
	"context"
	"net"
	"net/netip"
	"testing"
	"time"

	. "github.com/onsi/gomega"
	"github.com/pkg/errors"
)

type fakePCE struct {
	ln    net.Listener
	open  *OpenObject
	conns chan net.Conn
	errs  chan error
}

// startFakePCE accepts one PCC and completes the OPEN exchange with it.
func startFakePCE(t *testing.T, open *OpenObject) *fakePCE {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}
	pce := &fakePCE{
		ln:    ln,
		open:  open,
		conns: make(chan net.Conn, 1),
		errs:  make(chan error, 1),
	}
	go pce.serve()
	t.Cleanup(func() { ln.Close() })
	return pce
}

func (p *fakePCE) addr() netip.AddrPort {
	return p.ln.Addr().(*net.TCPAddr).AddrPort()
}

func (p *fakePCE) serve() {
	conn, err := p.ln.Accept()
	if err != nil {
		p.errs <- err
		return
	}
	m, err := ReadMessage(conn)
	if err != nil {
		p.errs <- err
		return
	}
	if m.Type != MessageOpen {
		p.errs <- errors.Errorf("expected OPEN, got %v", m.Type)
		return
	}
	if p.open == nil {
		WriteMessage(conn, NewError(1, 1))
		conn.Close()
		return
	}
	if err := WriteMessage(conn, NewMessage(MessageOpen, p.open)); err != nil {
		p.errs <- err
		return
	}
	if err := WriteMessage(conn, NewKeepalive()); err != nil {
		p.errs <- err
		return
	}
	if m, err = ReadMessage(conn); err != nil || m.Type != MessageKeepalive {
		p.errs <- errors.Errorf("expected keepalive: %v", err)
		return
	}
	p.conns <- conn
}

func (p *fakePCE) accept(t *testing.T) net.Conn {
	select {
	case conn := <-p.conns:
		return conn
	case err := <-p.errs:
		t.Fatalf("fake PCE failed: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for PCC")
	}
	return nil
}

func TestSessionOpenAndClose(t *testing.T) {
	RegisterTestingT(t)

	pce := startFakePCE(t, &OpenObject{
		Keepalive: 30,
		DeadTimer: 120,
		Stateful:  &StatefulCapability{Update: true},
	})
	s, err := Dial(context.Background(), netip.AddrPort{}, pce.addr(), SessionOptions{Stateful: true})
	Expect(err).ToNot(HaveOccurred())
	conn := pce.accept(t)
	defer conn.Close()

	open, ok := Find[*OpenObject](s.PeerOpen())
	Expect(ok).To(BeTrue())
	Expect(open.Stateful).To(Equal(&StatefulCapability{Update: true}))

	// keepalives are consumed by the session
	Expect(WriteMessage(conn, NewKeepalive())).To(Succeed())
	upd := NewMessage(MessagePCUpd, &SRPObject{SRPID: 1}, &LSPObject{PLSPID: 5}, &EROObject{})
	Expect(WriteMessage(conn, upd)).To(Succeed())

	var received *Message
	Eventually(s.Events(), 2*time.Second).Should(Receive(&received))
	Expect(received.Type).To(Equal(MessagePCUpd))
	lsp, _ := Find[*LSPObject](received)
	Expect(lsp.PLSPID).To(Equal(uint32(5)))

	rpt := NewMessage(MessagePCRpt, &SRPObject{SRPID: 1}, &LSPObject{PLSPID: 5}, &EROObject{})
	Expect(s.Send(rpt)).To(Succeed())
	m, err := ReadMessage(conn)
	Expect(err).ToNot(HaveOccurred())
	Expect(m.Type).To(Equal(MessagePCRpt))

	Expect(s.Close()).To(Succeed())
	m, err = ReadMessage(conn)
	Expect(err).ToNot(HaveOccurred())
	Expect(m.Type).To(Equal(MessageClose))

	Expect(s.Done()).To(BeClosed())
	Expect(s.Events()).To(BeClosed())
	Expect(s.Err()).ToNot(HaveOccurred())
	Expect(s.Send(NewKeepalive())).To(Equal(ErrSessionClosed))

	// second close is harmless
	Expect(s.Close()).To(Succeed())
}

func TestSessionCloseDiscardsPending(t *testing.T) {
	RegisterTestingT(t)

	pce := startFakePCE(t, &OpenObject{Keepalive: 30, DeadTimer: 120})
	s, err := Dial(context.Background(), netip.AddrPort{}, pce.addr(), SessionOptions{})
	Expect(err).ToNot(HaveOccurred())
	conn := pce.accept(t)
	defer conn.Close()

	for i := uint32(1); i <= 3; i++ {
		upd := NewMessage(MessagePCUpd, &SRPObject{SRPID: i}, &LSPObject{PLSPID: i}, &EROObject{})
		Expect(WriteMessage(conn, upd)).To(Succeed())
	}
	Eventually(func() int { return len(s.Events()) }, 2*time.Second).Should(Equal(3))

	Expect(s.Close()).To(Succeed())
	Expect(s.Events()).To(BeClosed())
}

func TestSessionPeerClose(t *testing.T) {
	RegisterTestingT(t)

	pce := startFakePCE(t, &OpenObject{Keepalive: 30, DeadTimer: 120})
	s, err := Dial(context.Background(), netip.AddrPort{}, pce.addr(), SessionOptions{})
	Expect(err).ToNot(HaveOccurred())
	conn := pce.accept(t)
	defer conn.Close()

	open, _ := Find[*OpenObject](s.PeerOpen())
	Expect(open.Stateful).To(BeNil())

	Expect(WriteMessage(conn, NewClose(CloseReasonNoExplanation))).To(Succeed())
	Eventually(s.Done(), 2*time.Second).Should(BeClosed())
	Expect(s.Err()).To(Equal(ErrSessionClosed))
	Expect(s.Events()).To(BeClosed())
	Expect(s.Close()).To(Succeed())
}

func TestSessionKeepalive(t *testing.T) {
	RegisterTestingT(t)

	pce := startFakePCE(t, &OpenObject{Keepalive: 30, DeadTimer: 120})
	s, err := Dial(context.Background(), netip.AddrPort{}, pce.addr(), SessionOptions{Keepalive: 1, DeadTimer: 4})
	Expect(err).ToNot(HaveOccurred())
	defer s.Close()
	conn := pce.accept(t)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	m, err := ReadMessage(conn)
	Expect(err).ToNot(HaveOccurred())
	Expect(m.Type).To(Equal(MessageKeepalive))
}

func TestSessionDeadTimer(t *testing.T) {
	RegisterTestingT(t)

	pce := startFakePCE(t, &OpenObject{Keepalive: 0, DeadTimer: 1})
	s, err := Dial(context.Background(), netip.AddrPort{}, pce.addr(), SessionOptions{})
	Expect(err).ToNot(HaveOccurred())
	conn := pce.accept(t)
	defer conn.Close()

	Eventually(s.Done(), 3*time.Second).Should(BeClosed())
	Expect(s.Err()).To(HaveOccurred())
	Expect(s.Err().Error()).To(ContainSubstring("dead timer"))
}

func TestSessionRejected(t *testing.T) {
	RegisterTestingT(t)

	pce := startFakePCE(t, nil)
	_, err := Dial(context.Background(), netip.AddrPort{}, pce.addr(), SessionOptions{})
	Expect(err).To(HaveOccurred())
	Expect(err.Error()).To(ContainSubstring("rejected"))
}

func TestSessionDialFailure(t *testing.T) {
	RegisterTestingT(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	Expect(err).ToNot(HaveOccurred())
	addr := ln.Addr().(*net.TCPAddr).AddrPort()
	ln.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err = Dial(ctx, netip.AddrPort{}, addr, SessionOptions{})
	Expect(err).To(HaveOccurred())
}
