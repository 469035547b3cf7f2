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

// Package pcepcalls translates between paths of SR policies and PCEP
// messages and manages PCEP sessions of the agent.
package pcepcalls

import (
	"context"
	"fmt"
	"net/netip"
	"sync"

	"github.com/pkg/errors"
	"go.ligato.io/cn-infra/v2/logging"
	"go.ligato.io/cn-infra/v2/logging/logrus"

	"github.com/ligato/srte-agent/pkg/mpls"
	"github.com/ligato/srte-agent/pkg/pcep"
)

var (
	// ErrAlreadyInitialized is returned by a second Initialize.
	ErrAlreadyInitialized = errors.New("pcep library already initialized")
	// ErrNotInitialized is returned when connecting before Initialize.
	ErrNotInitialized = errors.New("pcep library not initialized")
	// ErrNoPath is returned when the PCE could not compute a path.
	ErrNoPath = errors.New("no path found")
)

// Session timers proposed by the PCC.
const (
	DefaultKeepalive = 30
	DefaultDeadTimer = 120
	// DefaultMSD is the announced maximum SID depth.
	DefaultMSD = 10
)

type engine struct {
	log      logging.Logger
	sessions map[*pcep.Session]struct{}
}

var (
	engineMu sync.Mutex
	eng      *engine
)

// Initialize prepares the library for connecting to PCEs. Sessions log
// through log, the default logger is used if nil.
func Initialize(log logging.Logger) error {
	engineMu.Lock()
	defer engineMu.Unlock()

	if eng != nil {
		return ErrAlreadyInitialized
	}
	if log == nil {
		log = logrus.DefaultLogger()
	}
	eng = &engine{
		log:      log,
		sessions: make(map[*pcep.Session]struct{}),
	}
	return nil
}

// Finalize disconnects all sessions and releases the library. It is
// a no-op if the library is not initialized.
func Finalize() {
	engineMu.Lock()
	e := eng
	eng = nil
	engineMu.Unlock()

	if e == nil {
		return
	}
	for _, s := range e.takeSessions() {
		s.Close()
	}
}

// Connect opens a session from the PCC to the PCE. The stateful capability
// is announced unless the PCC forces a stateless session.
func Connect(ctx context.Context, pcc PCCOpts, pce PCEOpts) (*pcep.Session, error) {
	engineMu.Lock()
	e := eng
	engineMu.Unlock()
	if e == nil {
		return nil, ErrNotInitialized
	}

	keepalive, deadTimer := pcc.Keepalive, pcc.DeadTimer
	if keepalive == 0 {
		keepalive = DefaultKeepalive
	}
	if deadTimer == 0 {
		deadTimer = 4 * keepalive
	}
	s, err := pcep.Dial(ctx, pcc.AddrPort(), pce.AddrPort(), pcep.SessionOptions{
		Keepalive: keepalive,
		DeadTimer: deadTimer,
		Stateful:  !pcc.ForceStateless,
		MSD:       DefaultMSD,
		Log:       e.log,
	})
	if err != nil {
		return nil, err
	}

	engineMu.Lock()
	defer engineMu.Unlock()
	if eng != e {
		s.Close()
		return nil, ErrNotInitialized
	}
	e.sessions[s] = struct{}{}
	return s, nil
}

// Disconnect closes the session and waits for its workers. No event is
// delivered by the session afterwards.
func Disconnect(s *pcep.Session) {
	engineMu.Lock()
	if eng != nil {
		delete(eng.sessions, s)
	}
	engineMu.Unlock()
	s.Close()
}

func (e *engine) takeSessions() []*pcep.Session {
	engineMu.Lock()
	defer engineMu.Unlock()
	sessions := make([]*pcep.Session, 0, len(e.sessions))
	for s := range e.sessions {
		sessions = append(sessions, s)
	}
	e.sessions = make(map[*pcep.Session]struct{})
	return sessions
}

// FormatReport builds PCRpt describing the path.
func FormatReport(path *Path) (*pcep.Message, error) {
	lsp := &pcep.LSPObject{
		PLSPID:         path.PLSPID,
		Oper:           path.Status,
		Administrative: path.GoActive,
		Remove:         path.WasRemoved,
		Sync:           path.IsSynching,
		Delegate:       path.IsDelegated,
		Create:         path.WasCreated,
		Name:           path.Name,
	}
	if path.Sender.IsValid() && path.NBKey.Endpoint.IsValid() && path.Sender.Is4() == path.NBKey.Endpoint.Is4() {
		lsp.Sender = path.Sender
		lsp.Endpoint = path.NBKey.Endpoint
	}
	objects := []pcep.Object{
		&pcep.SRPObject{SRPID: path.SRPID, Remove: path.DoRemove, SRPath: true},
		lsp,
	}
	if path.NBKey.Endpoint.IsValid() {
		source := path.Sender
		if !source.IsValid() {
			source = path.NBKey.Endpoint
		}
		objects = append(objects, &pcep.AssociationObject{
			AssocType:  pcep.AssociationTypeSRPolicy,
			AssocID:    1,
			Source:     source,
			Color:      path.NBKey.Color,
			Endpoint:   path.NBKey.Endpoint,
			Preference: path.NBKey.Preference,
		})
	}
	ero, err := formatERO(path.Hops)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to format report of %q", path.Name)
	}
	objects = append(objects, ero)
	return pcep.NewMessage(pcep.MessagePCRpt, objects...), nil
}

// FormatEndOfSync builds the PCRpt closing the state synchronization.
func FormatEndOfSync() *pcep.Message {
	return pcep.NewMessage(pcep.MessagePCRpt,
		&pcep.SRPObject{SRPath: true},
		&pcep.LSPObject{},
		&pcep.EROObject{},
	)
}

// FormatRequest builds PCReq asking for an SR path from src to dst.
func FormatRequest(reqID uint32, src, dst netip.Addr) (*pcep.Message, error) {
	if !src.IsValid() || !dst.IsValid() {
		return nil, errors.New("request end-points must be set")
	}
	if src.Is4() != dst.Is4() {
		return nil, errors.Errorf("request end-points %v and %v differ in family", src, dst)
	}
	return pcep.NewMessage(pcep.MessagePCReq,
		&pcep.RPObject{RequestID: reqID, SRPath: true},
		&pcep.EndPointsObject{Source: src, Destination: dst},
	), nil
}

// ParsePath extracts the path carried by PCRpt, PCUpd, PCInitiate or PCRep.
// No path is returned if any part of it cannot be decoded.
func ParsePath(msg *pcep.Message) (*Path, error) {
	switch msg.Type {
	case pcep.MessagePCRep:
		return parseReply(msg)
	case pcep.MessagePCRpt, pcep.MessagePCUpd, pcep.MessagePCInitiate:
	default:
		return nil, errors.Errorf("%v message does not carry a path", msg.Type)
	}

	path := &Path{}
	lsp, ok := pcep.Find[*pcep.LSPObject](msg)
	if !ok {
		return nil, &pcep.DecodeError{Object: "LSP", Reason: "missing in " + msg.Type.String()}
	}
	path.PLSPID = lsp.PLSPID
	path.Status = lsp.Oper
	path.GoActive = lsp.Administrative
	path.WasRemoved = lsp.Remove
	path.IsSynching = lsp.Sync
	path.IsDelegated = lsp.Delegate
	path.WasCreated = lsp.Create
	path.Name = lsp.Name
	path.Sender = lsp.Sender
	path.NBKey.Endpoint = lsp.Endpoint

	if srp, ok := pcep.Find[*pcep.SRPObject](msg); ok {
		path.SRPID = srp.SRPID
		path.DoRemove = srp.Remove
	}
	for _, o := range msg.Objects {
		assoc, ok := o.(*pcep.AssociationObject)
		if !ok || assoc.AssocType != pcep.AssociationTypeSRPolicy {
			continue
		}
		path.NBKey.Color = assoc.Color
		path.NBKey.Preference = assoc.Preference
		if assoc.Endpoint.IsValid() {
			path.NBKey.Endpoint = assoc.Endpoint
		}
		break
	}
	if ero, ok := pcep.Find[*pcep.EROObject](msg); ok {
		hops, err := parseERO(ero)
		if err != nil {
			return nil, err
		}
		path.Hops = hops
	}
	return path, nil
}

func parseReply(msg *pcep.Message) (*Path, error) {
	path := &Path{}
	if rp, ok := pcep.Find[*pcep.RPObject](msg); ok {
		path.ReqID = rp.RequestID
	}
	if _, ok := pcep.Find[*pcep.NoPathObject](msg); ok {
		return nil, errors.Wrapf(ErrNoPath, "request %d", path.ReqID)
	}
	if ero, ok := pcep.Find[*pcep.EROObject](msg); ok {
		hops, err := parseERO(ero)
		if err != nil {
			return nil, err
		}
		path.Hops = hops
	}
	return path, nil
}

// ParseCapabilities reads capabilities of the peer from its OPEN message.
func ParseCapabilities(msg *pcep.Message, caps *Caps) error {
	if msg.Type != pcep.MessageOpen {
		return errors.Errorf("expected OPEN message, got %v", msg.Type)
	}
	open, ok := pcep.Find[*pcep.OpenObject](msg)
	if !ok {
		return &pcep.DecodeError{Object: "OPEN", Reason: "missing in OPEN message"}
	}
	caps.IsStateful = open.Stateful != nil
	return nil
}

func formatERO(hops []PathHop) (*pcep.EROObject, error) {
	ero := &pcep.EROObject{}
	for i, h := range hops {
		sub, err := formatHop(h)
		if err != nil {
			return nil, errors.Wrapf(err, "hop %d", i)
		}
		ero.Subobjects = append(ero.Subobjects, sub)
	}
	return ero, nil
}

func formatHop(h PathHop) (pcep.SRSubobject, error) {
	sub := pcep.SRSubobject{
		Loose:   h.IsLoose,
		NAIType: h.NAIType,
		NoNAI:   !h.HasNAI,
		NoSID:   !h.HasSID,
		Attribs: h.HasAttribs,
		MPLS:    h.IsMPLS,
	}
	if h.HasSID {
		if h.IsMPLS {
			if !h.SID.MPLS.Label.IsValid() {
				return sub, errors.Errorf("label %d out of range", uint32(h.SID.MPLS.Label))
			}
			entry := mpls.StackEntry{Label: h.SID.MPLS.Label}
			if h.HasAttribs {
				entry.TrafficClass = h.SID.MPLS.TrafficClass
				entry.BottomOfStack = h.SID.MPLS.IsBottom
				entry.TTL = h.SID.MPLS.TTL
			}
			sub.SID = entry.Encode()
		} else {
			sub.SID = h.SID.Value
		}
	}
	if h.HasNAI {
		switch h.NAIType {
		case pcep.NAIIPv4Node:
			addr := h.NAI.IPv4Node.Addr
			if !addr.Is4() {
				return sub, errors.Errorf("invalid IPv4 node %v", addr)
			}
			a4 := addr.As4()
			sub.NAI = a4[:]
		default:
			return sub, errors.Errorf("unsupported NAI type %v", h.NAIType)
		}
	}
	return sub, nil
}

func parseERO(ero *pcep.EROObject) ([]PathHop, error) {
	var hops []PathHop
	for i, sub := range ero.Subobjects {
		h, err := parseHop(sub)
		if err != nil {
			return nil, &pcep.DecodeError{Object: "ERO", Reason: fmt.Sprintf("hop %d: %v", i, err)}
		}
		hops = append(hops, h)
	}
	return hops, nil
}

func parseHop(sub pcep.SRSubobject) (PathHop, error) {
	h := PathHop{
		IsLoose:    sub.Loose,
		HasSID:     !sub.NoSID,
		IsMPLS:     sub.MPLS,
		HasAttribs: sub.Attribs,
		NAIType:    sub.NAIType,
	}
	if h.HasSID {
		if h.IsMPLS {
			entry := mpls.DecodeStackEntry(sub.SID)
			h.SID.MPLS.Label = entry.Label
			if h.HasAttribs {
				h.SID.MPLS.TrafficClass = entry.TrafficClass
				h.SID.MPLS.IsBottom = entry.BottomOfStack
				h.SID.MPLS.TTL = entry.TTL
			}
		} else {
			h.SID.Value = sub.SID
		}
	}
	if sub.NoNAI || sub.NAIType == pcep.NAIAbsent {
		return h, nil
	}
	switch sub.NAIType {
	case pcep.NAIIPv4Node:
		if len(sub.NAI) != 4 {
			return h, errors.Errorf("IPv4 node NAI of %d bytes", len(sub.NAI))
		}
		h.HasNAI = true
		h.NAI.IPv4Node.Addr = netip.AddrFrom4([4]byte(sub.NAI))
	default:
		return h, errors.Errorf("unsupported NAI type %v", sub.NAIType)
	}
	return h, nil
}
