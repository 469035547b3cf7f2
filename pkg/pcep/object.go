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
	"math"
	"net/netip"

	"github.com/pkg/errors"
)

// Object is a PCEP object carried in a message.
type Object interface {
	Class() ObjectClass
	objectType() uint8
	appendBody(b []byte) ([]byte, error)
}

func appendObject(b []byte, o Object) ([]byte, error) {
	start := len(b)
	b = objectHeader{class: o.Class(), objType: o.objectType()}.appendTo(b)
	b, err := o.appendBody(b)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to encode %v object", o.Class())
	}
	b = append(b, make([]byte, pad4(len(b)-start))...)
	length := len(b) - start
	if length > math.MaxUint16 {
		return nil, errors.Errorf("%v object too long (%d bytes)", o.Class(), length)
	}
	binary.BigEndian.PutUint16(b[start+2:start+4], uint16(length))
	return b, nil
}

func decodeObject(h objectHeader, body []byte) (Object, error) {
	var o interface {
		Object
		decode(objType uint8, body []byte) error
	}
	switch h.class {
	case ClassOpen:
		o = &OpenObject{}
	case ClassRP:
		o = &RPObject{}
	case ClassNoPath:
		o = &NoPathObject{}
	case ClassEndPoints:
		o = &EndPointsObject{}
	case ClassERO:
		o = &EROObject{}
	case ClassError:
		o = &ErrorObject{}
	case ClassClose:
		o = &CloseObject{}
	case ClassLSP:
		o = &LSPObject{}
	case ClassSRP:
		o = &SRPObject{}
	case ClassAssociation:
		o = &AssociationObject{}
	default:
		return &UnknownObject{ObjectClass: h.class, Type: h.objType, Body: append([]byte(nil), body...)}, nil
	}
	if err := o.decode(h.objType, body); err != nil {
		return nil, err
	}
	return o, nil
}

func checkLen(object string, body []byte, min int) error {
	if len(body) < min {
		return decodeErrorf(object, "body too short (%d < %d bytes)", len(body), min)
	}
	return nil
}

// OpenObject carries session parameters proposed by a speaker.
type OpenObject struct {
	Keepalive uint8
	DeadTimer uint8
	SessionID uint8
	// Stateful is nil when the speaker does not support stateful PCE.
	Stateful *StatefulCapability
	// SRCapable announces segment routing support with maximum SID depth.
	SRCapable bool
	MSD       uint8
}

// StatefulCapability is the content of the stateful PCE capability TLV.
type StatefulCapability struct {
	Update   bool
	Initiate bool
}

func (o *OpenObject) Class() ObjectClass { return ClassOpen }
func (o *OpenObject) objectType() uint8  { return 1 }

func (o *OpenObject) appendBody(b []byte) ([]byte, error) {
	b = append(b, Version<<5, o.Keepalive, o.DeadTimer, o.SessionID)
	if o.Stateful != nil {
		var flags uint32
		if o.Stateful.Update {
			flags |= statefulFlagUpdate
		}
		if o.Stateful.Initiate {
			flags |= statefulFlagInitiate
		}
		b = appendTLV(b, TLVStatefulCapability, uint32Value(flags))
	}
	if o.SRCapable {
		b = appendTLV(b, TLVSRCapability, []byte{0, 0, 0, o.MSD})
	}
	return b, nil
}

func (o *OpenObject) decode(_ uint8, body []byte) error {
	if err := checkLen("OPEN", body, 4); err != nil {
		return err
	}
	if v := body[0] >> 5; v != Version {
		return decodeErrorf("OPEN", "unsupported version %d", v)
	}
	o.Keepalive = body[1]
	o.DeadTimer = body[2]
	o.SessionID = body[3]
	tlvs, err := decodeTLVs("OPEN", body[4:])
	if err != nil {
		return err
	}
	if t, ok := findTLV(tlvs, TLVStatefulCapability); ok && len(t.Value) >= 4 {
		flags := binary.BigEndian.Uint32(t.Value)
		o.Stateful = &StatefulCapability{
			Update:   flags&statefulFlagUpdate != 0,
			Initiate: flags&statefulFlagInitiate != 0,
		}
	}
	if t, ok := findTLV(tlvs, TLVSRCapability); ok && len(t.Value) >= 4 {
		o.SRCapable = true
		o.MSD = t.Value[3]
	}
	return nil
}

// RPObject identifies a path computation request.
type RPObject struct {
	Priority  uint8
	RequestID uint32
	// SRPath requests a segment routed path.
	SRPath bool
}

func (o *RPObject) Class() ObjectClass { return ClassRP }
func (o *RPObject) objectType() uint8  { return 1 }

func (o *RPObject) appendBody(b []byte) ([]byte, error) {
	b = binary.BigEndian.AppendUint32(b, uint32(o.Priority&0x07))
	b = binary.BigEndian.AppendUint32(b, o.RequestID)
	if o.SRPath {
		b = appendTLV(b, TLVPathSetupType, []byte{0, 0, 0, PathSetupSR})
	}
	return b, nil
}

func (o *RPObject) decode(_ uint8, body []byte) error {
	if err := checkLen("RP", body, 8); err != nil {
		return err
	}
	o.Priority = body[3] & 0x07
	o.RequestID = binary.BigEndian.Uint32(body[4:8])
	tlvs, err := decodeTLVs("RP", body[8:])
	if err != nil {
		return err
	}
	o.SRPath = hasSRPathSetup(tlvs)
	return nil
}

// NoPathObject is returned by a PCE that found no path.
type NoPathObject struct {
	Nature uint8
}

func (o *NoPathObject) Class() ObjectClass { return ClassNoPath }
func (o *NoPathObject) objectType() uint8  { return 1 }

func (o *NoPathObject) appendBody(b []byte) ([]byte, error) {
	return append(b, o.Nature, 0, 0, 0), nil
}

func (o *NoPathObject) decode(_ uint8, body []byte) error {
	if err := checkLen("NO-PATH", body, 4); err != nil {
		return err
	}
	o.Nature = body[0]
	return nil
}

// EndPointsObject holds source and destination of a requested path.
type EndPointsObject struct {
	Source      netip.Addr
	Destination netip.Addr
}

func (o *EndPointsObject) Class() ObjectClass { return ClassEndPoints }

func (o *EndPointsObject) objectType() uint8 {
	if o.Source.Is4() {
		return 1
	}
	return 2
}

func (o *EndPointsObject) appendBody(b []byte) ([]byte, error) {
	if !o.Source.IsValid() || !o.Destination.IsValid() || o.Source.Is4() != o.Destination.Is4() {
		return nil, errors.Errorf("invalid end-points %v -> %v", o.Source, o.Destination)
	}
	b = appendAddr(b, o.Source)
	return appendAddr(b, o.Destination), nil
}

func (o *EndPointsObject) decode(objType uint8, body []byte) error {
	var size int
	switch objType {
	case 1:
		size = 4
	case 2:
		size = 16
	default:
		return decodeErrorf("END-POINTS", "unsupported object type %d", objType)
	}
	if err := checkLen("END-POINTS", body, 2*size); err != nil {
		return err
	}
	o.Source = addrFrom(body[:size])
	o.Destination = addrFrom(body[size : 2*size])
	return nil
}

// ErrorObject reports a protocol error.
type ErrorObject struct {
	Type  uint8
	Value uint8
}

func (o *ErrorObject) Class() ObjectClass { return ClassError }
func (o *ErrorObject) objectType() uint8  { return 1 }

func (o *ErrorObject) appendBody(b []byte) ([]byte, error) {
	return append(b, 0, 0, o.Type, o.Value), nil
}

func (o *ErrorObject) decode(_ uint8, body []byte) error {
	if err := checkLen("PCEP-ERROR", body, 4); err != nil {
		return err
	}
	o.Type = body[2]
	o.Value = body[3]
	return nil
}

func (o *ErrorObject) String() string {
	return fmt.Sprintf("error-type=%d error-value=%d", o.Type, o.Value)
}

// CloseObject carries the reason of session termination.
type CloseObject struct {
	Reason uint8
}

const (
	CloseReasonNoExplanation uint8 = 1
	CloseReasonDeadTimer     uint8 = 2
	CloseReasonMalformed     uint8 = 3
)

func (o *CloseObject) Class() ObjectClass { return ClassClose }
func (o *CloseObject) objectType() uint8  { return 1 }

func (o *CloseObject) appendBody(b []byte) ([]byte, error) {
	return append(b, 0, 0, 0, o.Reason), nil
}

func (o *CloseObject) decode(_ uint8, body []byte) error {
	if err := checkLen("CLOSE", body, 4); err != nil {
		return err
	}
	o.Reason = body[3]
	return nil
}

// OperStatus is the operational status of an LSP.
type OperStatus uint8

const (
	OperDown      OperStatus = 0
	OperUp        OperStatus = 1
	OperActive    OperStatus = 2
	OperGoingDown OperStatus = 3
	OperGoingUp   OperStatus = 4
)

func (s OperStatus) String() string {
	switch s {
	case OperDown:
		return "down"
	case OperUp:
		return "up"
	case OperActive:
		return "active"
	case OperGoingDown:
		return "going-down"
	case OperGoingUp:
		return "going-up"
	}
	return fmt.Sprintf("OperStatus(%d)", uint8(s))
}

const (
	lspFlagDelegate       = 0x01
	lspFlagSync           = 0x02
	lspFlagRemove         = 0x04
	lspFlagAdministrative = 0x08
	lspFlagCreate         = 0x80

	// MaxPLSPID is the largest PLSP-ID that fits the 20 bit field.
	MaxPLSPID = 0xFFFFF
)

// LSPObject describes a stateful LSP.
type LSPObject struct {
	PLSPID         uint32
	Oper           OperStatus
	Administrative bool
	Remove         bool
	Sync           bool
	Delegate       bool
	Create         bool

	Name string
	// Sender and Endpoint are carried in the LSP identifiers TLV.
	Sender   netip.Addr
	Endpoint netip.Addr
	LSPID    uint16
	TunnelID uint16
}

func (o *LSPObject) Class() ObjectClass { return ClassLSP }
func (o *LSPObject) objectType() uint8  { return 1 }

func (o *LSPObject) appendBody(b []byte) ([]byte, error) {
	if o.PLSPID > MaxPLSPID {
		return nil, errors.Errorf("PLSP-ID %d out of range", o.PLSPID)
	}
	word := o.PLSPID<<12 | uint32(o.Oper&0x07)<<4
	if o.Administrative {
		word |= lspFlagAdministrative
	}
	if o.Remove {
		word |= lspFlagRemove
	}
	if o.Sync {
		word |= lspFlagSync
	}
	if o.Delegate {
		word |= lspFlagDelegate
	}
	if o.Create {
		word |= lspFlagCreate
	}
	b = binary.BigEndian.AppendUint32(b, word)
	if o.Name != "" {
		b = appendTLV(b, TLVSymbolicPathName, []byte(o.Name))
	}
	if o.Sender.IsValid() && o.Endpoint.IsValid() {
		if o.Sender.Is4() != o.Endpoint.Is4() {
			return nil, errors.Errorf("LSP identifiers family mismatch %v -> %v", o.Sender, o.Endpoint)
		}
		var value []byte
		value = appendAddr(value, o.Sender)
		value = binary.BigEndian.AppendUint16(value, o.LSPID)
		value = binary.BigEndian.AppendUint16(value, o.TunnelID)
		// extended tunnel ID
		value = appendAddr(value, o.Sender)
		value = appendAddr(value, o.Endpoint)
		typ := TLVIPv4LSPIdentifiers
		if o.Sender.Is6() {
			typ = TLVIPv6LSPIdentifiers
		}
		b = appendTLV(b, typ, value)
	}
	return b, nil
}

func (o *LSPObject) decode(_ uint8, body []byte) error {
	if err := checkLen("LSP", body, 4); err != nil {
		return err
	}
	word := binary.BigEndian.Uint32(body[0:4])
	o.PLSPID = word >> 12
	o.Oper = OperStatus(word >> 4 & 0x07)
	o.Administrative = word&lspFlagAdministrative != 0
	o.Remove = word&lspFlagRemove != 0
	o.Sync = word&lspFlagSync != 0
	o.Delegate = word&lspFlagDelegate != 0
	o.Create = word&lspFlagCreate != 0

	tlvs, err := decodeTLVs("LSP", body[4:])
	if err != nil {
		return err
	}
	if t, ok := findTLV(tlvs, TLVSymbolicPathName); ok {
		o.Name = string(t.Value)
	}
	if t, ok := findTLV(tlvs, TLVIPv4LSPIdentifiers); ok {
		if len(t.Value) < 16 {
			return decodeErrorf("LSP", "short IPv4 LSP identifiers TLV")
		}
		o.Sender = addrFrom(t.Value[0:4])
		o.LSPID = binary.BigEndian.Uint16(t.Value[4:6])
		o.TunnelID = binary.BigEndian.Uint16(t.Value[6:8])
		o.Endpoint = addrFrom(t.Value[12:16])
	} else if t, ok := findTLV(tlvs, TLVIPv6LSPIdentifiers); ok {
		if len(t.Value) < 52 {
			return decodeErrorf("LSP", "short IPv6 LSP identifiers TLV")
		}
		o.Sender = addrFrom(t.Value[0:16])
		o.LSPID = binary.BigEndian.Uint16(t.Value[16:18])
		o.TunnelID = binary.BigEndian.Uint16(t.Value[18:20])
		o.Endpoint = addrFrom(t.Value[36:52])
	}
	return nil
}

// SRPObject correlates stateful requests with reports.
type SRPObject struct {
	SRPID  uint32
	Remove bool
	SRPath bool
}

func (o *SRPObject) Class() ObjectClass { return ClassSRP }
func (o *SRPObject) objectType() uint8  { return 1 }

func (o *SRPObject) appendBody(b []byte) ([]byte, error) {
	var flags uint32
	if o.Remove {
		flags |= 0x01
	}
	b = binary.BigEndian.AppendUint32(b, flags)
	b = binary.BigEndian.AppendUint32(b, o.SRPID)
	if o.SRPath {
		b = appendTLV(b, TLVPathSetupType, []byte{0, 0, 0, PathSetupSR})
	}
	return b, nil
}

func (o *SRPObject) decode(_ uint8, body []byte) error {
	if err := checkLen("SRP", body, 8); err != nil {
		return err
	}
	o.Remove = body[3]&0x01 != 0
	o.SRPID = binary.BigEndian.Uint32(body[4:8])
	tlvs, err := decodeTLVs("SRP", body[8:])
	if err != nil {
		return err
	}
	o.SRPath = hasSRPathSetup(tlvs)
	return nil
}

// AssociationTypeSRPolicy groups candidate paths of one SR policy.
const AssociationTypeSRPolicy uint16 = 6

// AssociationObject associates an LSP with an SR policy.
type AssociationObject struct {
	Remove    bool
	AssocType uint16
	AssocID   uint16
	Source    netip.Addr
	// Color and Endpoint form the extended association ID of an SR policy.
	Color      uint32
	Endpoint   netip.Addr
	Preference uint32
}

func (o *AssociationObject) Class() ObjectClass { return ClassAssociation }

func (o *AssociationObject) objectType() uint8 {
	if o.Source.Is6() {
		return 2
	}
	return 1
}

func (o *AssociationObject) appendBody(b []byte) ([]byte, error) {
	if !o.Source.IsValid() {
		return nil, errors.New("missing association source")
	}
	var flags uint16
	if o.Remove {
		flags |= 0x01
	}
	b = append(b, 0, 0)
	b = binary.BigEndian.AppendUint16(b, flags)
	b = binary.BigEndian.AppendUint16(b, o.AssocType)
	b = binary.BigEndian.AppendUint16(b, o.AssocID)
	b = appendAddr(b, o.Source)
	if o.AssocType == AssociationTypeSRPolicy {
		if o.Endpoint.IsValid() {
			value := uint32Value(o.Color)
			value = appendAddr(value, o.Endpoint)
			b = appendTLV(b, TLVExtendedAssociationID, value)
		}
		b = appendTLV(b, TLVSRPolicyPreference, uint32Value(o.Preference))
	}
	return b, nil
}

func (o *AssociationObject) decode(objType uint8, body []byte) error {
	var size int
	switch objType {
	case 1:
		size = 4
	case 2:
		size = 16
	default:
		return decodeErrorf("ASSOCIATION", "unsupported object type %d", objType)
	}
	if err := checkLen("ASSOCIATION", body, 8+size); err != nil {
		return err
	}
	o.Remove = body[3]&0x01 != 0
	o.AssocType = binary.BigEndian.Uint16(body[4:6])
	o.AssocID = binary.BigEndian.Uint16(body[6:8])
	o.Source = addrFrom(body[8 : 8+size])
	tlvs, err := decodeTLVs("ASSOCIATION", body[8+size:])
	if err != nil {
		return err
	}
	if t, ok := findTLV(tlvs, TLVExtendedAssociationID); ok {
		switch len(t.Value) {
		case 8, 20:
			o.Color = binary.BigEndian.Uint32(t.Value[0:4])
			o.Endpoint = addrFrom(t.Value[4:])
		default:
			return decodeErrorf("ASSOCIATION", "invalid extended association ID length %d", len(t.Value))
		}
	}
	if t, ok := findTLV(tlvs, TLVSRPolicyPreference); ok && len(t.Value) >= 4 {
		o.Preference = binary.BigEndian.Uint32(t.Value)
	}
	return nil
}

// UnknownObject keeps an object this package does not interpret.
type UnknownObject struct {
	ObjectClass ObjectClass
	Type        uint8
	Body        []byte
}

func (o *UnknownObject) Class() ObjectClass { return o.ObjectClass }
func (o *UnknownObject) objectType() uint8  { return o.Type }

func (o *UnknownObject) appendBody(b []byte) ([]byte, error) {
	return append(b, o.Body...), nil
}

func hasSRPathSetup(tlvs []TLV) bool {
	t, ok := findTLV(tlvs, TLVPathSetupType)
	return ok && len(t.Value) >= 4 && t.Value[3] == PathSetupSR
}
