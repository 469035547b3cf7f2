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

// Package pcep implements the subset of the Path Computation Element
// Protocol (RFC 5440) with stateful (RFC 8231, RFC 8281) and segment routing
// (RFC 8664) extensions needed by a PCC: message and object codec and a TCP
// session with OPEN negotiation and keepalives.
package pcep

import (
	"encoding/binary"
	"fmt"
)

const (
	// Version is the PCEP protocol version.
	Version = 1
	// DefaultPort is the well-known PCEP TCP port.
	DefaultPort = 4189

	commonHeaderLen = 4
	objectHeaderLen = 4
	tlvHeaderLen    = 4
)

// MessageType is the PCEP message type.
type MessageType uint8

const (
	MessageOpen       MessageType = 1
	MessageKeepalive  MessageType = 2
	MessagePCReq      MessageType = 3
	MessagePCRep      MessageType = 4
	MessageNotify     MessageType = 5
	MessageError      MessageType = 6
	MessageClose      MessageType = 7
	MessagePCRpt      MessageType = 10
	MessagePCUpd      MessageType = 11
	MessagePCInitiate MessageType = 12
)

var messageTypeNames = map[MessageType]string{
	MessageOpen:       "Open",
	MessageKeepalive:  "Keepalive",
	MessagePCReq:      "PCReq",
	MessagePCRep:      "PCRep",
	MessageNotify:     "Notify",
	MessageError:      "Error",
	MessageClose:      "Close",
	MessagePCRpt:      "PCRpt",
	MessagePCUpd:      "PCUpd",
	MessagePCInitiate: "PCInitiate",
}

func (t MessageType) String() string {
	if name, ok := messageTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("MessageType(%d)", uint8(t))
}

// ObjectClass is the PCEP object class.
type ObjectClass uint8

const (
	ClassOpen        ObjectClass = 0x01
	ClassRP          ObjectClass = 0x02
	ClassNoPath      ObjectClass = 0x03
	ClassEndPoints   ObjectClass = 0x04
	ClassERO         ObjectClass = 0x07
	ClassError       ObjectClass = 0x0d
	ClassClose       ObjectClass = 0x0f
	ClassLSP         ObjectClass = 0x20
	ClassSRP         ObjectClass = 0x21
	ClassAssociation ObjectClass = 0x28
)

var objectClassNames = map[ObjectClass]string{
	ClassOpen:        "OPEN",
	ClassRP:          "RP",
	ClassNoPath:      "NO-PATH",
	ClassEndPoints:   "END-POINTS",
	ClassERO:         "ERO",
	ClassError:       "PCEP-ERROR",
	ClassClose:       "CLOSE",
	ClassLSP:         "LSP",
	ClassSRP:         "SRP",
	ClassAssociation: "ASSOCIATION",
}

func (c ObjectClass) String() string {
	if name, ok := objectClassNames[c]; ok {
		return name
	}
	return fmt.Sprintf("ObjectClass(%d)", uint8(c))
}

type commonHeader struct {
	version uint8
	flags   uint8
	msgType MessageType
	length  uint16
}

func (h commonHeader) appendTo(b []byte) []byte {
	b = append(b, h.version<<5|h.flags&0x1f, uint8(h.msgType))
	return binary.BigEndian.AppendUint16(b, h.length)
}

func decodeCommonHeader(b []byte) (commonHeader, error) {
	if len(b) < commonHeaderLen {
		return commonHeader{}, decodeErrorf("header", "short common header (%d bytes)", len(b))
	}
	h := commonHeader{
		version: b[0] >> 5,
		flags:   b[0] & 0x1f,
		msgType: MessageType(b[1]),
		length:  binary.BigEndian.Uint16(b[2:4]),
	}
	if h.version != Version {
		return h, decodeErrorf("header", "unsupported version %d", h.version)
	}
	if h.length < commonHeaderLen {
		return h, decodeErrorf("header", "invalid message length %d", h.length)
	}
	return h, nil
}

type objectHeader struct {
	class      ObjectClass
	objType    uint8
	processing bool // P flag
	ignore     bool // I flag
	length     uint16
}

func (h objectHeader) appendTo(b []byte) []byte {
	flags := h.objType << 4
	if h.processing {
		flags |= 0x02
	}
	if h.ignore {
		flags |= 0x01
	}
	b = append(b, uint8(h.class), flags)
	return binary.BigEndian.AppendUint16(b, h.length)
}

func decodeObjectHeader(b []byte) (objectHeader, error) {
	if len(b) < objectHeaderLen {
		return objectHeader{}, decodeErrorf("object", "short object header (%d bytes)", len(b))
	}
	h := objectHeader{
		class:      ObjectClass(b[0]),
		objType:    b[1] >> 4,
		processing: b[1]&0x02 != 0,
		ignore:     b[1]&0x01 != 0,
		length:     binary.BigEndian.Uint16(b[2:4]),
	}
	if h.length < objectHeaderLen || h.length%4 != 0 {
		return h, decodeErrorf(h.class.String(), "invalid object length %d", h.length)
	}
	return h, nil
}
