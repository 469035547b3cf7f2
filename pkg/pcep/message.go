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
	"io"
	"math"

	"github.com/pkg/errors"
)

// Message is a PCEP message with its objects in wire order.
type Message struct {
	Type    MessageType
	Objects []Object
}

// NewMessage creates message of the given type.
func NewMessage(typ MessageType, objects ...Object) *Message {
	return &Message{Type: typ, Objects: objects}
}

// Marshal encodes the message into its wire format.
func (m *Message) Marshal() ([]byte, error) {
	b := commonHeader{version: Version, msgType: m.Type}.appendTo(make([]byte, 0, 64))
	var err error
	for _, o := range m.Objects {
		if b, err = appendObject(b, o); err != nil {
			return nil, errors.Wrapf(err, "failed to encode %v message", m.Type)
		}
	}
	if len(b) > math.MaxUint16 {
		return nil, errors.Errorf("%v message too long (%d bytes)", m.Type, len(b))
	}
	binary.BigEndian.PutUint16(b[2:4], uint16(len(b)))
	return b, nil
}

// Unmarshal decodes one complete message.
func Unmarshal(data []byte) (*Message, error) {
	h, err := decodeCommonHeader(data)
	if err != nil {
		return nil, err
	}
	if int(h.length) != len(data) {
		return nil, decodeErrorf("header", "message length %d does not match %d bytes", h.length, len(data))
	}
	m := &Message{Type: h.msgType}
	body := data[commonHeaderLen:]
	for len(body) > 0 {
		oh, err := decodeObjectHeader(body)
		if err != nil {
			return nil, err
		}
		if int(oh.length) > len(body) {
			return nil, decodeErrorf(oh.class.String(), "object length %d exceeds message", oh.length)
		}
		o, err := decodeObject(oh, body[objectHeaderLen:oh.length])
		if err != nil {
			return nil, err
		}
		m.Objects = append(m.Objects, o)
		body = body[oh.length:]
	}
	return m, nil
}

// ReadMessage reads one message from r.
func ReadMessage(r io.Reader) (*Message, error) {
	var hdr [commonHeaderLen]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	h, err := decodeCommonHeader(hdr[:])
	if err != nil {
		return nil, err
	}
	data := make([]byte, h.length)
	copy(data, hdr[:])
	if _, err := io.ReadFull(r, data[commonHeaderLen:]); err != nil {
		return nil, errors.Wrapf(err, "failed to read %v message body", h.msgType)
	}
	return Unmarshal(data)
}

// WriteMessage writes the encoded message to w.
func WriteMessage(w io.Writer, m *Message) error {
	data, err := m.Marshal()
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// Find returns the first object of type T in the message.
func Find[T Object](m *Message) (T, bool) {
	for _, o := range m.Objects {
		if t, ok := o.(T); ok {
			return t, true
		}
	}
	var zero T
	return zero, false
}

// NewKeepalive creates a keepalive message.
func NewKeepalive() *Message {
	return NewMessage(MessageKeepalive)
}

// NewClose creates a close message with the reason.
func NewClose(reason uint8) *Message {
	return NewMessage(MessageClose, &CloseObject{Reason: reason})
}

// NewError creates an error message.
func NewError(errType, errValue uint8) *Message {
	return NewMessage(MessageError, &ErrorObject{Type: errType, Value: errValue})
}
