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
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.ligato.io/cn-infra/v2/logging"
	"go.ligato.io/cn-infra/v2/logging/logrus"
	"golang.org/x/sync/errgroup"
)

const (
	defaultOpenTimeout = 60 * time.Second
	defaultEventBuffer = 16
	writeTimeout       = 5 * time.Second

	// error-type 1: session establishment failure
	errTypeSessionFailure = 1
	errValueInvalidOpen   = 1
	errValueNoOpen        = 2
)

// SessionOptions are local parameters proposed in OPEN.
type SessionOptions struct {
	// Keepalive and DeadTimer are in seconds, zero disables them.
	Keepalive uint8
	DeadTimer uint8
	SessionID uint8
	// Stateful announces the stateful PCE capability with update and
	// initiation support.
	Stateful bool
	// MSD is the maximum SID depth announced in the SR capability.
	MSD uint8
	// OpenTimeout bounds the OPEN/KEEPALIVE exchange.
	OpenTimeout time.Duration
	// EventBuffer is the capacity of the event channel.
	EventBuffer int
	Log         logging.Logger
}

// Session is an established PCEP session. Messages other than keepalives
// received from the peer are delivered through Events until the session
// terminates, after which the channel is closed.
type Session struct {
	conn     net.Conn
	log      logging.Logger
	opts     SessionOptions
	peerOpen *Message

	events chan *Message
	ctx    context.Context
	cancel context.CancelFunc

	writeMu   sync.Mutex
	closeOnce sync.Once
	done      chan struct{}
	err       error
}

// Dial connects to the PCE and establishes a session.
func Dial(ctx context.Context, local, remote netip.AddrPort, opts SessionOptions) (*Session, error) {
	var d net.Dialer
	if local.Addr().IsValid() {
		d.LocalAddr = net.TCPAddrFromAddrPort(local)
	}
	conn, err := d.DialContext(ctx, "tcp", remote.String())
	if err != nil {
		return nil, errors.Wrapf(err, "failed to connect to PCE %v", remote)
	}
	s, err := NewSession(ctx, conn, opts)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

// NewSession runs the OPEN exchange over conn and starts the session
// workers. The connection is owned by the session afterwards.
func NewSession(ctx context.Context, conn net.Conn, opts SessionOptions) (*Session, error) {
	if opts.Log == nil {
		opts.Log = logrus.DefaultLogger()
	}
	if opts.OpenTimeout == 0 {
		opts.OpenTimeout = defaultOpenTimeout
	}
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = defaultEventBuffer
	}
	s := &Session{
		conn:   conn,
		log:    opts.Log,
		opts:   opts,
		events: make(chan *Message, opts.EventBuffer),
		done:   make(chan struct{}),
	}
	if err := s.open(ctx); err != nil {
		return nil, errors.Wrapf(err, "PCEP session with %v failed", conn.RemoteAddr())
	}
	s.start()
	return s, nil
}

// LocalOpen returns the OPEN message sent to the peer.
func (s *Session) LocalOpen() *Message {
	o := &OpenObject{
		Keepalive: s.opts.Keepalive,
		DeadTimer: s.opts.DeadTimer,
		SessionID: s.opts.SessionID,
		SRCapable: true,
		MSD:       s.opts.MSD,
	}
	if s.opts.Stateful {
		o.Stateful = &StatefulCapability{Update: true, Initiate: true}
	}
	return NewMessage(MessageOpen, o)
}

// PeerOpen returns the OPEN message received from the peer.
func (s *Session) PeerOpen() *Message {
	return s.peerOpen
}

// RemoteAddr returns address of the peer.
func (s *Session) RemoteAddr() net.Addr {
	return s.conn.RemoteAddr()
}

// Events returns channel of received messages.
func (s *Session) Events() <-chan *Message {
	return s.events
}

// Done is closed when the session has terminated.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Err returns the reason of termination, nil for local close.
func (s *Session) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

// Send writes message to the peer.
func (s *Session) Send(m *Message) error {
	if s.ctx.Err() != nil {
		return ErrSessionClosed
	}
	return s.write(m)
}

// Close sends CLOSE, stops the workers and waits for them. Events are
// never delivered after Close returns. Calling Close again is harmless.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		if s.ctx.Err() == nil {
			if err := s.write(NewClose(CloseReasonNoExplanation)); err != nil {
				s.log.Debugf("failed to send CLOSE: %v", err)
			}
		}
		s.cancel()
		s.conn.Close()
	})
	<-s.done
	// discard messages nobody has read yet
	for range s.events {
	}
	return nil
}

func (s *Session) write(m *Message) error {
	data, err := m.Marshal()
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return errors.Wrap(err, "failed to set write deadline")
	}
	if _, err := s.conn.Write(data); err != nil {
		return errors.Wrapf(err, "failed to send %v", m.Type)
	}
	return nil
}

func (s *Session) open(ctx context.Context) error {
	if err := s.conn.SetDeadline(time.Now().Add(s.opts.OpenTimeout)); err != nil {
		return err
	}
	stop := context.AfterFunc(ctx, func() {
		s.conn.SetDeadline(time.Now())
	})
	defer func() {
		stop()
		s.conn.SetDeadline(time.Time{})
	}()

	if err := s.write(s.LocalOpen()); err != nil {
		return err
	}
	var gotOpen, gotKeepalive bool
	for !gotOpen || !gotKeepalive {
		m, err := ReadMessage(s.conn)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if IsDecodeError(err) {
				s.write(NewError(errTypeSessionFailure, errValueInvalidOpen))
			}
			return errors.Wrap(err, "OPEN exchange failed")
		}
		switch m.Type {
		case MessageOpen:
			if _, ok := Find[*OpenObject](m); !ok {
				s.write(NewError(errTypeSessionFailure, errValueNoOpen))
				return decodeErrorf("OPEN", "message without OPEN object")
			}
			s.peerOpen = m
			gotOpen = true
			if err := s.write(NewKeepalive()); err != nil {
				return err
			}
		case MessageKeepalive:
			gotKeepalive = true
		case MessageError:
			if e, ok := Find[*ErrorObject](m); ok {
				return errors.Errorf("peer rejected session: %v", e)
			}
			return errors.New("peer rejected session")
		case MessageClose:
			return ErrSessionClosed
		default:
			return errors.Errorf("unexpected %v message during session setup", m.Type)
		}
	}
	open, _ := Find[*OpenObject](s.peerOpen)
	s.log.Infof("PCEP session with %v up (keepalive %ds, dead timer %ds, stateful %t)",
		s.conn.RemoteAddr(), open.Keepalive, open.DeadTimer, open.Stateful != nil)
	return nil
}

func (s *Session) start() {
	s.ctx, s.cancel = context.WithCancel(context.Background())
	g, ctx := errgroup.WithContext(s.ctx)
	g.Go(func() error {
		return s.readLoop(ctx)
	})
	if s.opts.Keepalive > 0 {
		g.Go(func() error {
			return s.keepaliveLoop(ctx)
		})
	}
	go func() {
		err := g.Wait()
		s.cancel()
		s.conn.Close()
		s.err = err
		close(s.events)
		close(s.done)
		if err != nil {
			s.log.Warnf("PCEP session with %v terminated: %v", s.conn.RemoteAddr(), err)
		} else {
			s.log.Infof("PCEP session with %v closed", s.conn.RemoteAddr())
		}
	}()
}

func (s *Session) readLoop(ctx context.Context) error {
	var deadTimer time.Duration
	if open, ok := Find[*OpenObject](s.peerOpen); ok {
		deadTimer = time.Duration(open.DeadTimer) * time.Second
	}
	for {
		if deadTimer > 0 {
			s.conn.SetReadDeadline(time.Now().Add(deadTimer))
		}
		m, err := ReadMessage(s.conn)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				s.write(NewClose(CloseReasonDeadTimer))
				return errors.New("dead timer expired")
			}
			if IsDecodeError(err) {
				s.write(NewClose(CloseReasonMalformed))
			}
			return err
		}
		switch m.Type {
		case MessageKeepalive:
			continue
		case MessageClose:
			return ErrSessionClosed
		}
		for _, o := range m.Objects {
			if u, ok := o.(*UnknownObject); ok {
				s.log.Debugf("ignoring unknown object class %d in %v", u.ObjectClass, m.Type)
			}
		}
		select {
		case s.events <- m:
		case <-ctx.Done():
			return nil
		}
	}
}

func (s *Session) keepaliveLoop(ctx context.Context) error {
	ticker := time.NewTicker(time.Duration(s.opts.Keepalive) * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := s.write(NewKeepalive()); err != nil {
				return err
			}
		case <-ctx.Done():
			return nil
		}
	}
}
