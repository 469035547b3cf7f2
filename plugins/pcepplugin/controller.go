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

package pcepplugin

import (
	"context"
	"net/netip"
	"sync"

	"github.com/pkg/errors"
	"go.ligato.io/cn-infra/v2/logging"

	"github.com/ligato/srte-agent/pkg/mpls"
	"github.com/ligato/srte-agent/pkg/pcep"
	"github.com/ligato/srte-agent/plugins/mplsplugin"
	"github.com/ligato/srte-agent/plugins/pcepplugin/pcepcalls"
	"github.com/ligato/srte-agent/plugins/srplugin"
)

// PCErr types and values sent back for rejected requests.
const (
	errTypeInvalidObject    = 10
	errValueBadParameter    = 2
	errTypeInvalidOperation = 19
	errValueNotDelegated    = 1
	errValueUnknownPLSPID   = 3
	errTypeInstantiation    = 24
	errValueUnacceptable    = 1
)

var errSessionTerminated = errors.New("PCEP session terminated")

// pcepSession is the part of pcep.Session used by the controller.
type pcepSession interface {
	Send(m *pcep.Message) error
	Events() <-chan *pcep.Message
	Err() error
}

type policyKey struct {
	color    uint32
	endpoint netip.Addr
}

type statusChange struct {
	key    policyKey
	status srplugin.Status
}

// controller maps PCE requests onto SR policies and reports their state
// back. Apart from the status queue it is only used by the goroutine
// serving the session.
type controller struct {
	log     logging.Logger
	sr      srplugin.API
	metrics *pcepMetrics
	local   netip.Addr
	// delegateLocal hands locally configured policies over to the PCE
	delegateLocal bool

	session pcepSession
	caps    pcepcalls.Caps

	// PLSP-IDs are kept across sessions
	paths      map[uint32]*pcepcalls.Path
	byKey      map[policyKey]uint32
	lastPLSPID uint32

	// only the latest status of each policy is queued
	statusMu     sync.Mutex
	statusQueue  map[policyKey]srplugin.Status
	statusOrder  []policyKey
	statusSignal chan struct{}
}

func newController(log logging.Logger, sr srplugin.API, metrics *pcepMetrics, local netip.Addr) *controller {
	return &controller{
		log:           log,
		sr:            sr,
		metrics:       metrics,
		local:         local,
		delegateLocal: true,
		paths:         make(map[uint32]*pcepcalls.Path),
		byKey:         make(map[policyKey]uint32),
		statusQueue:   make(map[policyKey]srplugin.Status),
		statusSignal:  make(chan struct{}, 1),
	}
}

// NotifySRPolicyStatus queues the status change. It is called from the SR
// event loop and never blocks.
func (c *controller) NotifySRPolicyStatus(color uint32, endpoint netip.Addr, name string, status srplugin.Status) {
	key := policyKey{color: color, endpoint: endpoint}
	c.statusMu.Lock()
	if _, queued := c.statusQueue[key]; !queued {
		c.statusOrder = append(c.statusOrder, key)
	}
	c.statusQueue[key] = status
	c.statusMu.Unlock()

	select {
	case c.statusSignal <- struct{}{}:
	default:
	}
}

func (c *controller) drainStatus() []statusChange {
	c.statusMu.Lock()
	defer c.statusMu.Unlock()
	changes := make([]statusChange, 0, len(c.statusOrder))
	for _, key := range c.statusOrder {
		changes = append(changes, statusChange{key: key, status: c.statusQueue[key]})
		delete(c.statusQueue, key)
	}
	c.statusOrder = nil
	return changes
}

// serve handles the session until it terminates or ctx is cancelled.
func (c *controller) serve(ctx context.Context, session pcepSession, caps pcepcalls.Caps) error {
	c.session = session
	c.caps = caps
	defer func() {
		c.session = nil
	}()

	if caps.IsStateful {
		c.synchronize()
	}
	for {
		select {
		case msg, ok := <-session.Events():
			if !ok {
				if err := session.Err(); err != nil {
					return err
				}
				return errSessionTerminated
			}
			c.metrics.messages.WithLabelValues(directionIn, msg.Type.String()).Inc()
			c.handleMessage(msg)

		case <-c.statusSignal:
			for _, change := range c.drainStatus() {
				c.reportStatus(change)
			}

		case <-ctx.Done():
			return nil
		}
	}
}

func (c *controller) handleMessage(msg *pcep.Message) {
	switch msg.Type {
	case pcep.MessagePCUpd, pcep.MessagePCInitiate:
		path, err := pcepcalls.ParsePath(msg)
		if err != nil {
			c.log.Warnf("rejecting %v: %v", msg.Type, err)
			c.metrics.decodeErrors.Inc()
			c.sendError(errTypeInvalidObject, errValueBadParameter)
			return
		}
		c.log.Debugf("received %v: %v", msg.Type, path)
		if msg.Type == pcep.MessagePCInitiate {
			c.initiate(path)
		} else {
			c.update(path)
		}

	case pcep.MessagePCRep:
		path, err := pcepcalls.ParsePath(msg)
		if err != nil {
			c.log.Infof("path request failed: %v", err)
			return
		}
		c.log.Infof("computed path for request %d: %v", path.ReqID, path)

	case pcep.MessageError:
		c.log.Warnf("PCE reported error: %+v", msg.Objects)

	default:
		c.log.Debugf("ignoring %v message", msg.Type)
	}
}

func (c *controller) initiate(path *pcepcalls.Path) {
	if path.DoRemove {
		c.remove(path)
		return
	}
	if !path.NBKey.Endpoint.IsValid() {
		c.log.Warnf("rejecting initiated %v without endpoint", path)
		c.sendError(errTypeInstantiation, errValueUnacceptable)
		return
	}
	key := policyKey{color: path.NBKey.Color, endpoint: path.NBKey.Endpoint}
	plspID, ok := c.byKey[key]
	if !ok {
		c.lastPLSPID++
		plspID = c.lastPLSPID
	}
	path.PLSPID = plspID
	path.WasCreated = true
	if err := c.apply(path); err != nil {
		c.log.Warnf("failed to instantiate %v: %v", path, err)
		c.sendError(errTypeInstantiation, errValueUnacceptable)
	}
}

func (c *controller) update(path *pcepcalls.Path) {
	existing, ok := c.paths[path.PLSPID]
	if !ok {
		c.log.Warnf("update of unknown PLSP-ID %d", path.PLSPID)
		c.sendError(errTypeInvalidOperation, errValueUnknownPLSPID)
		return
	}
	if !existing.IsDelegated {
		c.log.Warnf("update of PLSP-ID %d which is not delegated", path.PLSPID)
		c.sendError(errTypeInvalidOperation, errValueNotDelegated)
		return
	}
	if path.DoRemove {
		c.remove(path)
		return
	}
	if !path.NBKey.Endpoint.IsValid() {
		path.NBKey = existing.NBKey
	}
	if path.Name == "" {
		path.Name = existing.Name
	}
	path.WasCreated = existing.WasCreated
	if err := c.apply(path); err != nil {
		c.log.Warnf("failed to update %v: %v", path, err)
		c.sendError(errTypeInvalidObject, errValueBadParameter)
	}
}

// apply configures the SR policy of the path and reports the result.
func (c *controller) apply(path *pcepcalls.Path) error {
	labels, ok := path.Labels()
	if !ok || len(labels) == 0 {
		return errors.Errorf("path %q has no MPLS segment list", path.Name)
	}
	key := policyKey{color: path.NBKey.Color, endpoint: path.NBKey.Endpoint}
	if prev, ok := c.paths[path.PLSPID]; ok {
		prevKey := policyKey{color: prev.NBKey.Color, endpoint: prev.NBKey.Endpoint}
		if prevKey != key {
			if err := c.sr.DeletePolicy(prevKey.color, prevKey.endpoint); err != nil {
				c.log.Warn(err)
			}
			delete(c.byKey, prevKey)
		}
	}

	cfg := &srplugin.PolicyConfig{
		Color:    key.color,
		Endpoint: key.endpoint,
		Name:     path.Name,
		SegmentList: srplugin.SegmentList{
			Type:       mplsplugin.LSPTypeSRTE,
			LocalLabel: mpls.LabelNone,
			Labels:     labels,
		},
	}
	// the PCE only controls the segment list of an existing policy
	if current := c.sr.GetPolicy(key.color, key.endpoint); current != nil {
		cfg.VRF = current.VRF
		cfg.SegmentList.Type = current.SegmentList.Type
		cfg.SegmentList.LocalLabel = current.SegmentList.LocalLabel
	}
	policy, err := c.sr.SetPolicy(cfg)
	if err != nil {
		return err
	}

	path.Sender = c.local
	path.Status = operStatus(policy.Status)
	path.IsDelegated = true
	path.IsSynching = false
	path.WasRemoved = false
	c.paths[path.PLSPID] = path.Copy()
	c.byKey[key] = path.PLSPID
	c.report(path)
	return nil
}

func (c *controller) remove(path *pcepcalls.Path) {
	existing, ok := c.paths[path.PLSPID]
	if !ok {
		c.log.Warnf("removal of unknown PLSP-ID %d", path.PLSPID)
		c.sendError(errTypeInvalidOperation, errValueUnknownPLSPID)
		return
	}
	key := policyKey{color: existing.NBKey.Color, endpoint: existing.NBKey.Endpoint}
	if err := c.sr.DeletePolicy(key.color, key.endpoint); err != nil &&
		errors.Cause(err) != srplugin.ErrPolicyNotFound {
		c.log.Warn(err)
	}
	delete(c.paths, path.PLSPID)
	delete(c.byKey, key)

	rpt := existing.Copy()
	rpt.SRPID = path.SRPID
	rpt.Status = pcep.OperDown
	rpt.WasRemoved = true
	c.report(rpt)
}

func (c *controller) reportStatus(change statusChange) {
	plspID, ok := c.byKey[change.key]
	if !ok {
		return
	}
	path := c.paths[plspID]
	status := operStatus(change.status)
	if path.Status == status {
		return
	}
	path.Status = status
	rpt := path.Copy()
	rpt.SRPID = 0
	c.report(rpt)
}

// synchronize reports all SR policies to the PCE, ending with the
// end-of-sync marker.
func (c *controller) synchronize() {
	for _, policy := range c.sr.ListPolicies() {
		key := policyKey{color: policy.Color, endpoint: policy.Endpoint}
		plspID, ok := c.byKey[key]
		if !ok {
			c.lastPLSPID++
			plspID = c.lastPLSPID
			c.paths[plspID] = &pcepcalls.Path{
				Sender:   c.local,
				NBKey:    pcepcalls.NBKey{Color: policy.Color, Endpoint: policy.Endpoint},
				PLSPID:   plspID,
				Name:     policy.Name,
				GoActive: true,
				Hops:     hopsOf(policy.SegmentList.Labels),
			}
			c.byKey[key] = plspID
		}
		path := c.paths[plspID]
		path.Status = operStatus(policy.Status)
		path.IsDelegated = path.WasCreated || c.delegateLocal

		rpt := path.Copy()
		rpt.SRPID = 0
		rpt.IsSynching = true
		c.report(rpt)
	}
	c.send(pcepcalls.FormatEndOfSync())
	c.log.Infof("state synchronization done, %d paths reported", len(c.paths))
}

func (c *controller) report(path *pcepcalls.Path) {
	msg, err := pcepcalls.FormatReport(path)
	if err != nil {
		c.log.Error(err)
		return
	}
	c.send(msg)
}

func (c *controller) sendError(errType, errValue uint8) {
	c.send(pcep.NewError(errType, errValue))
}

func (c *controller) send(msg *pcep.Message) {
	if c.session == nil {
		return
	}
	if err := c.session.Send(msg); err != nil {
		c.log.Warnf("failed to send %v: %v", msg.Type, err)
		return
	}
	c.metrics.messages.WithLabelValues(directionOut, msg.Type.String()).Inc()
}

func operStatus(status srplugin.Status) pcep.OperStatus {
	if status == srplugin.StatusUp {
		return pcep.OperUp
	}
	return pcep.OperDown
}

func hopsOf(labels mpls.Stack) []pcepcalls.PathHop {
	hops := make([]pcepcalls.PathHop, 0, len(labels))
	for _, l := range labels {
		hops = append(hops, pcepcalls.PathHop{
			HasSID: true,
			IsMPLS: true,
			SID:    pcepcalls.SID{MPLS: pcepcalls.SIDMPLS{Label: l}},
		})
	}
	return hops
}
