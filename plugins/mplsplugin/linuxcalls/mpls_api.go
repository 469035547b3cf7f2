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

package linuxcalls

import (
	"net/netip"

	"go.ligato.io/cn-infra/v2/logging"

	"github.com/ligato/srte-agent/pkg/mpls"
)

// MPLSHandler programs incoming label routes into the dataplane.
type MPLSHandler interface {
	// ReplaceLabelRoute sets the complete set of paths for the incoming label.
	// Empty <paths> removes the route.
	ReplaceLabelRoute(inLabel mpls.Label, paths []*LabelPath) error
	// DeleteLabelRoute removes the route for the incoming label.
	DeleteLabelRoute(inLabel mpls.Label) error
}

// LabelPath is one path of an incoming label route.
type LabelPath struct {
	Gateway   netip.Addr
	IfIndex   int
	IfName    string
	OutLabels mpls.Stack
}

// NoopHandler is used when no dataplane is attached. It only logs.
type NoopHandler struct {
	log logging.Logger
}

// NewNoopHandler returns handler which does not touch any dataplane.
func NewNoopHandler(log logging.Logger) *NoopHandler {
	return &NoopHandler{log: log}
}

// ReplaceLabelRoute logs the route.
func (h *NoopHandler) ReplaceLabelRoute(inLabel mpls.Label, paths []*LabelPath) error {
	h.log.Debugf("label route %v: %d path(s) (no dataplane)", inLabel, len(paths))
	return nil
}

// DeleteLabelRoute logs the removal.
func (h *NoopHandler) DeleteLabelRoute(inLabel mpls.Label) error {
	h.log.Debugf("label route %v removed (no dataplane)", inLabel)
	return nil
}
