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

//go:build !linux
// +build !linux

package linuxcalls

import (
	"github.com/pkg/errors"
	"go.ligato.io/cn-infra/v2/logging"

	"github.com/ligato/srte-agent/pkg/mpls"
)

// NetLinkHandler is not available outside of Linux.
type NetLinkHandler struct {
	log logging.Logger
}

// NewNetLinkHandler creates handler whose calls always fail.
func NewNetLinkHandler(log logging.Logger) *NetLinkHandler {
	return &NetLinkHandler{log: log}
}

// ReplaceLabelRoute is not supported.
func (h *NetLinkHandler) ReplaceLabelRoute(inLabel mpls.Label, paths []*LabelPath) error {
	return errors.Errorf("label route %v: MPLS dataplane requires linux", inLabel)
}

// DeleteLabelRoute is not supported.
func (h *NetLinkHandler) DeleteLabelRoute(inLabel mpls.Label) error {
	return errors.Errorf("label route %v: MPLS dataplane requires linux", inLabel)
}
