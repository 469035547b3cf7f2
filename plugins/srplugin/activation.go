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

package srplugin

import (
	"github.com/pkg/errors"
	"go.ligato.io/cn-infra/v2/logging"

	"github.com/ligato/srte-agent/plugins/mplsplugin"
)

var (
	// ErrPolicyUnresolved is returned by validation of a policy whose first
	// label has no usable forwarding state.
	ErrPolicyUnresolved = errors.New("SR policy unresolved")
	// ErrPolicyNotFound is returned for operations on unknown policies.
	ErrPolicyNotFound = errors.New("SR policy not found")
)

// policyFSM drives the policy status from the forwarding state of its
// first label.
type policyFSM struct {
	log     logging.Logger
	table   LabelTable
	bsid    *BSIDInstaller
	notify  func(p *Policy)
	metrics *srMetrics
}

// Validate resolves the first label of the segment list and activates the
// policy, or deactivates it if the label has no forwarding state of the
// endpoint's family. Repeated calls with unchanged forwarding state have
// no further effect.
func (f *policyFSM) Validate(p *Policy) error {
	label, ok := p.SegmentList.FirstLabel()
	if !ok {
		f.deactivate(p)
		return errors.Wrapf(ErrPolicyUnresolved, "%v has empty segment list", p)
	}
	lsp := f.table.LookupLSP(p.VRF, label)
	if lsp == nil {
		f.deactivate(p)
		return errors.Wrapf(ErrPolicyUnresolved, "%v: no forwarding state for label %v", p, label)
	}
	if family := mplsplugin.FamilyOf(p.Endpoint); lsp.Family != family {
		f.deactivate(p)
		return errors.Wrapf(ErrPolicyUnresolved, "%v: label %v forwards %v, endpoint is %v", p, label, lsp.Family, family)
	}
	f.activate(p, lsp)
	return nil
}

func (f *policyFSM) activate(p *Policy, lsp *mplsplugin.LSP) {
	p.boundLabel = lsp.InLabel
	p.bound = true
	f.setStatus(p, StatusUp)

	// UP reflects the binding, install failures leave the status as is
	if p.installed {
		return
	}
	if err := f.bsid.Install(p); err != nil {
		f.log.Warnf("%v is up but its Binding SID is not fully installed: %v", p, err)
		f.metrics.installFailures.Inc()
		return
	}
	p.installed = true
}

func (f *policyFSM) deactivate(p *Policy) {
	if err := f.bsid.Uninstall(p); err != nil {
		f.log.Warn(err)
	}
	p.boundLabel = 0
	p.bound = false
	f.setStatus(p, StatusDown)
}

func (f *policyFSM) setStatus(p *Policy, status Status) {
	if p.Status == status {
		return
	}
	f.log.Infof("%v: %v -> %v", p, p.Status, status)
	p.Status = status
	f.metrics.transitions.WithLabelValues(status.String()).Inc()
	if f.notify != nil {
		f.notify(p)
	}
}
