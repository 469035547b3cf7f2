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

	"github.com/ligato/srte-agent/pkg/mpls"
	"github.com/ligato/srte-agent/plugins/mplsplugin"
)

// LabelTable is the part of the label forwarding table used by SR policies.
type LabelTable interface {
	LookupLSP(vrf uint32, label mpls.Label) *mplsplugin.LSP
	InstallLSP(vrf uint32, typ mplsplugin.LSPType, inLabel mpls.Label, outLabels mpls.Stack, nh mplsplugin.Nexthop) error
	UninstallAllLSP(typ mplsplugin.LSPType, inLabel mpls.Label) error
	WatchLabels(handler mplsplugin.LabelEventHandler) (cancel func())
}

// BSIDInstaller programs forwarding of Binding SIDs.
type BSIDInstaller struct {
	log   logging.Logger
	table LabelTable
	// uninstall rules already installed by a failed Install
	rollback bool
}

// NewBSIDInstaller creates installer programming the table. With rollback
// a failed install leaves no forwarding rule for the Binding SID, otherwise
// the rules installed before the failure are kept.
func NewBSIDInstaller(log logging.Logger, table LabelTable, rollback bool) *BSIDInstaller {
	return &BSIDInstaller{
		log:      log,
		table:    table,
		rollback: rollback,
	}
}

// Install pushes the segment list of the policy for its Binding SID via
// every selected nexthop of the forwarding state the policy is bound to.
// Installing stops at the first failure.
func (b *BSIDInstaller) Install(p *Policy) error {
	sl := p.SegmentList
	if sl.LocalLabel == mpls.LabelNone {
		return nil
	}
	label, bound := p.Bound()
	if !bound {
		return errors.Errorf("%v is not bound to forwarding state", p)
	}
	lsp := b.table.LookupLSP(p.VRF, label)
	if lsp == nil {
		return errors.Errorf("%v: forwarding state for label %v not found", p, label)
	}

	for _, nhlfe := range lsp.NHLFEs {
		if !nhlfe.IsSelected() || nhlfe.IsDeleted() {
			continue
		}
		err := b.table.InstallLSP(p.VRF, sl.Type, sl.LocalLabel, sl.Labels, nhlfe.Nexthop)
		if err == nil {
			continue
		}
		err = errors.Wrapf(err, "%v: failed to install Binding SID %v via %v", p, sl.LocalLabel, nhlfe.Nexthop)
		if b.rollback {
			if uerr := b.table.UninstallAllLSP(sl.Type, sl.LocalLabel); uerr != nil {
				b.log.Errorf("rollback of Binding SID %v failed: %v", sl.LocalLabel, uerr)
			}
		}
		return err
	}
	b.log.Debugf("Binding SID %v of %v installed -> %v", sl.LocalLabel, p, sl.Labels)
	return nil
}

// Uninstall removes all forwarding rules of the Binding SID in every VRF.
// Uninstalling a policy without forwarding is a no-op.
func (b *BSIDInstaller) Uninstall(p *Policy) error {
	sl := p.SegmentList
	p.installed = false
	if sl.LocalLabel == mpls.LabelNone {
		return nil
	}
	if err := b.table.UninstallAllLSP(sl.Type, sl.LocalLabel); err != nil {
		return errors.Wrapf(err, "%v: failed to uninstall Binding SID %v", p, sl.LocalLabel)
	}
	return nil
}
