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

package mplsplugin

import (
	"sort"
	"sync"

	"github.com/pkg/errors"
	"go.ligato.io/cn-infra/v2/logging"

	"github.com/ligato/srte-agent/pkg/mpls"
	"github.com/ligato/srte-agent/plugins/mplsplugin/linuxcalls"
)

// Table is an in-memory label forwarding table. It keeps LSPs per VRF,
// selects NHLFEs and pushes the selected ones into the dataplane.
type Table struct {
	log       logging.Logger
	dataplane linuxcalls.MPLSHandler

	mu   sync.Mutex
	lsps map[uint32]map[mpls.Label]*LSP // VRF -> in-label -> LSP

	watchMu  sync.Mutex
	watchSeq int
	watchers map[int]LabelEventHandler
}

// NewTable creates an empty table programming the given dataplane.
func NewTable(log logging.Logger, dataplane linuxcalls.MPLSHandler) *Table {
	return &Table{
		log:       log,
		dataplane: dataplane,
		lsps:      make(map[uint32]map[mpls.Label]*LSP),
		watchers:  make(map[int]LabelEventHandler),
	}
}

// LookupLSP returns snapshot of the LSP or nil.
func (t *Table) LookupLSP(vrf uint32, label mpls.Label) *LSP {
	t.mu.Lock()
	defer t.mu.Unlock()

	lsp := t.lsps[vrf][label]
	if lsp == nil {
		return nil
	}
	return lsp.Copy()
}

// ListLSPs returns snapshots of all LSPs.
func (t *Table) ListLSPs() []*LSP {
	t.mu.Lock()
	defer t.mu.Unlock()

	var list []*LSP
	for _, byLabel := range t.lsps {
		for _, lsp := range byLabel {
			list = append(list, lsp.Copy())
		}
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].VRF != list[j].VRF {
			return list[i].VRF < list[j].VRF
		}
		return list[i].InLabel < list[j].InLabel
	})
	return list
}

// InstallLSP adds or replaces NHLFE.
func (t *Table) InstallLSP(vrf uint32, typ LSPType, inLabel mpls.Label, outLabels mpls.Stack, nh Nexthop) error {
	if !inLabel.IsValid() {
		return errors.Errorf("invalid incoming label %v", inLabel)
	}
	for _, l := range outLabels {
		if !l.IsValid() {
			return errors.Errorf("invalid outgoing label %v in stack %v", l, outLabels)
		}
	}

	t.mu.Lock()
	t.purgeDeleted()

	byLabel := t.lsps[vrf]
	if byLabel == nil {
		byLabel = make(map[mpls.Label]*LSP)
		t.lsps[vrf] = byLabel
	}
	kind := LabelUpdated
	lsp := byLabel[inLabel]
	if lsp == nil {
		kind = LabelCreated
		lsp = &LSP{VRF: vrf, InLabel: inLabel, Family: FamilyOf(nh.Gateway)}
		byLabel[inLabel] = lsp
	}

	var prev *NHLFE
	nhlfe := lsp.findNHLFE(typ, nh)
	if nhlfe == nil {
		nhlfe = &NHLFE{Type: typ, Nexthop: nh}
		lsp.NHLFEs = append(lsp.NHLFEs, nhlfe)
	} else {
		if nhlfe.OutLabels.Equal(outLabels) && !nhlfe.IsDeleted() {
			// nothing changed
			t.mu.Unlock()
			return nil
		}
		c := *nhlfe
		prev = &c
	}
	nhlfe.OutLabels = outLabels.Copy()
	nhlfe.Flags &^= FlagDeleted
	lsp.selectNHLFEs()

	if err := t.syncDataplane(inLabel); err != nil {
		// revert
		if prev != nil {
			*nhlfe = *prev
		} else {
			lsp.removeNHLFE(nhlfe)
		}
		if len(lsp.NHLFEs) == 0 {
			delete(byLabel, inLabel)
		}
		lsp.selectNHLFEs()
		t.mu.Unlock()
		return errors.Wrapf(err, "failed to install %v NHLFE for label %v via %v", typ, inLabel, nh)
	}
	t.mu.Unlock()

	t.log.Debugf("installed %v NHLFE %v -> %v via %v (vrf %d)", typ, inLabel, outLabels, nh, vrf)
	t.notify(LabelEvent{Kind: kind, VRF: vrf, Label: inLabel})
	return nil
}

// UninstallNexthop removes one NHLFE.
func (t *Table) UninstallNexthop(vrf uint32, typ LSPType, inLabel mpls.Label, nh Nexthop) error {
	return t.uninstall([]uint32{vrf}, typ, inLabel, func(n *NHLFE) bool {
		return n.Nexthop == nh
	})
}

// UninstallLSP removes all NHLFEs of the type for the label in VRF.
func (t *Table) UninstallLSP(vrf uint32, typ LSPType, inLabel mpls.Label) error {
	return t.uninstall([]uint32{vrf}, typ, inLabel, nil)
}

// UninstallAllLSP removes all NHLFEs of the type for the label in all VRFs.
func (t *Table) UninstallAllLSP(typ LSPType, inLabel mpls.Label) error {
	t.mu.Lock()
	vrfs := make([]uint32, 0, len(t.lsps))
	for vrf := range t.lsps {
		vrfs = append(vrfs, vrf)
	}
	t.mu.Unlock()
	sort.Slice(vrfs, func(i, j int) bool { return vrfs[i] < vrfs[j] })
	return t.uninstall(vrfs, typ, inLabel, nil)
}

func (t *Table) uninstall(vrfs []uint32, typ LSPType, inLabel mpls.Label, match func(*NHLFE) bool) error {
	var events []LabelEvent

	t.mu.Lock()
	t.purgeDeleted()
	for _, vrf := range vrfs {
		lsp := t.lsps[vrf][inLabel]
		if lsp == nil {
			continue
		}
		changed := false
		for _, n := range lsp.NHLFEs {
			if n.Type != typ || n.IsDeleted() || (match != nil && !match(n)) {
				continue
			}
			n.Flags |= FlagDeleted
			n.Flags &^= FlagSelected
			changed = true
		}
		if !changed {
			continue
		}
		if lsp.liveCount() == 0 {
			delete(t.lsps[vrf], inLabel)
			if len(t.lsps[vrf]) == 0 {
				delete(t.lsps, vrf)
			}
			events = append(events, LabelEvent{Kind: LabelRemoved, VRF: vrf, Label: inLabel})
		} else {
			lsp.selectNHLFEs()
			events = append(events, LabelEvent{Kind: LabelUpdated, VRF: vrf, Label: inLabel})
		}
	}
	var err error
	if len(events) > 0 {
		err = t.syncDataplane(inLabel)
	}
	t.mu.Unlock()

	if err != nil {
		err = errors.Wrapf(err, "failed to uninstall %v NHLFEs for label %v", typ, inLabel)
	}
	for _, ev := range events {
		t.log.Debugf("label %v %v in vrf %d (%v NHLFEs uninstalled)", ev.Label, ev.Kind, ev.VRF, typ)
		t.notify(ev)
	}
	return err
}

// WatchLabels registers handler for label events.
func (t *Table) WatchLabels(handler LabelEventHandler) (cancel func()) {
	t.watchMu.Lock()
	defer t.watchMu.Unlock()

	t.watchSeq++
	id := t.watchSeq
	t.watchers[id] = handler
	return func() {
		t.watchMu.Lock()
		delete(t.watchers, id)
		t.watchMu.Unlock()
	}
}

func (t *Table) notify(ev LabelEvent) {
	t.watchMu.Lock()
	ids := make([]int, 0, len(t.watchers))
	for id := range t.watchers {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	handlers := make([]LabelEventHandler, 0, len(ids))
	for _, id := range ids {
		handlers = append(handlers, t.watchers[id])
	}
	t.watchMu.Unlock()

	for _, h := range handlers {
		h(ev)
	}
}

// syncDataplane pushes selected NHLFEs of all VRFs for the label. Kernel MPLS
// has a single platform label table, so VRFs are merged. Must be called with
// t.mu held.
func (t *Table) syncDataplane(inLabel mpls.Label) error {
	var (
		paths    []*linuxcalls.LabelPath
		selected []*NHLFE
	)
	vrfs := make([]uint32, 0, len(t.lsps))
	for vrf := range t.lsps {
		vrfs = append(vrfs, vrf)
	}
	sort.Slice(vrfs, func(i, j int) bool { return vrfs[i] < vrfs[j] })
	for _, vrf := range vrfs {
		lsp := t.lsps[vrf][inLabel]
		if lsp == nil {
			continue
		}
		for _, n := range lsp.NHLFEs {
			if !n.IsSelected() {
				n.Flags &^= FlagInstalled
				continue
			}
			selected = append(selected, n)
			paths = append(paths, &linuxcalls.LabelPath{
				Gateway:   n.Nexthop.Gateway,
				IfIndex:   n.Nexthop.IfIndex,
				IfName:    n.Nexthop.IfName,
				OutLabels: n.OutLabels.Copy(),
			})
		}
	}

	var err error
	if len(paths) == 0 {
		err = t.dataplane.DeleteLabelRoute(inLabel)
	} else {
		err = t.dataplane.ReplaceLabelRoute(inLabel, paths)
	}
	if err != nil {
		return err
	}
	for _, n := range selected {
		n.Flags |= FlagInstalled
	}
	return nil
}

// purgeDeleted drops NHLFEs marked deleted by a previous operation.
// Must be called with t.mu held.
func (t *Table) purgeDeleted() {
	for _, byLabel := range t.lsps {
		for _, lsp := range byLabel {
			live := lsp.NHLFEs[:0]
			for _, n := range lsp.NHLFEs {
				if !n.IsDeleted() {
					live = append(live, n)
				}
			}
			lsp.NHLFEs = live
		}
	}
}

func (l *LSP) findNHLFE(typ LSPType, nh Nexthop) *NHLFE {
	for _, n := range l.NHLFEs {
		if n.Type == typ && n.Nexthop == nh {
			return n
		}
	}
	return nil
}

func (l *LSP) removeNHLFE(nhlfe *NHLFE) {
	for i, n := range l.NHLFEs {
		if n == nhlfe {
			l.NHLFEs = append(l.NHLFEs[:i], l.NHLFEs[i+1:]...)
			return
		}
	}
}

func (l *LSP) liveCount() int {
	var cnt int
	for _, n := range l.NHLFEs {
		if !n.IsDeleted() {
			cnt++
		}
	}
	return cnt
}

// selectNHLFEs marks NHLFEs of the most preferred type as selected.
func (l *LSP) selectNHLFEs() {
	best := uint8(255)
	for _, n := range l.NHLFEs {
		if !n.IsDeleted() && n.Type.Distance() < best {
			best = n.Type.Distance()
		}
	}
	for _, n := range l.NHLFEs {
		if !n.IsDeleted() && n.Type.Distance() == best {
			n.Flags |= FlagSelected
		} else {
			n.Flags &^= FlagSelected
		}
	}
}
