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
	"net/netip"
	"testing"

	. "github.com/onsi/gomega"
	"github.com/pkg/errors"
	"go.ligato.io/cn-infra/v2/logging/logrus"

	"github.com/ligato/srte-agent/pkg/mpls"
	"github.com/ligato/srte-agent/plugins/mplsplugin/linuxcalls"
)

type fakeDataplane struct {
	routes  map[mpls.Label][]*linuxcalls.LabelPath
	failOn  mpls.Label
	replace int
	deletes int
}

func newFakeDataplane() *fakeDataplane {
	return &fakeDataplane{
		routes: make(map[mpls.Label][]*linuxcalls.LabelPath),
		failOn: mpls.LabelNone,
	}
}

func (d *fakeDataplane) ReplaceLabelRoute(inLabel mpls.Label, paths []*linuxcalls.LabelPath) error {
	if inLabel == d.failOn {
		return errors.New("dataplane failure")
	}
	d.replace++
	d.routes[inLabel] = paths
	return nil
}

func (d *fakeDataplane) DeleteLabelRoute(inLabel mpls.Label) error {
	if inLabel == d.failOn {
		return errors.New("dataplane failure")
	}
	d.deletes++
	delete(d.routes, inLabel)
	return nil
}

func nexthop(gw string) Nexthop {
	return Nexthop{Gateway: netip.MustParseAddr(gw)}
}

func recordEvents(table *Table) *[]LabelEvent {
	var events []LabelEvent
	table.WatchLabels(func(ev LabelEvent) {
		events = append(events, ev)
	})
	return &events
}

func TestInstallLSP(t *testing.T) {
	RegisterTestingT(t)

	dp := newFakeDataplane()
	table := NewTable(logrus.DefaultLogger(), dp)
	events := recordEvents(table)

	err := table.InstallLSP(0, LSPTypeStatic, 100, mpls.Stack{200, 300}, nexthop("10.0.0.1"))
	Expect(err).ToNot(HaveOccurred())

	lsp := table.LookupLSP(0, 100)
	Expect(lsp).ToNot(BeNil())
	Expect(lsp.Family).To(Equal(FamilyIPv4))
	Expect(lsp.NHLFEs).To(HaveLen(1))
	Expect(lsp.NHLFEs[0].IsSelected()).To(BeTrue())
	Expect(lsp.NHLFEs[0].Flags & FlagInstalled).ToNot(BeZero())
	Expect(lsp.NHLFEs[0].OutLabels).To(Equal(mpls.Stack{200, 300}))

	Expect(dp.routes).To(HaveKey(mpls.Label(100)))
	Expect(dp.routes[100]).To(HaveLen(1))
	Expect(dp.routes[100][0].OutLabels).To(Equal(mpls.Stack{200, 300}))

	Expect(*events).To(Equal([]LabelEvent{{Kind: LabelCreated, VRF: 0, Label: 100}}))

	// same NHLFE again is a no-op
	err = table.InstallLSP(0, LSPTypeStatic, 100, mpls.Stack{200, 300}, nexthop("10.0.0.1"))
	Expect(err).ToNot(HaveOccurred())
	Expect(*events).To(HaveLen(1))
	Expect(dp.replace).To(Equal(1))

	// changed out-labels update the LSP
	err = table.InstallLSP(0, LSPTypeStatic, 100, mpls.Stack{201}, nexthop("10.0.0.1"))
	Expect(err).ToNot(HaveOccurred())
	Expect(*events).To(HaveLen(2))
	Expect((*events)[1].Kind).To(Equal(LabelUpdated))
	Expect(dp.routes[100][0].OutLabels).To(Equal(mpls.Stack{201}))
}

func TestInstallLSPInvalidLabel(t *testing.T) {
	RegisterTestingT(t)

	table := NewTable(logrus.DefaultLogger(), newFakeDataplane())

	err := table.InstallLSP(0, LSPTypeStatic, mpls.LabelMax+1, nil, nexthop("10.0.0.1"))
	Expect(err).To(HaveOccurred())
	err = table.InstallLSP(0, LSPTypeStatic, 100, mpls.Stack{mpls.LabelNone}, nexthop("10.0.0.1"))
	Expect(err).To(HaveOccurred())
	Expect(table.ListLSPs()).To(BeEmpty())
}

func TestNHLFESelection(t *testing.T) {
	RegisterTestingT(t)

	dp := newFakeDataplane()
	table := NewTable(logrus.DefaultLogger(), dp)

	Expect(table.InstallLSP(0, LSPTypeLDP, 100, mpls.Stack{500}, nexthop("10.0.0.1"))).To(Succeed())
	Expect(table.InstallLSP(0, LSPTypeStatic, 100, mpls.Stack{600}, nexthop("10.0.0.2"))).To(Succeed())
	Expect(table.InstallLSP(0, LSPTypeStatic, 100, mpls.Stack{700}, nexthop("10.0.0.3"))).To(Succeed())

	lsp := table.LookupLSP(0, 100)
	Expect(lsp.NHLFEs).To(HaveLen(3))
	for _, n := range lsp.NHLFEs {
		Expect(n.IsSelected()).To(Equal(n.Type == LSPTypeStatic), "NHLFE %v", n.Nexthop)
	}
	Expect(dp.routes[100]).To(HaveLen(2))

	// removing static NHLFEs falls back to LDP
	Expect(table.UninstallLSP(0, LSPTypeStatic, 100)).To(Succeed())
	lsp = table.LookupLSP(0, 100)
	Expect(lsp).ToNot(BeNil())
	var live []*NHLFE
	for _, n := range lsp.NHLFEs {
		if !n.IsDeleted() {
			live = append(live, n)
		}
	}
	Expect(live).To(HaveLen(1))
	Expect(live[0].Type).To(Equal(LSPTypeLDP))
	Expect(live[0].IsSelected()).To(BeTrue())
	Expect(dp.routes[100]).To(HaveLen(1))
	Expect(dp.routes[100][0].OutLabels).To(Equal(mpls.Stack{500}))
}

func TestUninstallNexthop(t *testing.T) {
	RegisterTestingT(t)

	dp := newFakeDataplane()
	table := NewTable(logrus.DefaultLogger(), dp)
	events := recordEvents(table)

	Expect(table.InstallLSP(0, LSPTypeStatic, 100, mpls.Stack{600}, nexthop("10.0.0.2"))).To(Succeed())
	Expect(table.InstallLSP(0, LSPTypeStatic, 100, mpls.Stack{700}, nexthop("10.0.0.3"))).To(Succeed())

	Expect(table.UninstallNexthop(0, LSPTypeStatic, 100, nexthop("10.0.0.2"))).To(Succeed())
	Expect(dp.routes[100]).To(HaveLen(1))
	Expect((*events)[len(*events)-1]).To(Equal(LabelEvent{Kind: LabelUpdated, VRF: 0, Label: 100}))

	Expect(table.UninstallNexthop(0, LSPTypeStatic, 100, nexthop("10.0.0.3"))).To(Succeed())
	Expect(table.LookupLSP(0, 100)).To(BeNil())
	Expect(dp.routes).ToNot(HaveKey(mpls.Label(100)))
	Expect((*events)[len(*events)-1]).To(Equal(LabelEvent{Kind: LabelRemoved, VRF: 0, Label: 100}))

	// unknown label is not an error and emits nothing
	n := len(*events)
	Expect(table.UninstallNexthop(0, LSPTypeStatic, 999, nexthop("10.0.0.3"))).To(Succeed())
	Expect(*events).To(HaveLen(n))
}

func TestUninstallAllLSP(t *testing.T) {
	RegisterTestingT(t)

	dp := newFakeDataplane()
	table := NewTable(logrus.DefaultLogger(), dp)

	Expect(table.InstallLSP(2, LSPTypeSRTE, 1111, mpls.Stack{16001}, nexthop("10.0.0.1"))).To(Succeed())
	Expect(table.InstallLSP(1, LSPTypeSRTE, 1111, mpls.Stack{16001}, nexthop("10.0.0.1"))).To(Succeed())
	Expect(table.InstallLSP(1, LSPTypeStatic, 2222, mpls.Stack{16002}, nexthop("10.0.0.1"))).To(Succeed())
	Expect(dp.routes[1111]).To(HaveLen(2))

	events := recordEvents(table)
	Expect(table.UninstallAllLSP(LSPTypeSRTE, 1111)).To(Succeed())

	Expect(*events).To(Equal([]LabelEvent{
		{Kind: LabelRemoved, VRF: 1, Label: 1111},
		{Kind: LabelRemoved, VRF: 2, Label: 1111},
	}))
	Expect(table.LookupLSP(1, 1111)).To(BeNil())
	Expect(table.LookupLSP(2, 1111)).To(BeNil())
	Expect(table.LookupLSP(1, 2222)).ToNot(BeNil())
	Expect(dp.routes).ToNot(HaveKey(mpls.Label(1111)))
	Expect(dp.routes).To(HaveKey(mpls.Label(2222)))
}

func TestInstallLSPDataplaneError(t *testing.T) {
	RegisterTestingT(t)

	dp := newFakeDataplane()
	table := NewTable(logrus.DefaultLogger(), dp)
	events := recordEvents(table)

	Expect(table.InstallLSP(0, LSPTypeStatic, 100, mpls.Stack{200}, nexthop("10.0.0.1"))).To(Succeed())

	dp.failOn = 100
	err := table.InstallLSP(0, LSPTypeStatic, 100, mpls.Stack{300}, nexthop("10.0.0.1"))
	Expect(err).To(HaveOccurred())
	Expect(table.LookupLSP(0, 100).NHLFEs[0].OutLabels).To(Equal(mpls.Stack{200}))

	err = table.InstallLSP(0, LSPTypeStatic, 100, mpls.Stack{300}, nexthop("10.0.0.9"))
	Expect(err).To(HaveOccurred())
	Expect(table.LookupLSP(0, 100).NHLFEs).To(HaveLen(1))

	dp.failOn = 101
	err = table.InstallLSP(0, LSPTypeStatic, 101, mpls.Stack{300}, nexthop("10.0.0.1"))
	Expect(err).To(HaveOccurred())
	Expect(table.LookupLSP(0, 101)).To(BeNil())

	Expect(*events).To(HaveLen(1))
}

func TestWatchLabelsCancel(t *testing.T) {
	RegisterTestingT(t)

	table := NewTable(logrus.DefaultLogger(), newFakeDataplane())

	var cnt int
	cancel := table.WatchLabels(func(LabelEvent) { cnt++ })
	Expect(table.InstallLSP(0, LSPTypeStatic, 100, nil, nexthop("10.0.0.1"))).To(Succeed())
	cancel()
	Expect(table.InstallLSP(0, LSPTypeStatic, 101, nil, nexthop("10.0.0.1"))).To(Succeed())
	Expect(cnt).To(Equal(1))
}

func TestListLSPsSorted(t *testing.T) {
	RegisterTestingT(t)

	table := NewTable(logrus.DefaultLogger(), newFakeDataplane())
	Expect(table.InstallLSP(1, LSPTypeStatic, 300, nil, nexthop("10.0.0.1"))).To(Succeed())
	Expect(table.InstallLSP(0, LSPTypeStatic, 200, nil, nexthop("10.0.0.1"))).To(Succeed())
	Expect(table.InstallLSP(0, LSPTypeStatic, 100, nil, nexthop("2001:db8::1"))).To(Succeed())

	list := table.ListLSPs()
	Expect(list).To(HaveLen(3))
	Expect(list[0].InLabel).To(Equal(mpls.Label(100)))
	Expect(list[0].Family).To(Equal(FamilyIPv6))
	Expect(list[1].InLabel).To(Equal(mpls.Label(200)))
	Expect(list[2].VRF).To(Equal(uint32(1)))

	// snapshots are detached from the table
	list[0].NHLFEs[0].OutLabels = mpls.Stack{999}
	Expect(table.LookupLSP(0, 100).NHLFEs[0].OutLabels).To(BeEmpty())
}
