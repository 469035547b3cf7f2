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

//go:build linux
// +build linux

package linuxcalls

import (
	"net"
	"syscall"

	"github.com/pkg/errors"
	"github.com/vishvananda/netlink"
	"go.ligato.io/cn-infra/v2/logging"

	"github.com/ligato/srte-agent/pkg/mpls"
)

// NetLinkHandler programs label routes into the kernel MPLS table.
type NetLinkHandler struct {
	log logging.Logger
}

// NewNetLinkHandler creates new instance of netlink handler.
func NewNetLinkHandler(log logging.Logger) *NetLinkHandler {
	return &NetLinkHandler{log: log}
}

// ReplaceLabelRoute installs or replaces the kernel route for the incoming label.
func (h *NetLinkHandler) ReplaceLabelRoute(inLabel mpls.Label, paths []*LabelPath) error {
	if len(paths) == 0 {
		return h.DeleteLabelRoute(inLabel)
	}
	route, err := h.toNetlinkRoute(inLabel, paths)
	if err != nil {
		return err
	}
	if err := netlink.RouteReplace(route); err != nil {
		return errors.Wrapf(err, "failed to replace label route %v", inLabel)
	}
	h.log.Debugf("label route %v replaced with %d path(s)", inLabel, len(paths))
	return nil
}

// DeleteLabelRoute removes the kernel route for the incoming label. Missing
// route is not an error.
func (h *NetLinkHandler) DeleteLabelRoute(inLabel mpls.Label) error {
	dst := int(inLabel)
	err := netlink.RouteDel(&netlink.Route{
		Family:  netlink.FAMILY_MPLS,
		MPLSDst: &dst,
	})
	if err != nil && !errors.Is(err, syscall.ESRCH) && !errors.Is(err, syscall.ENOENT) {
		return errors.Wrapf(err, "failed to delete label route %v", inLabel)
	}
	return nil
}

func (h *NetLinkHandler) toNetlinkRoute(inLabel mpls.Label, paths []*LabelPath) (*netlink.Route, error) {
	dst := int(inLabel)
	route := &netlink.Route{
		Family:  netlink.FAMILY_MPLS,
		MPLSDst: &dst,
	}
	if len(paths) == 1 {
		p := paths[0]
		linkIdx, err := h.linkIndex(p)
		if err != nil {
			return nil, err
		}
		route.LinkIndex = linkIdx
		route.Via = via(p)
		route.NewDst = mplsDestination(p.OutLabels)
		return route, nil
	}
	for _, p := range paths {
		linkIdx, err := h.linkIndex(p)
		if err != nil {
			return nil, err
		}
		route.MultiPath = append(route.MultiPath, &netlink.NexthopInfo{
			LinkIndex: linkIdx,
			Via:       via(p),
			NewDst:    mplsDestination(p.OutLabels),
		})
	}
	return route, nil
}

func (h *NetLinkHandler) linkIndex(p *LabelPath) (int, error) {
	if p.IfIndex != 0 || p.IfName == "" {
		return p.IfIndex, nil
	}
	link, err := netlink.LinkByName(p.IfName)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to find interface %s", p.IfName)
	}
	return link.Attrs().Index, nil
}

func via(p *LabelPath) netlink.Destination {
	if !p.Gateway.IsValid() {
		return nil
	}
	gw := p.Gateway.Unmap()
	family := netlink.FAMILY_V6
	if gw.Is4() {
		family = netlink.FAMILY_V4
	}
	return &netlink.Via{
		AddrFamily: family,
		Addr:       net.IP(gw.AsSlice()),
	}
}

// mplsDestination returns nil for an empty stack, the kernel then pops the label.
func mplsDestination(labels mpls.Stack) netlink.Destination {
	if len(labels) == 0 {
		return nil
	}
	dst := &netlink.MPLSDestination{Labels: make([]int, 0, len(labels))}
	for _, l := range labels {
		dst.Labels = append(dst.Labels, int(l))
	}
	return dst
}
