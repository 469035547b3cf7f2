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

// Package mplsplugin implements the label forwarding table: LSPs with their
// NHLFEs, NHLFE selection, label lifecycle events and programming of the
// Linux MPLS dataplane.
package mplsplugin

import (
	"net/netip"

	"github.com/pkg/errors"
	"go.ligato.io/cn-infra/v2/infra"

	"github.com/ligato/srte-agent/pkg/mpls"
	"github.com/ligato/srte-agent/plugins/mplsplugin/linuxcalls"
)

const (
	// DataplaneLinux programs routes via netlink.
	DataplaneLinux = "linux"
	// DataplaneNone keeps forwarding state only in memory.
	DataplaneNone = "none"
)

// Plugin provides the label forwarding table.
type Plugin struct {
	Deps

	*Table

	config *Config
}

// Deps lists dependencies of the MPLS plugin.
type Deps struct {
	infra.PluginDeps
}

// Config holds the MPLS plugin configuration.
type Config struct {
	Dataplane  string      `json:"dataplane"`
	StaticLSPs []StaticLSP `json:"static-lsps"`
}

// StaticLSP is an LSP configured from file.
type StaticLSP struct {
	VRF      uint32          `json:"vrf"`
	InLabel  uint32          `json:"in-label"`
	Nexthops []StaticNexthop `json:"nexthops"`
}

// StaticNexthop is a nexthop of a static LSP.
type StaticNexthop struct {
	Gateway   string   `json:"gateway"`
	Interface string   `json:"interface"`
	OutLabels []uint32 `json:"out-labels"`
}

// Init loads configuration, creates the table and installs static LSPs.
func (p *Plugin) Init() (err error) {
	if p.config, err = p.retrieveConfig(); err != nil {
		return err
	}
	p.Log.Debugf("MPLS plugin config: %+v", p.config)

	var handler linuxcalls.MPLSHandler
	switch p.config.Dataplane {
	case DataplaneLinux:
		handler = linuxcalls.NewNetLinkHandler(p.Log.NewLogger("netlink"))
	case DataplaneNone, "":
		handler = linuxcalls.NewNoopHandler(p.Log.NewLogger("noop-dataplane"))
	default:
		return errors.Errorf("unsupported MPLS dataplane %q", p.config.Dataplane)
	}
	p.Table = NewTable(p.Log.NewLogger("table"), handler)

	for _, static := range p.config.StaticLSPs {
		if err := p.installStatic(static); err != nil {
			return err
		}
	}
	return nil
}

// Close does nothing here.
func (p *Plugin) Close() error {
	return nil
}

func (p *Plugin) installStatic(static StaticLSP) error {
	inLabel := mpls.Label(static.InLabel)
	for _, snh := range static.Nexthops {
		nh := Nexthop{IfName: snh.Interface}
		if snh.Gateway != "" {
			gw, err := netip.ParseAddr(snh.Gateway)
			if err != nil {
				return errors.Wrapf(err, "static LSP %d: invalid gateway", static.InLabel)
			}
			nh.Gateway = gw
		}
		out := make(mpls.Stack, 0, len(snh.OutLabels))
		for _, l := range snh.OutLabels {
			out = append(out, mpls.Label(l))
		}
		if err := p.Table.InstallLSP(static.VRF, LSPTypeStatic, inLabel, out, nh); err != nil {
			return errors.Wrapf(err, "static LSP %d", static.InLabel)
		}
	}
	p.Log.Infof("static LSP %d installed with %d nexthop(s)", static.InLabel, len(static.Nexthops))
	return nil
}

// retrieveConfig loads plugin configuration file.
func (p *Plugin) retrieveConfig() (*Config, error) {
	config := &Config{
		// default configuration
		Dataplane: DataplaneNone,
	}
	found, err := p.Cfg.LoadValue(config)
	if !found {
		p.Log.Debug("MPLS plugin config not found")
		return config, nil
	}
	if err != nil {
		return nil, err
	}
	return config, nil
}
