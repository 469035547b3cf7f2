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

// srte-agent runs the SR-TE control plane: the label forwarding table, SR
// policies with their Binding SIDs and the PCEP session with a PCE.
package main

import (
	"go.ligato.io/cn-infra/v2/agent"
	"go.ligato.io/cn-infra/v2/health/statuscheck"
	"go.ligato.io/cn-infra/v2/logging"
	"go.ligato.io/cn-infra/v2/logging/logmanager"
	"go.ligato.io/cn-infra/v2/rpc/prometheus"

	"github.com/ligato/srte-agent/pkg/version"
	"github.com/ligato/srte-agent/plugins/mplsplugin"
	"github.com/ligato/srte-agent/plugins/pcepplugin"
	"github.com/ligato/srte-agent/plugins/srplugin"
)

func main() {
	a := agent.NewAgent(agent.AllPlugins(newSRTEAgent()))

	if err := a.Run(); err != nil {
		logging.DefaultLogger.Fatalln(err)
	}
}

// srteAgent groups plugins of the agent.
type srteAgent struct {
	LogManager  *logmanager.Plugin
	Prometheus  *prometheus.Plugin
	StatusCheck *statuscheck.Plugin

	MPLS *mplsplugin.Plugin
	SR   *srplugin.Plugin
	PCEP *pcepplugin.Plugin
}

func newSRTEAgent() *srteAgent {
	return &srteAgent{
		LogManager:  &logmanager.DefaultPlugin,
		Prometheus:  &prometheus.DefaultPlugin,
		StatusCheck: &statuscheck.DefaultPlugin,
		MPLS:        &mplsplugin.DefaultPlugin,
		SR:          &srplugin.DefaultPlugin,
		PCEP:        &pcepplugin.DefaultPlugin,
	}
}

func (a *srteAgent) String() string {
	return "SRTEAgent"
}

func (a *srteAgent) Init() error {
	return nil
}

func (a *srteAgent) AfterInit() error {
	logging.DefaultLogger.Infof("%s is ready", version.Info("srte-agent"))
	return nil
}

func (a *srteAgent) Close() error {
	return nil
}
