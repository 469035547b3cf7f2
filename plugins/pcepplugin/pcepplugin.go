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

// Package pcepplugin connects the agent as a PCC to a stateful PCE. Paths
// updated or initiated by the PCE are configured as SR policies and status
// changes of the policies are reported back.
package pcepplugin

import (
	"context"
	"net/netip"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.ligato.io/cn-infra/v2/health/statuscheck"
	"go.ligato.io/cn-infra/v2/infra"
	prom "go.ligato.io/cn-infra/v2/rpc/prometheus"

	"github.com/ligato/srte-agent/pkg/pcep"
	"github.com/ligato/srte-agent/plugins/pcepplugin/pcepcalls"
	"github.com/ligato/srte-agent/plugins/srplugin"
)

const (
	defaultConnectTimeout    = 5 * time.Second
	defaultReconnectInterval = 10 * time.Second
)

// Plugin maintains the session with the PCE.
type Plugin struct {
	Deps

	config *Config
	pce    pcepcalls.PCEOpts
	pcc    pcepcalls.PCCOpts

	metrics     *pcepMetrics
	ctrl        *controller
	cancelWatch func()

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Deps lists dependencies of the PCEP plugin.
type Deps struct {
	infra.PluginDeps
	SR          srplugin.API
	Prometheus  prom.API                       // optional
	StatusCheck statuscheck.PluginStatusWriter // optional
}

// Config holds the PCEP plugin configuration.
type Config struct {
	Disabled   bool   `json:"disabled"`
	PCEAddress string `json:"pce-address"`
	PCEPort    uint16 `json:"pce-port"`
	PCCAddress string `json:"pcc-address"`
	PCCPort    uint16 `json:"pcc-port"`
	// ForceStateless does not announce the stateful capability.
	ForceStateless bool `json:"force-stateless"`
	// Keepalive and DeadTimer in seconds.
	Keepalive         uint8         `json:"keepalive"`
	DeadTimer         uint8         `json:"dead-timer"`
	ConnectTimeout    time.Duration `json:"connect-timeout"`
	ReconnectInterval time.Duration `json:"reconnect-interval"`
	// DelegateLocalPolicies lets the PCE update policies configured
	// locally. Their Binding SID is kept either way.
	DelegateLocalPolicies bool `json:"delegate-local-policies"`
}

// Init loads the configuration and initializes the PCEP library.
func (p *Plugin) Init() (err error) {
	if p.config, err = p.retrieveConfig(); err != nil {
		return err
	}
	p.Log.Debugf("PCEP plugin config: %+v", p.config)
	if p.config.Disabled {
		p.Log.Info("PCEP plugin disabled via config file")
		return nil
	}
	if p.pce, p.pcc, err = sessionOpts(p.config); err != nil {
		return err
	}
	if p.SR == nil {
		return errors.New("PCEP plugin requires SR plugin")
	}

	if err := pcepcalls.Initialize(p.Log); err != nil {
		return err
	}
	p.metrics = newMetrics()
	if p.Prometheus != nil {
		if err := p.metrics.register(p.Prometheus); err != nil {
			return errors.Wrap(err, "failed to register PCEP metrics")
		}
	}
	p.ctrl = newController(p.Log, p.SR, p.metrics, p.pcc.Addr)
	p.ctrl.delegateLocal = p.config.DelegateLocalPolicies
	p.cancelWatch = p.SR.WatchStatus(p.ctrl)
	return nil
}

// AfterInit starts connecting to the PCE.
func (p *Plugin) AfterInit() error {
	if p.config.Disabled {
		return nil
	}
	if p.StatusCheck != nil {
		p.StatusCheck.Register(p.PluginName, nil)
	}

	var ctx context.Context
	ctx, p.cancel = context.WithCancel(context.Background())
	p.wg.Add(1)
	go p.maintainSession(ctx)
	return nil
}

// Close disconnects from the PCE.
func (p *Plugin) Close() error {
	if p.cancelWatch != nil {
		p.cancelWatch()
		p.cancelWatch = nil
	}
	if p.cancel != nil {
		p.cancel()
		p.wg.Wait()
	}
	if p.config != nil && !p.config.Disabled {
		pcepcalls.Finalize()
	}
	return nil
}

// maintainSession connects to the PCE and serves the session, reconnecting
// after failures until ctx is cancelled.
func (p *Plugin) maintainSession(ctx context.Context) {
	defer p.wg.Done()

	for {
		err := p.runSession(ctx)
		if ctx.Err() != nil {
			return
		}
		p.Log.Warnf("PCEP session with %v down: %v", p.pce.AddrPort(), err)
		p.metrics.sessionUp.Set(0)
		p.reportState(statuscheck.Error, err)

		select {
		case <-time.After(p.config.ReconnectInterval):
		case <-ctx.Done():
			return
		}
	}
}

func (p *Plugin) runSession(ctx context.Context) error {
	connectCtx, cancel := context.WithTimeout(ctx, p.config.ConnectTimeout)
	session, err := pcepcalls.Connect(connectCtx, p.pcc, p.pce)
	cancel()
	if err != nil {
		return err
	}
	defer pcepcalls.Disconnect(session)

	var caps pcepcalls.Caps
	if err := pcepcalls.ParseCapabilities(session.PeerOpen(), &caps); err != nil {
		return err
	}
	p.Log.Infof("PCEP session with %v up (stateful: %t)", session.RemoteAddr(), caps.IsStateful)
	p.metrics.sessionUp.Set(1)
	p.reportState(statuscheck.OK, nil)

	return p.ctrl.serve(ctx, session, caps)
}

func (p *Plugin) reportState(state statuscheck.PluginState, err error) {
	if p.StatusCheck != nil {
		p.StatusCheck.ReportStateChange(p.PluginName, state, err)
	}
}

func sessionOpts(config *Config) (pce pcepcalls.PCEOpts, pcc pcepcalls.PCCOpts, err error) {
	if config.PCEAddress == "" {
		return pce, pcc, errors.New("PCE address is not configured")
	}
	if pce.Addr, err = netip.ParseAddr(config.PCEAddress); err != nil {
		return pce, pcc, errors.Wrap(err, "invalid PCE address")
	}
	pce.Port = config.PCEPort
	if config.PCCAddress != "" {
		if pcc.Addr, err = netip.ParseAddr(config.PCCAddress); err != nil {
			return pce, pcc, errors.Wrap(err, "invalid PCC address")
		}
		if pcc.Addr.Is4() != pce.Addr.Is4() {
			return pce, pcc, errors.Errorf("PCC address %v and PCE address %v differ in family", pcc.Addr, pce.Addr)
		}
	}
	pcc.Port = config.PCCPort
	pcc.ForceStateless = config.ForceStateless
	pcc.Keepalive = config.Keepalive
	pcc.DeadTimer = config.DeadTimer
	return pce, pcc, nil
}

// retrieveConfig loads plugin configuration file.
func (p *Plugin) retrieveConfig() (*Config, error) {
	config := &Config{
		// default configuration
		PCEPort:               pcep.DefaultPort,
		Keepalive:             pcepcalls.DefaultKeepalive,
		DeadTimer:             pcepcalls.DefaultDeadTimer,
		ConnectTimeout:        defaultConnectTimeout,
		ReconnectInterval:     defaultReconnectInterval,
		DelegateLocalPolicies: true,
	}
	found, err := p.Cfg.LoadValue(config)
	if !found {
		p.Log.Debug("PCEP plugin config not found, plugin disabled")
		config.Disabled = true
		return config, nil
	}
	if err != nil {
		return nil, err
	}
	if config.ConnectTimeout <= 0 {
		config.ConnectTimeout = defaultConnectTimeout
	}
	if config.ReconnectInterval <= 0 {
		config.ReconnectInterval = defaultReconnectInterval
	}
	return config, nil
}
