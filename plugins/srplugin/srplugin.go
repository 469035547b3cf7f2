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

// Package srplugin implements SR-TE policies: their store, activation from
// the label forwarding table and installation of Binding SID forwarding.
package srplugin

import (
	"context"
	"net/netip"
	"sync"

	"github.com/pkg/errors"
	"go.ligato.io/cn-infra/v2/health/statuscheck"
	"go.ligato.io/cn-infra/v2/infra"
	prom "go.ligato.io/cn-infra/v2/rpc/prometheus"

	"github.com/ligato/srte-agent/pkg/mpls"
)

const defaultRequestBuffer = 100

var errClosed = errors.New("SR plugin is not running")

// Plugin manages SR policies.
type Plugin struct {
	Deps

	config *Config

	store     *Store
	bsid      *BSIDInstaller
	fsm       *policyFSM
	reactor   *labelReactor
	metrics   *srMetrics
	notifiers *notifiers

	labels      *labelQueue
	requests    chan func()
	cancelWatch func()

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Deps lists dependencies of the SR plugin.
type Deps struct {
	infra.PluginDeps
	MPLS        LabelTable
	Prometheus  prom.API                       // optional
	StatusCheck statuscheck.PluginStatusWriter // optional
}

// Config holds the SR plugin configuration.
type Config struct {
	Disabled bool `json:"disabled"`
	// BSIDInstallRollback removes partially installed Binding SID
	// forwarding when installing via some nexthop fails.
	BSIDInstallRollback bool `json:"bsid-install-rollback"`
	// EventBufferSize is the capacity of the API request channel.
	EventBufferSize int `json:"event-buffer-size"`
}

// Init builds the policy store and starts the event loop.
func (p *Plugin) Init() error {
	config, err := p.retrieveConfig()
	if err != nil {
		return err
	}
	p.Log.Debugf("SR plugin config: %+v", config)
	if config.Disabled {
		p.Log.Info("SR plugin disabled via config file")
		p.config = config
		return nil
	}
	if err := p.start(config); err != nil {
		return err
	}
	if p.Prometheus != nil {
		if err := p.metrics.register(p.Prometheus); err != nil {
			return errors.Wrap(err, "failed to register SR metrics")
		}
	}
	return nil
}

// AfterInit registers plugin with StatusCheck.
func (p *Plugin) AfterInit() error {
	if p.StatusCheck != nil {
		p.StatusCheck.Register(p.PluginName, nil)
		p.StatusCheck.ReportStateChange(p.PluginName, statuscheck.OK, nil)
	}
	return nil
}

// Close stops watching labels and the event loop.
func (p *Plugin) Close() error {
	if p.cancelWatch != nil {
		p.cancelWatch()
		p.cancelWatch = nil
	}
	if p.cancel != nil {
		p.cancel()
		p.wg.Wait()
	}
	return nil
}

func (p *Plugin) start(config *Config) error {
	if p.MPLS == nil {
		return errors.New("SR plugin requires label forwarding table")
	}
	p.config = config
	p.metrics = newMetrics()
	p.notifiers = newNotifiers()
	p.bsid = NewBSIDInstaller(p.Log, p.MPLS, config.BSIDInstallRollback)
	p.store = NewStore(p.bsid)
	p.fsm = &policyFSM{
		log:     p.Log,
		table:   p.MPLS,
		bsid:    p.bsid,
		notify:  p.notifiers.notify,
		metrics: p.metrics,
	}
	p.reactor = &labelReactor{
		log:     p.Log,
		store:   p.store,
		bsid:    p.bsid,
		fsm:     p.fsm,
		metrics: p.metrics,
	}

	size := config.EventBufferSize
	if size <= 0 {
		size = defaultRequestBuffer
	}
	p.requests = make(chan func(), size)
	p.labels = newLabelQueue()
	p.ctx, p.cancel = context.WithCancel(context.Background())

	p.wg.Add(1)
	go p.watchEvents(p.ctx)

	p.cancelWatch = p.MPLS.WatchLabels(p.labels.push)
	return nil
}

// exec runs fn in the event loop and waits for it.
func (p *Plugin) exec(fn func()) error {
	if p.ctx == nil {
		return errClosed
	}
	done := make(chan struct{})
	select {
	case p.requests <- func() {
		defer close(done)
		fn()
	}:
	case <-p.ctx.Done():
		return errClosed
	}
	select {
	case <-done:
		return nil
	case <-p.ctx.Done():
		return errClosed
	}
}

// SetPolicy creates or updates the policy and validates it.
func (p *Plugin) SetPolicy(cfg *PolicyConfig) (policy *Policy, err error) {
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	execErr := p.exec(func() {
		policy, err = p.setPolicy(cfg)
	})
	if execErr != nil {
		return nil, execErr
	}
	return policy, err
}

func (p *Plugin) setPolicy(cfg *PolicyConfig) (*Policy, error) {
	policy := p.store.Find(cfg.Color, cfg.Endpoint)
	if policy == nil {
		policy = p.store.Add(cfg.Color, cfg.Endpoint, cfg.Name)
		p.Log.Infof("%v added", policy)
	} else if policy.Status == StatusUp {
		// forwarding is rebuilt for the new segment list
		if err := p.bsid.Uninstall(policy); err != nil {
			p.Log.Warn(err)
		}
	}
	policy.Name = truncateName(cfg.Name)
	policy.VRF = cfg.VRF
	policy.SegmentList = SegmentList{
		Type:       cfg.SegmentList.Type,
		LocalLabel: cfg.SegmentList.LocalLabel,
		Labels:     cfg.SegmentList.Labels.Copy(),
	}
	if err := p.fsm.Validate(policy); err != nil {
		p.Log.Debug(err)
	}
	return policy.Copy(), nil
}

// DeletePolicy removes the policy.
func (p *Plugin) DeletePolicy(color uint32, endpoint netip.Addr) (err error) {
	execErr := p.exec(func() {
		policy := p.store.Find(color, endpoint)
		if policy == nil {
			err = errors.Wrapf(ErrPolicyNotFound, "color %d endpoint %v", color, endpoint)
			return
		}
		err = p.store.Delete(policy)
		p.Log.Infof("%v deleted", policy)
	})
	if execErr != nil {
		return execErr
	}
	return err
}

// GetPolicy returns snapshot of the policy or nil.
func (p *Plugin) GetPolicy(color uint32, endpoint netip.Addr) (policy *Policy) {
	err := p.exec(func() {
		if found := p.store.Find(color, endpoint); found != nil {
			policy = found.Copy()
		}
	})
	if err != nil {
		p.Log.Warnf("lookup of policy color %d endpoint %v: %v", color, endpoint, err)
	}
	return policy
}

// GetPolicyByName returns snapshot of the policy or nil.
func (p *Plugin) GetPolicyByName(name string) (policy *Policy) {
	err := p.exec(func() {
		if found := p.store.FindByName(name); found != nil {
			policy = found.Copy()
		}
	})
	if err != nil {
		p.Log.Warnf("lookup of policy %q: %v", name, err)
	}
	return policy
}

// ListPolicies returns snapshots of all policies.
func (p *Plugin) ListPolicies() (policies []*Policy) {
	err := p.exec(func() {
		p.store.Walk(func(policy *Policy) bool {
			policies = append(policies, policy.Copy())
			return true
		})
	})
	if err != nil {
		p.Log.Warnf("listing policies: %v", err)
	}
	return policies
}

// WatchStatus registers status notifier.
func (p *Plugin) WatchStatus(n StatusNotifier) (cancel func()) {
	if p.notifiers == nil {
		return func() {}
	}
	return p.notifiers.add(n)
}

func validateConfig(cfg *PolicyConfig) error {
	if cfg == nil {
		return errors.New("missing policy config")
	}
	if !cfg.Endpoint.IsValid() {
		return errors.Errorf("policy color %d has no endpoint", cfg.Color)
	}
	sl := cfg.SegmentList
	if sl.LocalLabel != mpls.LabelNone && !sl.LocalLabel.IsValid() {
		return errors.Errorf("invalid Binding SID %v", sl.LocalLabel)
	}
	for _, l := range sl.Labels {
		if !l.IsValid() {
			return errors.Errorf("invalid label %v in segment list", l)
		}
	}
	return nil
}

// retrieveConfig loads plugin configuration file.
func (p *Plugin) retrieveConfig() (*Config, error) {
	config := &Config{
		// default configuration
		EventBufferSize: defaultRequestBuffer,
	}
	found, err := p.Cfg.LoadValue(config)
	if !found {
		p.Log.Debug("SR plugin config not found")
		return config, nil
	}
	if err != nil {
		return nil, err
	}
	return config, nil
}
