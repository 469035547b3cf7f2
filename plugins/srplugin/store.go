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
	"fmt"
	"net/netip"

	"github.com/google/btree"
	"github.com/pkg/errors"

	"github.com/ligato/srte-agent/pkg/mpls"
)

const btreeDegree = 8

// Store is an ordered index of SR policies keyed by color and endpoint.
// It is not safe for concurrent use, the plugin only accesses it from its
// event loop.
type Store struct {
	tree *btree.BTreeG[*Policy]
	bsid *BSIDInstaller
}

// NewStore creates an empty store. Deleting an active policy uninstalls its
// Binding SID through bsid.
func NewStore(bsid *BSIDInstaller) *Store {
	return &Store{
		tree: btree.NewG(btreeDegree, policyLess),
		bsid: bsid,
	}
}

// Add creates a policy with status unknown and no Binding SID. The caller
// must make sure the policy does not exist yet.
func (s *Store) Add(color uint32, endpoint netip.Addr, name string) *Policy {
	p := &Policy{
		Color:    color,
		Endpoint: endpoint,
		Name:     truncateName(name),
		Status:   StatusUnknown,
		SegmentList: SegmentList{
			LocalLabel: mpls.LabelNone,
		},
	}
	if s.tree.Has(p) {
		panic(fmt.Sprintf("SR policy (color %d, endpoint %v) added twice", color, endpoint))
	}
	s.tree.ReplaceOrInsert(p)
	return p
}

// Find returns the policy or nil.
func (s *Store) Find(color uint32, endpoint netip.Addr) *Policy {
	p, ok := s.tree.Get(&Policy{Color: color, Endpoint: endpoint})
	if !ok {
		return nil
	}
	return p
}

// FindByName returns the first policy in order with the given name or nil.
// Names are not indexed, the lookup walks all policies.
func (s *Store) FindByName(name string) *Policy {
	var found *Policy
	s.tree.Ascend(func(p *Policy) bool {
		if p.Name == name {
			found = p
			return false
		}
		return true
	})
	return found
}

// Delete uninstalls Binding SID forwarding of an active policy and removes
// the policy. The policy is removed even if the uninstall fails.
func (s *Store) Delete(p *Policy) error {
	var err error
	if p.Status == StatusUp {
		if err = s.bsid.Uninstall(p); err != nil {
			err = errors.Wrapf(err, "deleting %v", p)
		}
	}
	s.tree.Delete(p)
	return err
}

// Walk calls fn for policies in order until it returns false.
func (s *Store) Walk(fn func(p *Policy) bool) {
	s.tree.Ascend(fn)
}

// Len returns number of policies.
func (s *Store) Len() int {
	return s.tree.Len()
}
