// Copyright (c) 2020-2023, The OTNS Authors.
// All rights reserved.
//
// Redistribution and use in source and binary forms, with or without
// modification, are permitted provided that the following conditions are met:
// 1. Redistributions of source code must retain the above copyright
//    notice, this list of conditions and the following disclaimer.
// 2. Redistributions in binary form must reproduce the above copyright
//    notice, this list of conditions and the following disclaimer in the
//    documentation and/or other materials provided with the distribution.
// 3. Neither the name of the copyright holder nor the
//    names of its contributors may be used to endorse or promote products
//    derived from this software without specific prior written permission.
//
// THIS SOFTWARE IS PROVIDED BY THE COPYRIGHT HOLDERS AND CONTRIBUTORS "AS IS"
// AND ANY EXPRESS OR IMPLIED WARRANTIES, INCLUDING, BUT NOT LIMITED TO, THE
// IMPLIED WARRANTIES OF MERCHANTABILITY AND FITNESS FOR A PARTICULAR PURPOSE
// ARE DISCLAIMED. IN NO EVENT SHALL THE COPYRIGHT HOLDER OR CONTRIBUTORS BE
// LIABLE FOR ANY DIRECT, INDIRECT, INCIDENTAL, SPECIAL, EXEMPLARY, OR
// CONSEQUENTIAL DAMAGES (INCLUDING, BUT NOT LIMITED TO, PROCUREMENT OF
// SUBSTITUTE GOODS OR SERVICES; LOSS OF USE, DATA, OR PROFITS; OR BUSINESS
// INTERRUPTION) HOWEVER CAUSED AND ON ANY THEORY OF LIABILITY, WHETHER IN
// CONTRACT, STRICT LIABILITY, OR TORT (INCLUDING NEGLIGENCE OR OTHERWISE)
// ARISING IN ANY WAY OUT OF THE USE OF THIS SOFTWARE, EVEN IF ADVISED OF THE
// POSSIBILITY OF SUCH DAMAGE.

// Package node defines the external interfaces a scenario's traffic
// generator implements (Application, Net) and the Handle/Registry pair
// that lets sim.Simulation resolve a node's layer stack without any layer
// holding a back-pointer to a shared host struct -- the design note of
// spec.md §9 on avoiding bidirectional ownership cycles, patterned on how
// OTNS's dispatcher keeps a nodes map rather than giving each Node a
// pointer back to the Dispatcher.
package node

import (
	"github.com/wsnsim/wsnsim/mac"
	"github.com/wsnsim/wsnsim/phy"
	"github.com/wsnsim/wsnsim/rdc"
	"github.com/wsnsim/wsnsim/tarp"
)

// Handle identifies one simulated node by its stable external id and its
// 802.15.4 link address.
type Handle struct {
	ID       string
	LinkAddr phy.LinkAddr
}

// Application is the traffic generator a scenario wires above TARP
// (spec.md §6's External Interfaces, unchanged).
type Application interface {
	Start()
	Receive(payload []byte, src phy.LinkAddr, hops uint8)
}

// Net is the routing service TARP exposes upward to an Application.
type Net interface {
	Send(payload []byte, dst phy.LinkAddr) bool
}

// Layers bundles one node's per-layer instances, exported so tests and
// monitors can inspect per-layer state directly.
type Layers struct {
	Radio *phy.Radio
	RDC   *rdc.NullRDC
	MAC   *mac.Instance
	TARP  *tarp.Instance
	App   Application
}

// Registry resolves a Handle to its Layers. Owned by sim.Simulation; no
// core layer package imports it, keeping the dependency direction strictly
// downward (sim -> node -> {tarp,mac,rdc,phy}).
type Registry struct {
	byAddr map[phy.LinkAddr]*Layers
	byID   map[string]*Layers
	handle map[phy.LinkAddr]Handle
	// order preserves insertion order -- Go map iteration order is
	// randomized, which would silently break run-to-run reproducibility
	// for anything (like Simulation.Start) that needs to visit every node.
	order []Handle
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byAddr: map[phy.LinkAddr]*Layers{},
		byID:   map[string]*Layers{},
		handle: map[phy.LinkAddr]Handle{},
	}
}

// Add registers h's layer stack.
func (r *Registry) Add(h Handle, l *Layers) {
	r.byAddr[h.LinkAddr] = l
	r.byID[h.ID] = l
	r.handle[h.LinkAddr] = h
	r.order = append(r.order, h)
}

// ByAddr resolves a link address to its layer stack.
func (r *Registry) ByAddr(addr phy.LinkAddr) (*Layers, bool) {
	l, ok := r.byAddr[addr]
	return l, ok
}

// ByID resolves a node's external id to its layer stack.
func (r *Registry) ByID(id string) (*Layers, bool) {
	l, ok := r.byID[id]
	return l, ok
}

// Handle resolves a link address to its full Handle.
func (r *Registry) Handle(addr phy.LinkAddr) (Handle, bool) {
	h, ok := r.handle[addr]
	return h, ok
}

// Handles returns every registered node's Handle, in registration order.
func (r *Registry) Handles() []Handle {
	out := make([]Handle, len(r.order))
	copy(out, r.order)
	return out
}
