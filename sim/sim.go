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

// Package sim is the simulation harness: it builds the shared channel
// model and kernel queue, wires one node's full layer stack (PHY, RDC,
// MAC, TARP, and an optional Application) per AddNode call, and drives the
// whole thing forward through kernel.Queue.RunUntil. It plays the role
// OTNS's Dispatcher plays for a fleet of OpenThread nodes, except every
// layer below the application here is simulated in Go rather than driven
// over a Unix socket to compiled firmware.
package sim

import (
	"github.com/pkg/errors"

	"github.com/wsnsim/wsnsim/broker"
	"github.com/wsnsim/wsnsim/channel"
	"github.com/wsnsim/wsnsim/geo"
	"github.com/wsnsim/wsnsim/kernel"
	"github.com/wsnsim/wsnsim/mac"
	"github.com/wsnsim/wsnsim/node"
	"github.com/wsnsim/wsnsim/phy"
	"github.com/wsnsim/wsnsim/prng"
	"github.com/wsnsim/wsnsim/rdc"
	"github.com/wsnsim/wsnsim/signals"
	"github.com/wsnsim/wsnsim/tarp"
)

// NodeConfig describes one node to add to a Simulation.
type NodeConfig struct {
	ID     string
	Pos    geo.Point
	IsRoot bool

	PhyParams phy.Params
	// TarpParams is copied, not shared; nil selects tarp.DefaultParameters().
	TarpParams *tarp.Parameters

	// NewApp, if non-nil, constructs this node's application layer,
	// given the Net it can send through. A node with no NewApp still
	// gets a full PHY/RDC/MAC/TARP stack -- it just never originates or
	// receives application payloads itself (a pure relay).
	NewApp func(net node.Net) node.Application
}

// Simulation is one process-wide scenario: a shared channel, broker, and
// kernel queue, plus every node wired onto them.
type Simulation struct {
	kq       *kernel.Queue
	prngMgr  *prng.Manager
	space    *geo.DSpace
	model    *channel.Model
	broker   *broker.Broker
	bus      *signals.Bus
	registry *node.Registry

	nextAddr phy.LinkAddr
}

// Build constructs an empty Simulation over a gridN x gridN grid of
// gridStep-meter spacing, seeded so every PRNG substream it or its nodes
// later create is reproducible from (rootSeed, workerID). workerID lets a
// parallel batch of independent replications each get disjoint substreams
// from the same rootSeed, per prng.Manager's derivation scheme.
func Build(chParams channel.Params, gridStep float64, gridN int, rootSeed int64, workerID int) (*Simulation, error) {
	if gridN%2 != 0 {
		return nil, errors.Errorf("sim: grid size must be even, got %d", gridN)
	}
	kq := kernel.NewQueue()
	mgr := prng.NewManager(rootSeed, workerID)
	space := geo.NewDSpace(gridStep, gridN)
	shadowRng := mgr.Create("nbmodel/shadowing")
	fadeRng := mgr.Create("nbmodel/fading")
	model := channel.NewModel(space, chParams, shadowRng, fadeRng)

	return &Simulation{
		kq:       kq,
		prngMgr:  mgr,
		space:    space,
		model:    model,
		broker:   broker.New(model, kq),
		bus:      signals.NewBus(),
		registry: node.NewRegistry(),
		nextAddr: 1,
	}, nil
}

// Subscribe registers sub to receive every signal emitted by any node added
// to this Simulation, in emission order, per signals.Bus's contract.
func (s *Simulation) Subscribe(sub signals.Subscriber) {
	s.bus.Subscribe(sub)
}

// AddNode constructs cfg's full layer stack and wires it onto the shared
// channel and kernel queue, returning the Handle a scenario uses to refer
// back to it (e.g. node.Registry.ByID from a monitor).
//
// Radio, RDC, MAC, and TARP form a construction cycle: each layer's "above"
// reference is the next layer up, which in turn needs a reference back down
// to construct. Resolved the way phy.Radio.SetAbove's doc comment describes --
// construct every layer with its above left nil, then fix it up with the
// SetAbove setters those packages expose for exactly this purpose.
func (s *Simulation) AddNode(cfg NodeConfig) node.Handle {
	addr := s.nextAddr
	s.nextAddr++
	id := signals.NodeID(cfg.ID)

	radio := phy.NewRadio(uint64(addr), cfg.Pos, s.kq, s.broker, nil, cfg.PhyParams)
	radio.SetSelfAddr(addr)
	radio.SetBus(s.bus, id)

	rdcInst := rdc.New(radio, nil)
	radio.SetAbove(rdcInst)

	macRng := s.prngMgr.Create("mac/backoff/" + cfg.ID)
	macInst := mac.New(addr, s.kq, rdcInst, nil, macRng)
	macInst.SetBus(s.bus, id)
	rdcInst.SetAbove(macInst)

	params := tarp.DefaultParameters()
	if cfg.TarpParams != nil {
		params = *cfg.TarpParams
	}
	jitterRng := s.prngMgr.Create("tarp/jitter/" + cfg.ID)
	tarpInst := tarp.New(addr, cfg.IsRoot, params, s.kq, macInst, nil, jitterRng, id, s.bus)
	macInst.SetAbove(tarpInst)

	s.broker.Register(radio)

	var app node.Application
	if cfg.NewApp != nil {
		app = cfg.NewApp(&netBridge{tarp: tarpInst})
	}
	tarpInst.SetApp(&appBridge{app: app})

	h := node.Handle{ID: cfg.ID, LinkAddr: addr}
	s.registry.Add(h, &node.Layers{Radio: radio, RDC: rdcInst, MAC: macInst, TARP: tarpInst, App: app})
	return h
}

// Start begins every added node's TARP instance (and Application, if any),
// in the order nodes were added to the Simulation -- node.Registry.Handles
// returns that order explicitly rather than raw map iteration, since the
// latter is randomized per process run and would break the bit-for-bit
// reproducibility every other part of this package is built around.
func (s *Simulation) Start() {
	for _, h := range s.registry.Handles() {
		l, _ := s.registry.ByAddr(h.LinkAddr)
		l.TARP.Start()
		if l.App != nil {
			l.App.Start()
		}
	}
}

// RunUntil drains the kernel queue through simulated time tEnd.
func (s *Simulation) RunUntil(tEnd kernel.Time) {
	s.kq.RunUntil(tEnd)
}

// Now returns the current simulated time.
func (s *Simulation) Now() kernel.Time {
	return s.kq.Now()
}

// Registry exposes the node lookup table, e.g. for a scenario's assertions
// or a monitor wanting to resolve a signal's NodeID back to a Handle.
func (s *Simulation) Registry() *node.Registry {
	return s.registry
}

// Broker exposes the shared channel broker, e.g. for a scenario wanting to
// Unregister a node mid-run to simulate a node failure.
func (s *Simulation) Broker() *broker.Broker {
	return s.broker
}

// netBridge adapts tarp.Instance.Send's (dst, payload) argument order to
// node.Net.Send's (payload, dst) order the external interface in
// SPEC_FULL.md's §7 fixes -- the two packages were written independently
// and happen to disagree on argument order, the same way OTNS's pyOTNS
// bindings sometimes reorder arguments relative to the Go API they wrap.
type netBridge struct {
	tarp *tarp.Instance
}

func (b *netBridge) Send(payload []byte, dst phy.LinkAddr) bool {
	return b.tarp.Send(dst, payload)
}

// appBridge adapts a node.Application to tarp.AppNotifiee. OnSendResult has
// no node.Application counterpart -- a scenario that needs to observe send
// outcomes subscribes to the signal bus's TarpSignal/MacSignal stream
// instead of threading it through the minimal Application interface.
type appBridge struct {
	app node.Application
}

func (b *appBridge) OnDataDelivered(src phy.LinkAddr, payload []byte, hops uint8) {
	if b.app != nil {
		b.app.Receive(payload, src, hops)
	}
}

func (b *appBridge) OnSendResult(dst phy.LinkAddr, ok bool) {}
