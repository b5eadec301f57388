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

package sim

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wsnsim/wsnsim/channel"
	"github.com/wsnsim/wsnsim/geo"
	"github.com/wsnsim/wsnsim/kernel"
	"github.com/wsnsim/wsnsim/node"
	"github.com/wsnsim/wsnsim/phy"
	"github.com/wsnsim/wsnsim/signals"
)

// recordingApp is a node.Application that remembers every payload it was
// given, so a scenario can assert on end-to-end delivery.
type recordingApp struct {
	net         node.Net
	received    [][]byte
	sendToOnRun phy.LinkAddr
	sendPayload []byte
}

func (a *recordingApp) Start() {
	if a.sendPayload != nil {
		a.net.Send(a.sendPayload, a.sendToOnRun)
	}
}

func (a *recordingApp) Receive(payload []byte, src phy.LinkAddr, hops uint8) {
	cp := append([]byte(nil), payload...)
	a.received = append(a.received, cp)
}

func buildChain(t *testing.T, n int, chParams channel.Params, seed int64) (*Simulation, []node.Handle, []*recordingApp) {
	t.Helper()
	s, err := Build(chParams, 5.0, 20, seed, 0)
	require.NoError(t, err)

	handles := make([]node.Handle, n)
	apps := make([]*recordingApp, n)
	for i := 0; i < n; i++ {
		i := i
		app := &recordingApp{}
		apps[i] = app
		handles[i] = s.AddNode(NodeConfig{
			ID:     fmt.Sprintf("n%d", i),
			Pos:    geo.Point{X: float64(i) * 10, Y: 0},
			IsRoot: i == 0,
			NewApp: func(net node.Net) node.Application {
				app.net = net
				return app
			},
		})
	}
	return s, handles, apps
}

// TestTwoNodePingDelivers is spec.md §8's two-node scenario: a root and one
// child, the child pings the root once the tree forms.
func TestTwoNodePingDelivers(t *testing.T) {
	s, handles, apps := buildChain(t, 2, channel.BuiltinParams["ideal"], 1)
	apps[1].sendToOnRun = handles[0].LinkAddr
	apps[1].sendPayload = []byte("ping")

	s.Start()
	s.RunUntil(kernel.Time(10_000_000))

	require.Len(t, apps[0].received, 1)
	assert.Equal(t, "ping", string(apps[0].received[0]))
}

// TestLinearChainOfFiveRelaysToRoot is spec.md §8's chain scenario: five
// nodes in a line, the far leaf's payload must traverse every intermediate
// hop to reach the root.
func TestLinearChainOfFiveRelaysToRoot(t *testing.T) {
	const n = 5
	s, handles, apps := buildChain(t, n, channel.BuiltinParams["stable"], 2)
	apps[n-1].sendToOnRun = handles[0].LinkAddr
	apps[n-1].sendPayload = []byte("leaf-to-root")

	s.Start()
	s.RunUntil(kernel.Time(30_000_000))

	require.Len(t, apps[0].received, 1)
	assert.Equal(t, "leaf-to-root", string(apps[0].received[0]))
}

// TestGridTopologyFormsConnectedTree exercises a 4x4 grid under a lossy
// channel parameter set: every non-root node should eventually acquire a
// parent, per spec.md §8's "grid 4x4 lossy channel" scenario, tolerating
// that a lossy channel may take several beacon epochs to converge.
func TestGridTopologyFormsConnectedTree(t *testing.T) {
	s, err := Build(channel.BuiltinParams["lossy"], 8.0, 4, 3, 0)
	require.NoError(t, err)

	const side = 4
	handles := make([]node.Handle, 0, side*side)
	idx := 0
	for y := 0; y < side; y++ {
		for x := 0; x < side; x++ {
			isRoot := x == 0 && y == 0
			h := s.AddNode(NodeConfig{
				ID:     fmt.Sprintf("g%d", idx),
				Pos:    geo.Point{X: float64(x) * 8, Y: float64(y) * 8},
				IsRoot: isRoot,
			})
			handles = append(handles, h)
			idx++
		}
	}

	s.Start()
	s.RunUntil(kernel.Time(120_000_000))

	for _, h := range handles[1:] {
		layers, ok := s.Registry().ByAddr(h.LinkAddr)
		require.True(t, ok)
		assert.True(t, layers.TARP.HasParent(), "node %s should have acquired a parent", h.ID)
	}
}

// TestSameSeedReproducesLinkBudget checks PRNG substream reproducibility
// end to end: two Simulations built from the same rootSeed, with
// antithetic mode off in both, must yield the same link budget for the
// same geometry on their first fading draw.
func TestSameSeedReproducesLinkBudget(t *testing.T) {
	s1, err := Build(channel.BuiltinParams["stable"], 5.0, 20, 42, 0)
	require.NoError(t, err)
	s2, err := Build(channel.BuiltinParams["stable"], 5.0, 20, 42, 0)
	require.NoError(t, err)

	a := geo.Point{X: 0, Y: 0}
	b := geo.Point{X: 15, Y: 0}
	budget1 := s1.model.LinkBudget(a, b, 0.0)
	budget2 := s2.model.LinkBudget(a, b, 0.0)

	// Same seed, same stream derivation -- without an explicit antithetic
	// flip these must match bit-for-bit, the reproducibility invariant
	// spec.md §5 requires of every PRNG substream.
	assert.InDelta(t, budget1, budget2, 1e-9)
}

// TestParentLossTriggersReactiveRecovery: once a node's only parent is
// removed from the channel broker (simulating node failure), the node
// should either reselect a surviving neighbor as parent or emit
// TarpOrphaned -- spec.md §8's "parent loss / orphan" scenario.
func TestParentLossTriggersReactiveRecovery(t *testing.T) {
	s, handles, _ := buildChain(t, 3, channel.BuiltinParams["stable"], 7)

	var orphaned []signals.NodeID
	s.Subscribe(signals.SubscriberFunc(func(sig signals.Signal) {
		if ts, ok := sig.(signals.TarpSignal); ok && ts.Kind == signals.TarpOrphaned {
			orphaned = append(orphaned, ts.Node)
		}
	}))

	s.Start()
	s.RunUntil(kernel.Time(15_000_000))

	middle, ok := s.Registry().ByAddr(handles[1].LinkAddr)
	require.True(t, ok)
	require.True(t, middle.TARP.HasParent())

	s.Broker().Unregister(middle.Radio)

	s.RunUntil(kernel.Time(60_000_000))

	leaf, ok := s.Registry().ByAddr(handles[2].LinkAddr)
	require.True(t, ok)
	// The leaf's only route to the root went through the middle node; it
	// must either have found a replacement parent or reported itself
	// orphaned -- it must not silently keep routing through a node no
	// longer on the channel.
	if leaf.TARP.HasParent() {
		assert.NotEqual(t, handles[1].LinkAddr, leaf.TARP.ParentAddr())
	} else {
		assert.Contains(t, orphaned, signals.NodeID("n2"))
	}
}
