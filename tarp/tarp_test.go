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

package tarp

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wsnsim/wsnsim/kernel"
	"github.com/wsnsim/wsnsim/phy"
	"github.com/wsnsim/wsnsim/prng"
	"github.com/wsnsim/wsnsim/signals"
)

func TestEtxFromRSSIEndpoints(t *testing.T) {
	require.Equal(t, 1.0, etxFromRSSI(-30, -35, -85))
	require.Equal(t, 10.0, etxFromRSSI(-90, -35, -85))
	mid := etxFromRSSI(-60, -35, -85)
	require.True(t, mid > 1 && mid < 10)
}

func TestMetricImprovementThresholdInfiniteWhenCurMetricNonPositive(t *testing.T) {
	require.True(t, math.IsInf(metricImprovementThreshold(0, 50, 0.3), 1))
}

func TestPreferredRequiresMarginBeyondThreshold(t *testing.T) {
	// cur=20, thr = max(50/20, 0.3) = 2.5; a candidate at 18 doesn't beat
	// 20-2.5=17.5, so it must not be preferred, but 17 must be.
	require.False(t, preferred(18, 20, 50, 0.3))
	require.True(t, preferred(17, 20, 50, 0.3))
}

func TestEtxUpdateFallsBackToRSSIWhenNoAcks(t *testing.T) {
	got := etxUpdate(3, 0, 5, -40, 0.5, -35, -85)
	want := etxFromRSSI(-40, -35, -85)
	require.Equal(t, want, got)
}

func TestEtxUpdateBlendsWhenAcksPresent(t *testing.T) {
	got := etxUpdate(4, 2, 3.0, -40, 0.5, -35, -85)
	want := 0.5*3.0 + 0.5*(4.0/2.0)
	require.InDelta(t, want, got, 1e-9)
}

func TestFragmentSplitsAtMaxPerFragment(t *testing.T) {
	deltas := make([]StatDelta, 100)
	frags := fragment(deltas, 37)
	require.Len(t, frags, 3)
	require.Len(t, frags[0], 37)
	require.Len(t, frags[2], 26)
}

func TestBeaconWireRoundTrip(t *testing.T) {
	buf := encodeBeacon(7, 12.5, 3, phy.LinkAddr(9))
	epoch, m, hops, parent := decodeBeacon(buf[1:])
	require.Equal(t, 7, epoch)
	require.InDelta(t, 12.5, m, 1e-9)
	require.Equal(t, uint8(3), hops)
	require.Equal(t, phy.LinkAddr(9), parent)
}

func TestDataWireRoundTrip(t *testing.T) {
	buf := encodeData(phy.LinkAddr(42), 5, []byte("payload"))
	dst, hops, payload, ok := decodeData(buf[1:])
	require.True(t, ok)
	require.Equal(t, phy.LinkAddr(42), dst)
	require.Equal(t, uint8(5), hops)
	require.Equal(t, []byte("payload"), payload)
}

func TestReportWireRoundTrip(t *testing.T) {
	deltas := []StatDelta{{Addr: 3, Status: StatusAdd, Metric: 2.5}, {Addr: 4, Status: StatusRemove}}
	buf := encodeReport(deltas)
	got := decodeReport(buf[1:])
	require.Equal(t, deltas, got)
}

type recordedSend struct {
	dst     phy.LinkAddr
	payload []byte
}

type fakeMAC struct {
	sent []recordedSend
}

func (m *fakeMAC) Send(dst phy.LinkAddr, payload []byte) {
	m.sent = append(m.sent, recordedSend{dst, payload})
}

type recordedDelivery struct {
	src     phy.LinkAddr
	payload []byte
	hops    uint8
}

type fakeApp struct {
	delivered []recordedDelivery
	results   []bool
}

func (a *fakeApp) OnDataDelivered(src phy.LinkAddr, payload []byte, hops uint8) {
	a.delivered = append(a.delivered, recordedDelivery{src, payload, hops})
}
func (a *fakeApp) OnSendResult(dst phy.LinkAddr, ok bool) {
	a.results = append(a.results, ok)
}

func newTestInstance(self phy.LinkAddr, isRoot bool) (*Instance, *fakeMAC, *fakeApp) {
	kq := kernel.NewQueue()
	mgr := prng.NewManager(3, 0)
	rng := mgr.Create("tarp/jitter")
	mac := &fakeMAC{}
	app := &fakeApp{}
	params := DefaultParameters()
	inst := New(self, isRoot, params, kq, mac, app, rng, signals.NodeID("n"), nil)
	return inst, mac, app
}

func TestOnBeaconAdoptsFirstParent(t *testing.T) {
	inst, _, _ := newTestInstance(1, false)
	inst.onBeacon(2, 1, 5, 1, phy.InvalidAddr, -40)

	require.True(t, inst.hasParent)
	require.Equal(t, phy.LinkAddr(2), inst.parent)
	require.Equal(t, uint8(2), inst.hops)
}

func TestOnBeaconDropsWeakRSSI(t *testing.T) {
	inst, _, _ := newTestInstance(1, false)
	inst.onBeacon(2, 1, 5, 1, phy.InvalidAddr, -95)

	require.False(t, inst.hasParent)
	require.Empty(t, inst.neighbors)
}

func TestOnBeaconSwitchesParentOnlyBeyondHysteresisMargin(t *testing.T) {
	inst, _, _ := newTestInstance(1, false)
	// RSSI at or above RSSIHighRef pins etx to exactly 1, keeping the
	// metric arithmetic easy to reason about: candidateMetric = advMetric+1.
	inst.onBeacon(2, 1, 20, 1, phy.InvalidAddr, -30)
	require.Equal(t, phy.LinkAddr(2), inst.parent)

	// A marginally better candidate (metric 20, within the hysteresis
	// margin of the current parent's 21) must not trigger a switch.
	inst.onBeacon(3, 1, 19, 1, phy.InvalidAddr, -30)
	require.Equal(t, phy.LinkAddr(2), inst.parent)

	// A clearly better candidate must.
	inst.onBeacon(4, 1, 2, 1, phy.InvalidAddr, -30)
	require.Equal(t, phy.LinkAddr(4), inst.parent)
}

func TestSendFailsWithoutParent(t *testing.T) {
	inst, mac, _ := newTestInstance(1, false)
	ok := inst.Send(99, []byte("x"))
	require.False(t, ok)
	require.Empty(t, mac.sent)
}

func TestSendRoutesViaParentWhenDestinationUnknown(t *testing.T) {
	inst, mac, _ := newTestInstance(1, false)
	inst.onBeacon(2, 1, 5, 1, phy.InvalidAddr, -40)

	ok := inst.Send(99, []byte("hello"))
	require.True(t, ok)
	require.Len(t, mac.sent, 1)
	require.Equal(t, phy.LinkAddr(2), mac.sent[0].dst)
}

func TestOnDataDeliversToSelf(t *testing.T) {
	inst, _, app := newTestInstance(1, false)
	payload := encodeData(1, 3, []byte("hi"))
	inst.onData(2, payload[1:])

	require.Len(t, app.delivered, 1)
	require.Equal(t, []byte("hi"), app.delivered[0].payload)
	require.Equal(t, uint8(3), app.delivered[0].hops)
}

func TestOnDataDropsBeyondMaxPathLength(t *testing.T) {
	inst, mac, _ := newTestInstance(1, false)
	inst.onBeacon(2, 1, 5, 1, phy.InvalidAddr, -40)

	payload := encodeData(99, uint8(inst.params.MaxPathLength+1), []byte("hi"))
	inst.onData(2, payload[1:])

	require.Empty(t, mac.sent)
}

func TestReactiveRecoveryReselectsParentOnMacFailure(t *testing.T) {
	inst, _, app := newTestInstance(1, false)
	inst.onBeacon(2, 1, 5, 1, phy.InvalidAddr, -40) // becomes parent
	inst.onBeacon(3, 1, 20, 1, phy.InvalidAddr, -40) // stays neighbor only

	inst.OnMacSent(2, 0, false, 3, -40)

	require.Equal(t, phy.LinkAddr(3), inst.parent)
	require.Len(t, app.results, 1)
	require.False(t, app.results[0])
}

func TestReactiveRecoveryOrphansWhenNoNeighborRemains(t *testing.T) {
	inst, _, _ := newTestInstance(1, false)
	inst.onBeacon(2, 1, 5, 1, phy.InvalidAddr, -40)

	inst.OnMacSent(2, 0, false, 3, -40)

	require.False(t, inst.hasParent)
}

func TestCleanupExpiresChildSubtree(t *testing.T) {
	inst, _, _ := newTestInstance(1, false)
	inst.neighbors[5] = &NeighborEntry{Addr: 5, Type: RouteChild, Age: 0}
	inst.neighbors[6] = &NeighborEntry{Addr: 6, Type: RouteDescendant, NextHop: 5, Age: alwaysValidAge}

	// Force the child's age past expiration without waiting out real time.
	inst.neighbors[5].Age = inst.params.EntryExpirationTime.Seconds() + 1

	inst.doCleanup()

	_, childStillPresent := inst.neighbors[5]
	require.False(t, childStillPresent)
	require.Contains(t, inst.pendingStatus, phy.LinkAddr(5))
}
