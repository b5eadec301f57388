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

package phy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wsnsim/wsnsim/geo"
	"github.com/wsnsim/wsnsim/kernel"
)

// testFrame is a minimal phy.Frame for unit tests.
type testFrame struct {
	dur         time.Duration
	tx, rx      LinkAddr
	seq         byte
	isAck       bool
}

func (f *testFrame) OnAirDuration() time.Duration { return f.dur }
func (f *testFrame) TxAddr() LinkAddr             { return f.tx }
func (f *testFrame) RxAddr() LinkAddr             { return f.rx }
func (f *testFrame) Seq() byte                    { return f.seq }
func (f *testFrame) IsAck() bool                  { return f.isAck }

// testBroker is a direct-wired ChannelBroker stand-in with fixed per-link
// power, bypassing channel.Model entirely, for deterministic PHY tests.
type testBroker struct {
	kq          *kernel.Queue
	receivers   map[uint64]Receiver
	powerWatts  float64
	noiseWatts  float64
	nextID      uint64
	propDelayUs uint64
}

func newTestBroker(kq *kernel.Queue) *testBroker {
	return &testBroker{kq: kq, receivers: map[uint64]Receiver{}, powerWatts: 1e-9, noiseWatts: 1e-12}
}

func (b *testBroker) ReceivedPowerWatts(senderPos, rxPos geo.Point, txDbm float64) float64 {
	return b.powerWatts
}

func (b *testBroker) NoiseFloorWatts() float64 { return b.noiseWatts }

func (b *testBroker) OnTxStart(sender Receiver, frame Frame, txPowerDbm float64) *Transmission {
	tx := &Transmission{Sender: sender, Frame: frame, TxPowerDbm: txPowerDbm, ID: b.nextID}
	b.nextID++
	for id, r := range b.receivers {
		if id == sender.ID() {
			continue
		}
		r := r
		start := b.kq.Now() + b.propDelayUs
		end := start + uint64(frame.OnAirDuration().Microseconds())
		b.kq.Schedule(kernel.NewEvent(start, detectEventPriority, func() { r.OnRxStart(tx) }))
		b.kq.Schedule(kernel.NewEvent(end, detectEventPriority, func() { r.OnRxEnd(tx) }))
	}
	return tx
}

type recordingRDC struct {
	received []Frame
	rssi     []float64
	txEnds   int
}

func (n *recordingRDC) OnPhyTxEnd() { n.txEnds++ }
func (n *recordingRDC) OnPhyReceive(frame Frame, rssiDbm float64) {
	n.received = append(n.received, frame)
	n.rssi = append(n.rssi, rssiDbm)
}

func defaultParams() Params {
	return Params{CaptureThresholdDB: 10, CCAThresholdDbm: -85, SensitivityDbm: -100, TxPowerDbm: 0}
}

func TestSingleTransmissionDecodesDeterministically(t *testing.T) {
	kq := kernel.NewQueue()
	b := newTestBroker(kq)
	senderNotif := &recordingRDC{}
	rxNotif := &recordingRDC{}
	sender := NewRadio(1, geo.Point{}, kq, b, senderNotif, defaultParams())
	receiver := NewRadio(2, geo.Point{X: 10}, kq, b, rxNotif, defaultParams())
	b.receivers[sender.ID()] = sender
	b.receivers[receiver.ID()] = receiver
	receiver.SetSelfAddr(1)

	frame := &testFrame{dur: DataOnAirDuration, tx: 2, rx: 1, seq: 5}
	sender.Send(frame)

	kq.RunUntil(kernel.Time(DataOnAirDuration.Microseconds()) + 100)

	require.Len(t, rxNotif.received, 1)
	require.Equal(t, frame, rxNotif.received[0])
	require.Equal(t, 1, senderNotif.txEnds)
}

func TestTwoOverlappingTransmissionsBothDroppedBelowCapture(t *testing.T) {
	kq := kernel.NewQueue()
	b := newTestBroker(kq)
	n1 := &recordingRDC{}
	n2 := &recordingRDC{}
	victimNotif := &recordingRDC{}
	s1 := NewRadio(1, geo.Point{}, kq, b, n1, defaultParams())
	s2 := NewRadio(2, geo.Point{}, kq, b, n2, defaultParams())
	victim := NewRadio(3, geo.Point{}, kq, b, victimNotif, defaultParams())
	b.receivers[s1.ID()] = s1
	b.receivers[s2.ID()] = s2
	b.receivers[victim.ID()] = victim
	victim.SetSelfAddr(99)

	f1 := &testFrame{dur: DataOnAirDuration, tx: 1, rx: 99, seq: 1}
	f2 := &testFrame{dur: DataOnAirDuration, tx: 2, rx: 99, seq: 2}
	s1.Send(f1)
	s2.Send(f2)

	kq.RunUntil(kernel.Time(DataOnAirDuration.Microseconds()) + 100)

	require.Empty(t, victimNotif.received, "two equal-power overlapping frames must both be dropped under the capture threshold")
}

func TestCCABusyWhenChannelOccupied(t *testing.T) {
	kq := kernel.NewQueue()
	b := newTestBroker(kq)
	b.powerWatts = 1e-8 // strong enough to push CCA above threshold
	sender := NewRadio(1, geo.Point{}, kq, b, &recordingRDC{}, defaultParams())
	listener := NewRadio(2, geo.Point{}, kq, b, &recordingRDC{}, defaultParams())
	b.receivers[sender.ID()] = sender
	b.receivers[listener.ID()] = listener

	sender.Send(&testFrame{dur: DataOnAirDuration, tx: 1, rx: 2, seq: 1})
	kq.RunUntil(b.propDelayUs + 10)
	require.True(t, listener.CCA())
}
