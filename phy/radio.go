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
	"github.com/wsnsim/wsnsim/channel"
	"github.com/wsnsim/wsnsim/geo"
	"github.com/wsnsim/wsnsim/internal/logging"
	"github.com/wsnsim/wsnsim/kernel"
	"github.com/wsnsim/wsnsim/signals"
)

// RDCNotifiee is the upward interface the PHY calls into: the RDC layer
// (or whatever sits immediately above it).
type RDCNotifiee interface {
	OnPhyTxEnd()
	OnPhyReceive(frame Frame, rssiDbm float64)
}

const detectEventPriority = 20

// Radio is the per-node PHY layer: reception-session bookkeeping, the
// capture/SINR decode decision, CCA, and the outbound send schedule,
// following spec.md §4.4's receive/transmit flows verbatim.
type Radio struct {
	id      uint64
	pos     geo.Point
	kq      *kernel.Queue
	ch      ChannelBroker
	above   RDCNotifiee
	params  Params

	busySending bool
	session     *session
	selfAddr    LinkAddr

	// overlapping tracks every currently live transmission's received
	// power (Watts), keyed by transmission id -- live meaning RxStart has
	// fired and RxEnd has not, and it was not below sensitivity.
	overlapping map[uint64]float64

	lastRSSIWatts float64

	bus  *signals.Bus
	node signals.NodeID
}

// NewRadio constructs a Radio at pos, wired to the given broker and the
// RDC layer above it.
func NewRadio(id uint64, pos geo.Point, kq *kernel.Queue, ch ChannelBroker, above RDCNotifiee, params Params) *Radio {
	return &Radio{
		id: id, pos: pos, kq: kq, ch: ch, above: above, params: params,
		overlapping: map[uint64]float64{},
	}
}

func (r *Radio) ID() uint64         { return r.id }
func (r *Radio) Position() geo.Point { return r.pos }

// SetAbove wires the RDC layer above this radio. Needed because the RDC
// instance itself must be constructed with a reference to this radio,
// creating a bootstrap cycle that sim.Simulation resolves by constructing
// with a nil above and fixing it up once both sides exist.
func (r *Radio) SetAbove(above RDCNotifiee) { r.above = above }

// SetBus wires the signal bus this radio emits TX/decode/CCA events on.
// Optional: a nil bus makes emit() a no-op, so existing tests that build a
// Radio directly need no change.
func (r *Radio) SetBus(bus *signals.Bus, id signals.NodeID) {
	r.bus = bus
	r.node = id
}

func (r *Radio) emit(s signals.Signal) {
	if r.bus != nil {
		r.bus.Emit(s)
	}
}

// Busy reports whether the radio is currently sending or in an active
// reception session -- the invariant spec.md §4.4 requires send() to
// respect.
func (r *Radio) Busy() bool {
	return r.busySending || r.session != nil
}

// Send schedules TxStart at now+epsilon and TxEnd at
// now+epsilon+on-air-duration. Calling Send while Busy is a programming
// error (fatal), per spec.md's radio-busy invariant.
func (r *Radio) Send(frame Frame) {
	logging.AssertTruef(!r.Busy(), "phy: send() while radio busy (node=%d)", r.id)
	r.busySending = true
	const epsilonUs = 1
	txStart := r.kq.Now() + epsilonUs
	txEnd := txStart + uint64(frame.OnAirDuration().Microseconds())

	r.kq.Schedule(kernel.NewEvent(txStart, detectEventPriority, func() {
		r.emit(signals.PhySignal{Node: r.node, Kind: signals.PhyTxStart})
		r.ch.OnTxStart(r, frame, r.params.TxPowerDbm)
	}))
	r.kq.Schedule(kernel.NewEvent(txEnd, detectEventPriority, func() {
		r.busySending = false
		r.above.OnPhyTxEnd()
	}))
}

// CCA is an instantaneous clear-channel-assessment check.
func (r *Radio) CCA() bool {
	if r.busySending || r.session != nil {
		return true
	}
	total := r.ch.NoiseFloorWatts()
	for _, p := range r.overlapping {
		total += p
	}
	busy := channel.WattsToDbm(total) > r.params.CCAThresholdDbm
	if busy {
		r.emit(signals.PhySignal{Node: r.node, Kind: signals.PhyCCABusy})
	}
	return busy
}

// interferersExcept snapshots r.overlapping's power map, leaving out the
// given transmission id (the session's captured transmission).
func (r *Radio) interferersExcept(excludeID uint64) map[uint64]float64 {
	m := make(map[uint64]float64, len(r.overlapping))
	for id, p := range r.overlapping {
		if id != excludeID {
			m[id] = p
		}
	}
	return m
}

// OnRxStart implements phy.Receiver: step 1-3 of the receive flow.
func (r *Radio) OnRxStart(tx *Transmission) {
	powerW := r.ch.ReceivedPowerWatts(tx.Sender.Position(), r.pos, tx.TxPowerDbm)
	if channel.WattsToDbm(powerW) < r.params.SensitivityDbm {
		return // below correlator sensitivity: drop and forget entirely
	}
	r.overlapping[tx.ID] = powerW

	now := r.kq.Now()
	if r.session == nil {
		r.session = newSession(tx, now, r.interferersExcept(tx.ID))
		r.session.setCapturedPower(powerW)
	} else {
		r.session.addSegment(now, r.interferersExcept(r.session.captured.ID))
	}

	if tx == r.session.captured {
		delay := addressDetectDelay(tx.Frame)
		delayUs := uint64(delay.Microseconds())
		r.kq.Schedule(kernel.NewEvent(now+delayUs, detectEventPriority, func() {
			r.onAddressDetect(tx)
		}))
	}
}

// onAddressDetect closes the session early if the synchronized
// transmission's destination is neither unicast-to-self nor broadcast --
// the caller outside this package is expected to have set the radio's own
// address via SetSelfAddr before traffic flows.
func (r *Radio) onAddressDetect(tx *Transmission) {
	if r.session == nil || r.session.captured != tx {
		return // session already closed or re-synchronized elsewhere
	}
	dst := tx.Frame.RxAddr()
	if dst != r.selfAddr && dst != BroadcastAddr {
		r.closeSessionEarly()
	}
}

// selfAddr is set once by the owning MAC/node wiring so the PHY can
// recognize unicast-to-self destinations.
func (r *Radio) SetSelfAddr(addr LinkAddr) {
	r.selfAddr = addr
}

func (r *Radio) closeSessionEarly() {
	delete(r.overlapping, r.session.captured.ID)
	r.session = nil
}

// OnRxEnd implements phy.Receiver: step 4 of the receive flow.
func (r *Radio) OnRxEnd(tx *Transmission) {
	delete(r.overlapping, tx.ID)

	if r.session == nil {
		return
	}
	if tx == r.session.captured {
		now := r.kq.Now()
		r.session.closeFinal(now)
		ok := r.session.decodeSuccess(r.ch.NoiseFloorWatts(), r.params.CaptureThresholdDB)
		capturedPower := r.session.capturedPowerWatts
		r.session = nil
		if ok {
			r.lastRSSIWatts = capturedPower
			rssiDbm := channel.WattsToDbm(capturedPower)
			r.emit(signals.PhySignal{Node: r.node, Kind: signals.PhyDecodeSuccess, RSSIDbm: rssiDbm, TxID: tx.ID, Captured: true})
			r.above.OnPhyReceive(tx.Frame, rssiDbm)
		} else {
			r.emit(signals.PhySignal{Node: r.node, Kind: signals.PhyDecodeFail, TxID: tx.ID})
		}
		return
	}
	// tx is an interferer of the ongoing session: append a closing segment
	// without changing the captured transmission.
	r.session.addSegment(r.kq.Now(), r.interferersExcept(r.session.captured.ID))
}

// LastRSSIDbm returns the last successfully decoded frame's measured RSSI.
func (r *Radio) LastRSSIDbm() float64 {
	return channel.WattsToDbm(r.lastRSSIWatts)
}
