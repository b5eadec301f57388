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

// Package mac implements the unslotted CSMA/CA MAC state machine: backoff
// exponent management, channel access, acknowledged unicast with retries,
// and immediate ACK transmission on reception of a frame requiring one.
// State transitions follow the IEEE 802.15.4-2006 unslotted CSMA/CA
// algorithm OTNS's node simulation assumes implicitly; this package makes
// it explicit rather than delegating to OpenThread firmware.
package mac

import (
	"time"

	"github.com/wsnsim/wsnsim/internal/logging"
	"github.com/wsnsim/wsnsim/kernel"
	"github.com/wsnsim/wsnsim/phy"
	"github.com/wsnsim/wsnsim/prng"
	"github.com/wsnsim/wsnsim/signals"
)

// Constants from the unslotted CSMA/CA algorithm.
const (
	macMinBE           = 3
	macMaxBE           = 5
	macMaxCSMABackoffs = 4
	macMaxFrameRetries = 3

	aUnitBackoffPeriod = 320 * time.Microsecond
	macAckWaitDuration = 864 * time.Microsecond
	aTurnaroundTime    = 192 * time.Microsecond
)

const eventPriority = 30

// FrameType distinguishes data frames from acknowledgments.
type FrameType byte

const (
	TypeData FrameType = iota
	TypeAck
)

// Frame implements phy.Frame. Payload carries the upper-layer (network
// protocol) bytes for data frames; ACK frames carry none.
type Frame struct {
	Type        FrameType
	SeqNo       byte
	Tx, Rx      phy.LinkAddr
	RequiresAck bool
	Payload     []byte
}

func (f *Frame) OnAirDuration() time.Duration {
	if f.Type == TypeAck {
		return phy.AckOnAirDuration
	}
	return phy.DataOnAirDuration
}
func (f *Frame) TxAddr() phy.LinkAddr { return f.Tx }
func (f *Frame) RxAddr() phy.LinkAddr { return f.Rx }
func (f *Frame) Seq() byte            { return f.SeqNo }
func (f *Frame) IsAck() bool          { return f.Type == TypeAck }

// state names the CSMA/CA state machine's states.
type state int

const (
	stateIdle state = iota
	stateInBackoff
	stateAwaitingAck
	stateSendingAck
)

// Radio is the subset of the RDC layer the MAC drives.
type Radio interface {
	Send(frame phy.Frame, skipCCA bool)
}

// NetNotifiee is the upward interface the MAC calls into: the network
// (routing) layer above it.
type NetNotifiee interface {
	// OnMacSent reports the outcome of a unicast send: ok is true iff an
	// ACK matching seq arrived within macAckWaitDuration of the final
	// attempt; retries counts additional attempts beyond the first;
	// ackRSSIDbm is meaningful only when ok is true.
	OnMacSent(dst phy.LinkAddr, seq byte, ok bool, retries int, ackRSSIDbm float64)
	// OnMacReceive delivers a decoded data frame's payload upward along with
	// the PHY-measured RSSI of that frame, per spec.md §4.6's "upward
	// delivery with measured RSSI" -- the routing layer needs it both for
	// its own ETX bookkeeping (reactive report-sender insertion) and for
	// gating beacon reception against RSSI_LOW_THR.
	OnMacReceive(src phy.LinkAddr, payload []byte, rssiDbm float64)
}

// Instance is one node's MAC layer.
type Instance struct {
	selfAddr phy.LinkAddr
	kq       *kernel.Queue
	radio    Radio
	above    NetNotifiee
	rng      *prng.Stream

	st state

	nb          int // number of backoffs so far for the current frame
	be          int
	retries     int
	pending     *Frame
	seqCounter  byte
	ackTimeout  *kernel.Event
	backoffEvt  *kernel.Event
	lastAckRSSI float64

	bus  *signals.Bus
	node signals.NodeID
}

// New constructs a MAC layer for selfAddr. rng supplies backoff-period
// draws; callers typically create it via prng.Manager with a per-node key
// so replications stay reproducible.
func New(selfAddr phy.LinkAddr, kq *kernel.Queue, radio Radio, above NetNotifiee, rng *prng.Stream) *Instance {
	return &Instance{selfAddr: selfAddr, kq: kq, radio: radio, above: above, rng: rng, st: stateIdle}
}

// SetAbove wires the network (routing) layer above this MAC, for the same
// bootstrap-order reason as rdc.NullRDC.SetAbove: TARP must be constructed
// with a reference to this MAC instance.
func (m *Instance) SetAbove(above NetNotifiee) { m.above = above }

// SetBus wires the signal bus this MAC emits send outcomes and timeouts on.
// Optional: a nil bus (the zero value) makes emit() a no-op, so tests that
// construct an Instance directly need not call this.
func (m *Instance) SetBus(bus *signals.Bus, id signals.NodeID) {
	m.bus = bus
	m.node = id
}

func (m *Instance) emit(s signals.Signal) {
	if m.bus != nil {
		m.bus.Emit(s)
	}
}

// Send begins an acknowledged (or unacknowledged, for broadcast) unicast
// transmission of payload to dst. Calling Send while a previous send is
// still outstanding is a programming error.
func (m *Instance) Send(dst phy.LinkAddr, payload []byte) {
	logging.AssertTruef(m.st == stateIdle, "mac: Send() while MAC busy (state=%d)", m.st)
	m.seqCounter++
	seq := m.seqCounter
	m.pending = &Frame{
		Type: TypeData, SeqNo: seq, Tx: m.selfAddr, Rx: dst,
		RequiresAck: dst != phy.BroadcastAddr, Payload: payload,
	}
	m.nb = 0
	m.be = macMinBE
	m.retries = 0
	m.beginBackoff()
}

func (m *Instance) beginBackoff() {
	m.st = stateInBackoff
	periods := m.rng.Intn(1<<uint(m.be)) // 0 .. 2^BE - 1
	delay := time.Duration(periods) * aUnitBackoffPeriod
	t := m.kq.Now() + uint64(delay.Microseconds())
	m.backoffEvt = kernel.NewEvent(t, eventPriority, m.onBackoffExpired)
	m.kq.Schedule(m.backoffEvt)
}

func (m *Instance) onBackoffExpired() {
	m.radio.Send(m.pending, false) // false: this send is subject to CCA
}

// OnRdcSent implements rdc.MACNotifiee: the CCA-cleared frame has finished
// its on-air transmission.
func (m *Instance) OnRdcSent() {
	switch {
	case m.st == stateSendingAck:
		m.st = stateIdle
		return
	case m.pending.RequiresAck:
		m.st = stateAwaitingAck
		t := m.kq.Now() + uint64(macAckWaitDuration.Microseconds())
		m.ackTimeout = kernel.NewEvent(t, eventPriority, m.onAckTimeout)
		m.kq.Schedule(m.ackTimeout)
	default:
		m.finish(true, 0)
	}
}

// OnRdcNotSent implements rdc.MACNotifiee: CCA found the channel busy.
func (m *Instance) OnRdcNotSent() {
	m.nb++
	m.be = min(m.be+1, macMaxBE)
	if m.nb >= macMaxCSMABackoffs {
		m.emit(signals.MacSignal{Node: m.node, Kind: signals.MacBackoffExhausted, Dst: uint16(m.pending.Rx), Seq: m.pending.SeqNo})
		m.finish(false, m.retries)
		return
	}
	m.beginBackoff()
}

func (m *Instance) onAckTimeout() {
	m.emit(signals.MacSignal{Node: m.node, Kind: signals.MacAckTimeout, Dst: uint16(m.pending.Rx), Seq: m.pending.SeqNo, Retries: m.retries})
	m.retryOrFail()
}

func (m *Instance) retryOrFail() {
	m.retries++
	if m.retries > macMaxFrameRetries {
		m.finish(false, m.retries-1)
		return
	}
	m.nb = 0
	m.be = macMinBE
	m.beginBackoff()
}

// OnRdcReceive implements rdc.MACNotifiee: a frame was successfully
// decoded by the PHY.
func (m *Instance) OnRdcReceive(frame phy.Frame, rssiDbm float64) {
	f, ok := frame.(*Frame)
	if !ok {
		return
	}
	if f.Type == TypeAck {
		m.onAckReceived(f, rssiDbm)
		return
	}
	if f.Rx != m.selfAddr && f.Rx != phy.BroadcastAddr {
		return
	}
	if f.RequiresAck && f.Rx == m.selfAddr {
		m.sendAck(f.SeqNo, f.Tx)
	}
	m.above.OnMacReceive(f.Tx, f.Payload, rssiDbm)
}

func (m *Instance) onAckReceived(ack *Frame, rssiDbm float64) {
	if m.st != stateAwaitingAck {
		return
	}
	// Exact sequence equality only: no wraparound-aware comparison, since
	// the sequence space is wide enough that wraparound during a single
	// outstanding send never happens in practice.
	if ack.SeqNo != m.pending.SeqNo {
		return
	}
	if m.ackTimeout != nil {
		m.kq.Unschedule(m.ackTimeout)
		m.ackTimeout = nil
	}
	m.lastAckRSSI = rssiDbm
	m.finish(true, m.retries)
}

func (m *Instance) sendAck(seq byte, to phy.LinkAddr) {
	m.st = stateSendingAck
	ack := &Frame{Type: TypeAck, SeqNo: seq, Tx: m.selfAddr, Rx: to}
	t := m.kq.Now() + uint64(aTurnaroundTime.Microseconds())
	m.kq.Schedule(kernel.NewEvent(t, eventPriority, func() {
		m.radio.Send(ack, true) // ACKs bypass CCA
	}))
}

func (m *Instance) finish(ok bool, retries int) {
	dst := m.pending.Rx
	seq := m.pending.SeqNo
	ackRSSI := m.lastAckRSSI
	m.pending = nil
	m.st = stateIdle
	m.lastAckRSSI = 0
	kind := signals.MacSendFail
	if ok {
		kind = signals.MacSendOK
	}
	m.emit(signals.MacSignal{Node: m.node, Kind: kind, Dst: uint16(dst), Seq: seq, Retries: retries, AckRSSIDbm: ackRSSI})
	m.above.OnMacSent(dst, seq, ok, retries, ackRSSI)
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
