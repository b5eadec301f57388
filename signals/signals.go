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

// Package signals implements the entity/observer bus spec.md §4 (row 8)
// and §6 call for: emitters post typed signals on state-change boundaries
// (send/receive/drop/parent-change/start/timeout/fail) and a Bus dispatches
// them to subscribers in emission order. Per the design note in spec.md §9
// ("duck-typed signal bus... replace with a tagged union per emitter kind"),
// Signal is a closed interface satisfied only by the four concrete structs
// below, dispatched with a type switch -- no runtime getattr, no reflection.
package signals

import (
	"go.uber.org/zap"

	"github.com/wsnsim/wsnsim/kernel"
)

// Signal is implemented only by AppSignal, TarpSignal, PhySignal, and
// MacSignal -- a closed tagged union, not an open interface other packages
// can satisfy.
type Signal interface {
	// LogFields returns the signal's data as structured zap fields, so a
	// monitor can log it directly without inspecting concrete fields
	// itself (replacing "dynamic getattr on packet fields in monitors").
	LogFields() []zap.Field
	signal()
}

// NodeID identifies the node an emitted signal concerns. The core has no
// node package dependency here to avoid an import cycle (node wires
// signals, not the reverse); node.Handle.ID satisfies this directly.
type NodeID string

// AppSignal is emitted by the application layer: start, a delivered
// payload, or the outcome of an originated send.
type AppSignal struct {
	Node  NodeID
	Kind  AppSignalKind
	Src   uint16
	Dst   uint16
	Hops  uint8
	Bytes int
}

type AppSignalKind int

const (
	AppStart AppSignalKind = iota
	AppReceive
	AppSendResult
)

func (AppSignal) signal() {}

func (s AppSignal) LogFields() []zap.Field {
	return []zap.Field{
		zap.String("node", string(s.Node)),
		zap.Int("kind", int(s.Kind)),
		zap.Uint16("src", s.Src),
		zap.Uint16("dst", s.Dst),
		zap.Uint8("hops", s.Hops),
		zap.Int("bytes", s.Bytes),
	}
}

// TarpDropReason categorizes a TARP-layer send failure, per spec.md §4.7
// "Failure semantics": {No Parent, No Route, Max Hops, Unknown Sender}.
type TarpDropReason int

const (
	DropNoParent TarpDropReason = iota
	DropNoRoute
	DropMaxHops
	DropUnknownSender
)

func (r TarpDropReason) String() string {
	switch r {
	case DropNoParent:
		return "no_parent"
	case DropNoRoute:
		return "no_route"
	case DropMaxHops:
		return "max_hops"
	case DropUnknownSender:
		return "unknown_sender"
	default:
		return "unknown"
	}
}

// TarpSignal is emitted by the routing layer: parent changes, drops, and
// topology-report activity.
type TarpSignal struct {
	Node      NodeID
	Kind      TarpSignalKind
	Epoch     int
	Peer      uint16
	OldPeer   uint16
	Metric    float64
	Hops      uint8
	DropCause TarpDropReason
}

type TarpSignalKind int

const (
	TarpParentChange TarpSignalKind = iota
	TarpOrphaned
	TarpDrop
	TarpEpochBump
	TarpReportSent
)

func (TarpSignal) signal() {}

func (s TarpSignal) LogFields() []zap.Field {
	return []zap.Field{
		zap.String("node", string(s.Node)),
		zap.Int("kind", int(s.Kind)),
		zap.Int("epoch", s.Epoch),
		zap.Uint16("peer", s.Peer),
		zap.Uint16("old_peer", s.OldPeer),
		zap.Float64("metric", s.Metric),
		zap.Uint8("hops", s.Hops),
		zap.String("drop_cause", s.DropCause.String()),
	}
}

// PhySignal is emitted by the PHY layer: decode success/failure, CCA
// outcomes, and transmissions.
type PhySignal struct {
	Node     NodeID
	Kind     PhySignalKind
	RSSIDbm  float64
	TxID     uint64
	Captured bool
}

type PhySignalKind int

const (
	PhyTxStart PhySignalKind = iota
	PhyDecodeSuccess
	PhyDecodeFail
	PhyCCABusy
)

func (PhySignal) signal() {}

func (s PhySignal) LogFields() []zap.Field {
	return []zap.Field{
		zap.String("node", string(s.Node)),
		zap.Int("kind", int(s.Kind)),
		zap.Float64("rssi_dbm", s.RSSIDbm),
		zap.Uint64("tx_id", s.TxID),
		zap.Bool("captured", s.Captured),
	}
}

// MacSignal is emitted by the MAC layer: send outcomes, ACK timeouts, and
// backoff exhaustion.
type MacSignal struct {
	Node       NodeID
	Kind       MacSignalKind
	Dst        uint16
	Seq        byte
	Retries    int
	AckRSSIDbm float64
}

type MacSignalKind int

const (
	MacSendOK MacSignalKind = iota
	MacSendFail
	MacAckTimeout
	MacBackoffExhausted
)

func (MacSignal) signal() {}

func (s MacSignal) LogFields() []zap.Field {
	return []zap.Field{
		zap.String("node", string(s.Node)),
		zap.Int("kind", int(s.Kind)),
		zap.Uint16("dst", s.Dst),
		zap.Uint8("seq", s.Seq),
		zap.Int("retries", s.Retries),
		zap.Float64("ack_rssi_dbm", s.AckRSSIDbm),
	}
}

// Subscriber receives signals in emission order. A monitor (external to
// the core, per spec.md §6) implements this to drive durable logging,
// CSV output, or metric counters.
type Subscriber interface {
	OnSignal(s Signal)
}

// SubscriberFunc adapts a plain function to Subscriber.
type SubscriberFunc func(Signal)

func (f SubscriberFunc) OnSignal(s Signal) { f(s) }

// Bus dispatches emitted signals to its subscribers, in emission order,
// via the type switch a caller's Subscriber performs -- O(1) dispatch
// without runtime type assertions on packet fields, per spec.md §9.
type Bus struct {
	subs []Subscriber
}

// NewBus returns an empty signal bus.
func NewBus() *Bus { return &Bus{} }

// Subscribe registers s to receive every future Emit call.
func (b *Bus) Subscribe(s Subscriber) {
	b.subs = append(b.subs, s)
}

// Emit dispatches sig to every subscriber, in subscription order. Emit
// itself never schedules a kernel event; it is always called synchronously
// from within a kernel.Event callback, so *kernel.Queue.Now() at call time
// is well-defined for any subscriber that wants to timestamp it.
func (b *Bus) Emit(sig Signal) {
	for _, s := range b.subs {
		s.OnSignal(sig)
	}
}

// TimestampedSignal pairs a Signal with the simulated time it fired at --
// a convenience a monitor can build itself from kq.Now() at emission, kept
// here since every monitor needs it.
type TimestampedSignal struct {
	Time kernel.Time
	Signal
}
