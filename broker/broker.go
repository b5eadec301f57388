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

// Package broker implements the wireless channel broker: it treats every
// transmission as broadcast, computing per-receiver propagation delay and
// scheduling RxStart/RxEnd events, the way OTNS's
// radiomodelMutualInterference.go schedules RadioCommStart/RadioRxDone
// through its EventQueue -- generalized here to our own kernel.Queue
// rather than OTNS's wire-event dispatcher. *Broker satisfies
// phy.ChannelBroker structurally.
package broker

import (
	"sort"

	"github.com/wsnsim/wsnsim/channel"
	"github.com/wsnsim/wsnsim/geo"
	"github.com/wsnsim/wsnsim/kernel"
	"github.com/wsnsim/wsnsim/phy"
)

// rxEventPriority is used for all broker-scheduled RxStart/RxEnd events.
const rxEventPriority = 10

// Broker is the one process-wide entity every PHY registers with.
type Broker struct {
	model  *channel.Model
	kq     *kernel.Queue
	radios map[uint64]phy.Receiver
	nextID uint64
}

// New constructs a Broker over the given propagation model and kernel queue.
func New(model *channel.Model, kq *kernel.Queue) *Broker {
	return &Broker{model: model, kq: kq, radios: map[uint64]phy.Receiver{}}
}

// Register adds r to the set of participating radios.
func (b *Broker) Register(r phy.Receiver) {
	b.radios[r.ID()] = r
}

// Unregister removes r.
func (b *Broker) Unregister(r phy.Receiver) {
	delete(b.radios, r.ID())
}

// OnTxStart schedules a RxStart/RxEnd pair, with per-link propagation
// delay, at every registered radio other than the sender.
func (b *Broker) OnTxStart(sender phy.Receiver, frame phy.Frame, txPowerDbm float64) *phy.Transmission {
	tx := &phy.Transmission{Sender: sender, Frame: frame, TxPowerDbm: txPowerDbm, ID: b.nextID}
	b.nextID++

	// Range in sorted id order, not map iteration order (randomized per
	// process by the Go runtime): two receivers equidistant from the sender
	// produce RxStart/RxEnd events at an identical (Time, Priority), and the
	// kernel's insertion-id tie-break must then depend only on node id, not
	// on incidental map hash-seed variation, to keep a replication
	// bit-reproducible run to run (spec.md §5, §8).
	ids := make([]uint64, 0, len(b.radios))
	for id := range b.radios {
		if id == sender.ID() {
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		r := b.radios[id]
		delaySec := b.model.PropagationDelay(sender.Position(), r.Position())
		delayUs := uint64(delaySec * 1e6)
		startTime := b.kq.Now() + delayUs
		endTime := startTime + uint64(frame.OnAirDuration().Microseconds())

		b.kq.Schedule(kernel.NewEvent(startTime, rxEventPriority, func() { r.OnRxStart(tx) }))
		b.kq.Schedule(kernel.NewEvent(endTime, rxEventPriority, func() { r.OnRxEnd(tx) }))
	}
	return tx
}

// ReceivedPowerWatts returns the instantaneous (freshly drawn fading)
// received power in Watts for a transmission at txDbm from senderPos,
// measured at rxPos.
func (b *Broker) ReceivedPowerWatts(senderPos, rxPos geo.Point, txDbm float64) float64 {
	rssiDbm := b.model.LinkBudget(senderPos, rxPos, txDbm)
	return channel.DbmToWatts(rssiDbm)
}

// NoiseFloorWatts returns the channel's thermal noise floor in Watts.
func (b *Broker) NoiseFloorWatts() float64 {
	return channel.DbmToWatts(b.model.NoiseFloor())
}
