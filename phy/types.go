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

// Package phy implements the per-node PHY layer: reception sessions, the
// capture/SINR decode decision, CCA, and the outbound transmission
// schedule, patterned on OTNS's radiomodelMutualInterference.go
// (session/interference bookkeeping) but following spec.md's hard
// minimum-segment-SINR capture rule rather than OTNS's continuous
// bit-error-rate model (see DESIGN.md).
package phy

import (
	"time"

	"github.com/wsnsim/wsnsim/geo"
)

// LinkAddr is a 2-byte 802.15.4 link address, packed big-endian starting
// at 1; BroadcastAddr (0xFFFF) is reserved.
type LinkAddr uint16

const (
	InvalidAddr   LinkAddr = 0
	BroadcastAddr LinkAddr = 0xFFFF
)

// On-air durations, fixed per spec.md §6.
const (
	DataOnAirDuration = 4830 * time.Microsecond
	AckOnAirDuration  = 352 * time.Microsecond

	// Time to receive the first 11 bytes of a data frame (enough to see
	// destination address) and the first 9 bytes of an ACK (enough to see
	// frame-type), used to schedule the address-detect / ack-type-detect
	// events of the receive flow (spec.md §4.4 step 3). Data-frame delays
	// are linearly scaled from DataOnAirDuration assuming a nominal 127-byte
	// max PSDU, and ACK delays from AckOnAirDuration, which is 11 bytes on
	// air at 32us per byte, matching OTNS's byte-proportional timing
	// conventions.
	dataFrameMaxBytes = 127
	ackFrameMaxBytes  = 11
)

// Frame is the minimal view the PHY needs of a MAC-layer frame: its
// on-air duration, addressing, sequence number, and frame kind. mac.Frame
// implements this interface; the PHY package never imports mac (mac sits
// above phy in the layering), so the interface lives here.
type Frame interface {
	OnAirDuration() time.Duration
	TxAddr() LinkAddr
	RxAddr() LinkAddr
	Seq() byte
	IsAck() bool
}

// addressDetectDelay returns how long after RxStart the destination
// address (data frames) or frame-type (ACKs) becomes determinable.
func addressDetectDelay(f Frame) time.Duration {
	if f.IsAck() {
		return f.OnAirDuration() * 9 / ackFrameMaxBytes
	}
	return f.OnAirDuration() * 11 / dataFrameMaxBytes
}

// Params bundles the per-node PHY parameters of spec.md §4.4.
type Params struct {
	CaptureThresholdDB float64
	CCAThresholdDbm    float64
	SensitivityDbm     float64
	TxPowerDbm         float64
}

// Transmission is created by a sender PHY: it lives from the scheduling of
// TxStart to the firing of TxEnd at each receiver.
type Transmission struct {
	Sender     Receiver
	Frame      Frame
	TxPowerDbm float64
	ID         uint64
}

// Receiver is the receiving end the channel broker dispatches to; *Radio
// implements it.
type Receiver interface {
	ID() uint64
	Position() geo.Point
	OnRxStart(tx *Transmission)
	OnRxEnd(tx *Transmission)
}

// ChannelBroker is the subset of broker.Broker's behavior the PHY layer
// needs: computing received power and the channel's noise floor, and
// dispatching an outbound transmission. Defining the interface here (and
// letting *broker.Broker satisfy it structurally) keeps phy free of any
// import of broker, avoiding the cycle that a concrete dependency would
// create (broker already imports phy for Frame/Transmission).
type ChannelBroker interface {
	ReceivedPowerWatts(senderPos, rxPos geo.Point, txDbm float64) float64
	NoiseFloorWatts() float64
	OnTxStart(sender Receiver, frame Frame, txPowerDbm float64) *Transmission
}
