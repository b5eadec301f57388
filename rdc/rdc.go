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

// Package rdc implements the radio duty cycle shim between the MAC and the
// PHY: a pass-through layer that runs CCA before forwarding a non-ACK send
// down to the radio, and relays receptions and send outcomes back up
// untouched. Always-on nodes have no sleep schedule to manage, so this is
// the "null" RDC spec.md §4.5 calls for, not a full contention-free-period
// or low-power-listening implementation.
package rdc

import (
	"github.com/wsnsim/wsnsim/phy"
)

// MACNotifiee is the upward interface the RDC calls into.
type MACNotifiee interface {
	OnRdcSent()
	OnRdcNotSent()
	OnRdcReceive(frame phy.Frame, rssiDbm float64)
}

// Radio is the subset of phy.Radio the RDC layer drives.
type Radio interface {
	Busy() bool
	CCA() bool
	Send(frame phy.Frame)
}

// NullRDC forwards every send through a single CCA check and passes
// receptions straight through, mirroring OTNS's always-on 802.15.4 duty
// cycle where nulldc performs no scheduling of its own.
type NullRDC struct {
	radio Radio
	above MACNotifiee
}

// New constructs a NullRDC wired to the given radio and MAC.
func New(radio Radio, above MACNotifiee) *NullRDC {
	return &NullRDC{radio: radio, above: above}
}

// SetAbove wires the MAC layer above this RDC, for the same bootstrap-order
// reason as phy.Radio.SetAbove: the MAC must be constructed with a
// reference to this RDC instance.
func (d *NullRDC) SetAbove(above MACNotifiee) { d.above = above }

// Send performs CCA (skipped for ACK frames, which are never subject to
// CSMA per spec.md §4.6) and forwards to the PHY if the channel is clear,
// else reports OnRdcNotSent immediately.
func (d *NullRDC) Send(frame phy.Frame, skipCCA bool) {
	if !skipCCA && d.radio.CCA() {
		d.above.OnRdcNotSent()
		return
	}
	d.radio.Send(frame)
}

// OnPhyTxEnd implements phy.RDCNotifiee.
func (d *NullRDC) OnPhyTxEnd() {
	d.above.OnRdcSent()
}

// OnPhyReceive implements phy.RDCNotifiee, relaying the frame and measured
// RSSI up to the MAC verbatim.
func (d *NullRDC) OnPhyReceive(frame phy.Frame, rssiDbm float64) {
	d.above.OnRdcReceive(frame, rssiDbm)
}
