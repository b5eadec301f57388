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

package mac

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wsnsim/wsnsim/kernel"
	"github.com/wsnsim/wsnsim/phy"
	"github.com/wsnsim/wsnsim/prng"
)

// alwaysBusyRadio always reports the channel busy, forcing channel-access
// failure after macMaxCSMABackoffs backoffs.
type alwaysBusyRadio struct {
	above    *Instance
	attempts int
}

func (r *alwaysBusyRadio) Send(frame phy.Frame, skipCCA bool) {
	r.attempts++
	r.above.OnRdcNotSent()
}

type notifications struct {
	sent []sentRecord
}
type sentRecord struct {
	dst     phy.LinkAddr
	seq     byte
	ok      bool
	retries int
}

func (n *notifications) OnMacSent(dst phy.LinkAddr, seq byte, ok bool, retries int, ackRSSIDbm float64) {
	n.sent = append(n.sent, sentRecord{dst, seq, ok, retries})
}
func (n *notifications) OnMacReceive(src phy.LinkAddr, payload []byte, rssiDbm float64) {}

func newTestMAC(radio Radio, above NetNotifiee) *Instance {
	kq := kernel.NewQueue()
	mgr := prng.NewManager(1, 0)
	rng := mgr.Create("mac/backoff")
	return New(1, kq, radio, above, rng)
}

func TestChannelAccessFailureAfterMaxBackoffs(t *testing.T) {
	notif := &notifications{}
	kq := kernel.NewQueue()
	mgr := prng.NewManager(7, 0)
	rng := mgr.Create("mac/backoff")
	m := New(1, kq, nil, notif, rng)
	radio := &alwaysBusyRadio{above: m}
	m.radio = radio

	m.Send(2, []byte("hi"))
	kq.RunUntil(kernel.Ever)

	require.Len(t, notif.sent, 1)
	require.False(t, notif.sent[0].ok)
	// macMaxCSMABackoffs consecutive CCA-busy outcomes, and not one more,
	// must fail the send: NB is checked against the limit before each new
	// attempt, so exactly macMaxCSMABackoffs on-air CCA attempts occur.
	require.Equal(t, macMaxCSMABackoffs, radio.attempts)
}

// neverAckRadio delivers the frame on-air successfully but never produces
// an ACK, forcing retry exhaustion.
type neverAckRadio struct {
	above *Instance
}

func (r *neverAckRadio) Send(frame phy.Frame, skipCCA bool) {
	r.above.OnRdcSent()
}

func TestAckRetryExhaustionFails(t *testing.T) {
	notif := &notifications{}
	kq := kernel.NewQueue()
	mgr := prng.NewManager(7, 0)
	rng := mgr.Create("mac/backoff")
	m := New(1, kq, nil, notif, rng)
	m.radio = &neverAckRadio{above: m}

	m.Send(2, []byte("hi"))
	kq.RunUntil(kernel.Ever)

	require.Len(t, notif.sent, 1)
	require.False(t, notif.sent[0].ok)
	require.Equal(t, macMaxFrameRetries, notif.sent[0].retries)
}

// singleAckRadio delivers the frame and then immediately injects a
// matching ACK, isolating the happy path.
type singleAckRadio struct {
	above *Instance
	seq   byte
}

func (r *singleAckRadio) Send(frame phy.Frame, skipCCA bool) {
	f := frame.(*Frame)
	r.seq = f.SeqNo
	r.above.OnRdcSent()
	r.above.OnRdcReceive(&Frame{Type: TypeAck, SeqNo: f.SeqNo, Tx: f.Rx, Rx: f.Tx}, -40)
}

func TestMismatchedAckSequenceDoesNotTerminateWait(t *testing.T) {
	notif := &notifications{}
	kq := kernel.NewQueue()
	mgr := prng.NewManager(7, 0)
	rng := mgr.Create("mac/backoff")
	m := New(1, kq, nil, notif, rng)
	radio := &mismatchThenCorrectRadio{above: m}
	m.radio = radio

	m.Send(2, []byte("hi"))
	kq.RunUntil(kernel.Ever)

	require.Len(t, notif.sent, 1)
	require.True(t, notif.sent[0].ok)
}

// mismatchThenCorrectRadio injects a stale ACK (wrong seq) immediately,
// then the correct ACK; only the second should terminate the wait.
type mismatchThenCorrectRadio struct {
	above *Instance
}

func (r *mismatchThenCorrectRadio) Send(frame phy.Frame, skipCCA bool) {
	f := frame.(*Frame)
	r.above.OnRdcSent()
	r.above.OnRdcReceive(&Frame{Type: TypeAck, SeqNo: f.SeqNo + 1, Tx: f.Rx, Rx: f.Tx}, -40)
	r.above.OnRdcReceive(&Frame{Type: TypeAck, SeqNo: f.SeqNo, Tx: f.Rx, Rx: f.Tx}, -40)
}
