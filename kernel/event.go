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

// Package kernel implements the discrete-event core: a priority-ordered
// event queue with deterministic tie-breaking and cancellable events.
package kernel

import (
	"sync/atomic"

	"github.com/google/uuid"
)

// Time is the simulated clock, in microseconds since t=0.
type Time = uint64

// Ever is used as a timestamp meaning "never fires".
const Ever Time = ^Time(0)

// Event is a single scheduled callback. Ordering within the Queue is by
// (Time, Priority, seq) -- lower Priority fires first, and seq (assigned at
// Schedule time) breaks ties between events at equal (Time, Priority),
// matching the insertion-id tie-break spec.md's kernel requires.
type Event struct {
	Time     Time
	Priority int
	Callback func()

	// TraceID lets external monitors correlate an event with the causal
	// chain that produced it (e.g. a beacon forward triggered by a
	// beacon receipt) across a replication.
	TraceID uuid.UUID

	seq       uint64
	cancelled int32
	index     int // heap index, maintained by Queue
}

// NewEvent builds an event. TraceID defaults to a fresh random UUID; callers
// that want to correlate causally related events may copy a parent's TraceID.
func NewEvent(t Time, priority int, cb func()) *Event {
	return &Event{Time: t, Priority: priority, Callback: cb, TraceID: uuid.New()}
}

// Cancelled reports whether Unschedule has been called on this event.
func (e *Event) Cancelled() bool {
	return atomic.LoadInt32(&e.cancelled) != 0
}

func (e *Event) cancel() {
	atomic.StoreInt32(&e.cancelled, 1)
}
