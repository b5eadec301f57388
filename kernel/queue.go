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

package kernel

import (
	"container/heap"

	"github.com/wsnsim/wsnsim/internal/logging"
)

// eventHeap implements container/heap.Interface, patterned directly on
// OTNS's alarmQueue (dispatcher/alarm_mgr.go): Swap keeps each element's
// index field in sync so Fix/Remove stay O(log n).
type eventHeap []*Event

func (eh eventHeap) Len() int { return len(eh) }

func (eh eventHeap) Less(i, j int) bool {
	a, b := eh[i], eh[j]
	if a.Time != b.Time {
		return a.Time < b.Time
	}
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	return a.seq < b.seq
}

func (eh eventHeap) Swap(i, j int) {
	eh[i], eh[j] = eh[j], eh[i]
	eh[i].index, eh[j].index = i, j
}

func (eh *eventHeap) Push(x interface{}) {
	e := x.(*Event)
	e.index = len(*eh)
	*eh = append(*eh, e)
}

func (eh *eventHeap) Pop() interface{} {
	old := *eh
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*eh = old[:n-1]
	return e
}

// Queue is the kernel's priority-ordered event queue and clock.
type Queue struct {
	h       eventHeap
	now     Time
	nextSeq uint64
}

// NewQueue returns an empty queue with the clock at t=0.
func NewQueue() *Queue {
	q := &Queue{h: eventHeap{}}
	heap.Init(&q.h)
	return q
}

// Now returns the current simulated time.
func (q *Queue) Now() Time { return q.now }

// Schedule inserts evt. It is a configuration error (fatal) to schedule an
// event strictly in the past.
func (q *Queue) Schedule(evt *Event) {
	// AssertTruef reports a failed check through logging.Panicf, which logs at
	// zap's panic level and then panics, so a schedule-in-the-past stops here.
	logging.AssertTruef(evt.Time >= q.now, "kernel: schedule in the past (now=%d, evt=%d)", q.now, evt.Time)
	evt.seq = q.nextSeq
	q.nextSeq++
	heap.Push(&q.h, evt)
}

// Unschedule marks evt cancelled. The entry is not removed from the heap
// immediately; it is dropped, as a no-op, when it is next popped.
func (q *Queue) Unschedule(evt *Event) {
	if evt == nil {
		return
	}
	evt.cancel()
}

// RunUntil repeatedly pops the minimum-time event and, if not cancelled and
// its time is <= tEnd, advances now to it and invokes its callback. It
// terminates when the queue is empty or the next event exceeds tEnd.
func (q *Queue) RunUntil(tEnd Time) {
	for len(q.h) > 0 {
		next := q.h[0]
		if next.Time > tEnd {
			return
		}
		heap.Pop(&q.h)
		if next.Cancelled() {
			continue
		}
		logging.AssertTruef(next.Time >= q.now, "kernel: clock went backwards (now=%d, evt=%d)", q.now, next.Time)
		q.now = next.Time
		next.Callback()
	}
}

// Len reports the number of live (including cancelled-but-not-yet-popped)
// entries still in the queue.
func (q *Queue) Len() int { return len(q.h) }
