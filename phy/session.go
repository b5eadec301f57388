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

import "math"

// segment records the set of interferer powers (Watts) active during one
// interval of a reception session, delimited by interferer arrival/
// departure times.
type segment struct {
	start, end  uint64
	interferers map[uint64]float64 // txID -> power watts, snapshot for this interval
}

// session is the per-receiver bookkeeping for one ongoing decode attempt:
// the captured transmission, its measured power, and the ordered segments
// the arrival/departure of interferers delimit.
type session struct {
	captured           *Transmission
	capturedPowerWatts float64
	segments           []*segment
	segStart           uint64
}

func newSession(captured *Transmission, now uint64, initialInterferers map[uint64]float64) *session {
	return &session{
		captured: captured,
		segments: []*segment{{start: now, interferers: copyPowers(initialInterferers)}},
		segStart: now,
	}
}

// setCapturedPower records the measured power of the captured transmission,
// called once at session open by the radio.
func (s *session) setCapturedPower(p float64) {
	s.capturedPowerWatts = p
}

// addSegment closes the currently open segment at now and opens a new one
// with the given interferer-power snapshot.
func (s *session) addSegment(now uint64, interferers map[uint64]float64) {
	s.segments[len(s.segments)-1].end = now
	s.segments = append(s.segments, &segment{start: now, interferers: copyPowers(interferers)})
}

// closeFinal closes the last open segment at now, ending the session.
func (s *session) closeFinal(now uint64) {
	s.segments[len(s.segments)-1].end = now
}

// decodeSuccess computes, per segment, SINR = capturedPower / (noiseWatts +
// sum(interferer powers)); the minimum segment SINR (in dB) must meet the
// capture threshold for the whole session to succeed.
func (s *session) decodeSuccess(noiseWatts, captureThresholdDB float64) bool {
	minSinrDb := math.Inf(1)
	for _, seg := range s.segments {
		interference := 0.0
		for _, p := range seg.interferers {
			interference += p
		}
		sinr := s.capturedPowerWatts / (noiseWatts + interference)
		sinrDb := 10 * math.Log10(sinr)
		if sinrDb < minSinrDb {
			minSinrDb = sinrDb
		}
	}
	return minSinrDb >= captureThresholdDB
}

func copyPowers(src map[uint64]float64) map[uint64]float64 {
	dst := make(map[uint64]float64, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
