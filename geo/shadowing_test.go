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

package geo

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wsnsim/wsnsim/prng"
)

func TestShadowingMapStdWithinTolerance(t *testing.T) {
	space := NewDSpace(5, 32)
	mgr := prng.NewManager(1234, 0)
	rng := mgr.Create("nbmodel/shadowing")
	m := NewShadowingMap(space, 6.0, 20.0, rng)

	var sum, sumSq float64
	count := 0
	for _, row := range m.grid {
		for _, v := range row {
			sum += v
			sumSq += v * v
			count++
		}
	}
	mean := sum / float64(count)
	std := math.Sqrt(sumSq/float64(count) - mean*mean)
	require.InEpsilon(t, 6.0, std, 0.2)
}

func TestQueryInterpolatesWithinRange(t *testing.T) {
	space := NewDSpace(5, 16)
	mgr := prng.NewManager(5, 0)
	rng := mgr.Create("nbmodel/shadowing")
	m := NewShadowingMap(space, 4.0, 15.0, rng)

	v := m.Query(Point{X: 1.5, Y: -2.5})
	require.False(t, math.IsNaN(v))
	require.True(t, math.Abs(v) < 40) // several sigma bound, sanity only
}

func TestDistance(t *testing.T) {
	require.InDelta(t, 5.0, Distance(Point{0, 0}, Point{3, 4}), 1e-9)
}
