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

package channel

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wsnsim/wsnsim/geo"
	"github.com/wsnsim/wsnsim/prng"
)

func newTestModel(t *testing.T, name string) *Model {
	t.Helper()
	space := geo.NewDSpace(5, 32)
	mgr := prng.NewManager(2024, 0)
	shRng := mgr.Create("nbmodel/shadowing")
	fadeRng := mgr.Create("nbmodel/fading")
	return NewModel(space, BuiltinParams[name], shRng, fadeRng)
}

func TestLinkBudgetMeansAgreeBothDirections(t *testing.T) {
	m := newTestModel(t, "stable")
	a := geo.Point{X: -10, Y: 0}
	b := geo.Point{X: 10, Y: 0}

	const n = 2000
	var sumAB, sumBA float64
	for i := 0; i < n; i++ {
		sumAB += m.LinkBudget(a, b, 0)
		sumBA += m.LinkBudget(b, a, 0)
	}
	meanAB, meanBA := sumAB/n, sumBA/n
	require.InDelta(t, meanAB, meanBA, 0.5)
}

func TestPropagationDelayMatchesDistanceOverC(t *testing.T) {
	m := newTestModel(t, "ideal")
	a := geo.Point{X: 0, Y: 0}
	b := geo.Point{X: 300, Y: 400}
	want := 500.0 / SpeedOfLight
	require.InDelta(t, want, m.PropagationDelay(a, b), 1e-12)
}

func TestDbmWattsRoundTrip(t *testing.T) {
	for _, dbm := range []float64{-100, -60, -30, 0, 10} {
		w := DbmToWatts(dbm)
		require.InDelta(t, dbm, WattsToDbm(w), 1e-9)
	}
}

func TestPathLossIncreasesWithDistance(t *testing.T) {
	m := newTestModel(t, "lossy")
	close := m.pathLossDB(2)
	far := m.pathLossDB(200)
	require.True(t, math.Abs(far) > math.Abs(close))
}
