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

// Package channel implements the wireless propagation model: log-distance
// path loss plus correlated shadowing plus per-transmission small-scale
// Nakagami fading, following the formulas of OTNS's
// radiomodel/pathloss_model.go generalized to the Lu/May/Haines two-point
// shadowing combination and a fresh-per-call fading draw.
package channel

import (
	"math"

	"github.com/wsnsim/wsnsim/geo"
	"github.com/wsnsim/wsnsim/prng"
)

// SpeedOfLight is c in m/s, used for propagation delay.
const SpeedOfLight = 299792458.0

// Boltzmann is the Boltzmann constant in J/K, used for thermal noise floor.
const Boltzmann = 1.380649e-23

// RoomTemperatureK is the reference temperature (290 K) for noise floor.
const RoomTemperatureK = 290.0

// Params is one named channel parameter set (spec.md §6): path-loss
// exponent, reference distance, shadowing deviation/coherence distance,
// Nakagami fading shape, receiver filter bandwidth, and carrier frequency.
type Params struct {
	PlExponent  float64 `yaml:"pl_exponent"`  // path-loss exponent n
	D0          float64 `yaml:"d0"`           // reference distance d0 (m)
	ShadowDev   float64 `yaml:"shadow_dev"`   // sigma_sh (dB)
	CohDist     float64 `yaml:"coh_dist"`     // d_coh (m)
	FadingShape float64 `yaml:"fading_shape"` // Nakagami m
	FilterBW    float64 `yaml:"filter_bw"`    // receiver noise bandwidth (Hz)
	Freq        float64 `yaml:"freq"`         // carrier frequency (Hz), informational
}

// BuiltinParams holds the six named channel parameter sets spec.md §6
// requires as bootstrap defaults.
var BuiltinParams = map[string]Params{
	"ideal":          {PlExponent: 2.0, D0: 1.0, ShadowDev: 0.0, CohDist: 20.0, FadingShape: 3.0, FilterBW: 2e6, Freq: 2.4e9},
	"stable":         {PlExponent: 2.5, D0: 1.0, ShadowDev: 4.0, CohDist: 20.0, FadingShape: 2.0, FilterBW: 2e6, Freq: 2.4e9},
	"stable_mid_pl":  {PlExponent: 3.0, D0: 1.0, ShadowDev: 5.0, CohDist: 20.0, FadingShape: 2.0, FilterBW: 2e6, Freq: 2.4e9},
	"stable_high_pl": {PlExponent: 3.5, D0: 1.0, ShadowDev: 6.0, CohDist: 15.0, FadingShape: 1.5, FilterBW: 2e6, Freq: 2.4e9},
	"lossy":          {PlExponent: 3.2, D0: 1.0, ShadowDev: 8.0, CohDist: 15.0, FadingShape: 1.0, FilterBW: 2e6, Freq: 2.4e9},
	"unstable":       {PlExponent: 3.8, D0: 1.0, ShadowDev: 10.0, CohDist: 10.0, FadingShape: 1.0, FilterBW: 2e6, Freq: 2.4e9},
}

// Model bootstraps the channel from a parameter set plus two RNG
// substreams: one consumed once (shadowing map construction) and one
// consumed per link-budget call (fading draws).
type Model struct {
	params   Params
	space    *geo.DSpace
	shadow   *geo.ShadowingMap
	fadeRng  *prng.Stream
	noiseDbm float64
}

// NewModel constructs a Model over the given grid and parameter set. The
// shadowing substream is consumed once, here; the fading substream is
// retained for per-call draws in LinkBudget.
func NewModel(space *geo.DSpace, p Params, shadowingRng, fadingRng *prng.Stream) *Model {
	m := &Model{
		params:  p,
		space:   space,
		shadow:  geo.NewShadowingMap(space, p.ShadowDev, p.CohDist, shadowingRng),
		fadeRng: fadingRng,
	}
	m.noiseDbm = wattsToDbm(Boltzmann * RoomTemperatureK * p.FilterBW)
	return m
}

// TotalLossDB returns the deterministic path loss plus link shadowing (dB)
// between A and B: positions only, no fading -- callers needing a full
// link budget should use LinkBudget.
func (m *Model) TotalLossDB(a, b geo.Point) float64 {
	d := geo.Distance(a, b)
	pl := m.pathLossDB(d)
	sh := m.linkShadowingDB(a, b)
	return pl + sh
}

func (m *Model) pathLossDB(d float64) float64 {
	if d < m.params.D0 {
		d = m.params.D0
	}
	return 10 * m.params.PlExponent * math.Log10(d/m.params.D0)
}

// linkShadowingDB combines the shadowing map values at both endpoints per
// the Lu/May/Haines two-point correlated-shadowing formula.
func (m *Model) linkShadowingDB(a, b geo.Point) float64 {
	d := geo.Distance(a, b)
	shA := m.shadow.Query(a)
	shB := m.shadow.Query(b)
	if m.params.CohDist <= 0 {
		return (shA + shB) / 2
	}
	rho := math.Exp(-d / m.params.CohDist)
	coef := (1 - rho) / math.Sqrt(2*(1+rho))
	return coef * (shA + shB)
}

// LinkBudget returns the received power (dBm) at B for a transmission from
// A at txPowerDbm: deterministic loss plus a fresh per-call Nakagami
// small-scale fading draw, per spec.md's "fading is i.i.d. per
// transmission" invariant.
func (m *Model) LinkBudget(a, b geo.Point, txPowerDbm float64) float64 {
	loss := m.TotalLossDB(a, b)
	fadeLinear := m.fadeRng.Nakagami(m.params.FadingShape, 1.0)
	fadeDb := 0.0
	if fadeLinear > 0 {
		fadeDb = 20 * math.Log10(fadeLinear)
	} else {
		fadeDb = -60
	}
	return txPowerDbm - loss + fadeDb
}

// NoiseFloor returns thermal noise over the parameter set's filter
// bandwidth at 290 K, in dBm.
func (m *Model) NoiseFloor() float64 {
	return m.noiseDbm
}

// PropagationDelay returns distance / c, in seconds.
func (m *Model) PropagationDelay(a, b geo.Point) float64 {
	return geo.Distance(a, b) / SpeedOfLight
}

func wattsToDbm(w float64) float64 {
	return 10*math.Log10(w) + 30
}

// DbmToWatts converts a dBm value to linear Watts, used by the broker and
// PHY for summing received power across interferers.
func DbmToWatts(dbm float64) float64 {
	return math.Pow(10, (dbm-30)/10)
}

// WattsToDbm converts linear Watts to dBm.
func WattsToDbm(w float64) float64 {
	return wattsToDbm(w)
}
