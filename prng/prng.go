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

// Package prng provides named, reproducible pseudo-random substreams, each
// seeded deterministically from a root seed, an optional worker id, and the
// stream's key. This generalizes OTNS's prng.go, which keeps a small fixed
// set of global named generators (node seed, radio-model seed, fail-time,
// unit-random) -- one math/rand.Rand per purpose -- into an arbitrary,
// caller-defined set of named streams.
package prng

import (
	"hash/fnv"
	"math"
	"math/rand"
	"strconv"
	"strings"

	"github.com/wsnsim/wsnsim/internal/logging"
)

// Stream is a single named pseudo-random substream. In antithetic mode,
// every base Uniform() draw returns 1-U instead of U; all other
// distributions derive from Uniform() (inverse-CDF sampling) so they
// inherit the coupling automatically.
type Stream struct {
	rnd        *rand.Rand
	antithetic *bool // shared with the owning Manager
}

// Uniform returns a sample in [0, 1).
func (s *Stream) Uniform() float64 {
	u := s.rnd.Float64()
	if *s.antithetic {
		return 1 - u
	}
	return u
}

// Exponential returns a sample from Exp(rate), via inverse-CDF on Uniform.
func (s *Stream) Exponential(rate float64) float64 {
	u := s.Uniform()
	if u <= 0 {
		u = 1e-300
	}
	return -math.Log(u) / rate
}

// Normal returns a sample from N(mean, stddev), via Box-Muller on two
// Uniform draws so the antithetic coupling flows through consistently.
func (s *Stream) Normal(mean, stddev float64) float64 {
	u1, u2 := s.Uniform(), s.Uniform()
	if u1 <= 0 {
		u1 = 1e-300
	}
	z := math.Sqrt(-2*math.Log(u1)) * math.Cos(2*math.Pi*u2)
	return mean + stddev*z
}

// Nakagami returns a small-scale fading amplitude (linear, not dB) sampled
// from a Nakagami-m distribution with the given shape and mean power
// (omega), via the standard gamma-distribution relationship
// (Nakagami^2 ~ Gamma(m, omega/m)). The gamma draw is half the sum of 2n
// squared standard-normal draws with n = round(shape) (a shape below 1 is
// raised to 1), which is exact for integer shapes; a non-integer shape is
// drawn as its nearest integer and then scaled by omega/shape.
func (s *Stream) Nakagami(shape, omega float64) float64 {
	if shape < 1 {
		shape = 1
	}
	// Gamma(k, theta) via Marsaglia-Tsang would need many uniforms; for the
	// shapes this simulator uses (small integers), sum of squared normals
	// scaled to unit variance approximates a chi-squared(2*shape) variable,
	// whose mean matches a Gamma(shape, 2) variable.
	sum := 0.0
	n := int(math.Round(shape))
	if n < 1 {
		n = 1
	}
	for i := 0; i < 2*n; i++ {
		z := s.Normal(0, 1)
		sum += z * z
	}
	gammaSample := sum / 2
	x2 := gammaSample * (omega / shape)
	if x2 < 0 {
		x2 = 0
	}
	return math.Sqrt(x2)
}

// Intn returns a sample in [0, n).
func (s *Stream) Intn(n int) int {
	if n <= 0 {
		return 0
	}
	return int(math.Floor(s.Uniform() * float64(n)))
}

// Choice returns an index in [0, len(weights)) chosen with probability
// proportional to its weight, given a slice of non-negative weights.
func (s *Stream) Choice(weights []float64) int {
	total := 0.0
	for _, w := range weights {
		total += w
	}
	if total <= 0 {
		return 0
	}
	target := s.Uniform() * total
	acc := 0.0
	for i, w := range weights {
		acc += w
		if target < acc {
			return i
		}
	}
	return len(weights) - 1
}

// Manager owns a root seed, an optional worker id (for disjoint streams
// across batch replications, §5 "Batch parallelism (external)"), and the
// set of named substreams created so far. Fatal (panics, per the
// configuration-error taxonomy) on duplicate-create or use-before-create.
type Manager struct {
	rootSeed   int64
	workerID   int
	antithetic bool
	streams    map[string]*Stream
}

// NewManager constructs a RandomManager for the given root seed and worker id.
func NewManager(rootSeed int64, workerID int) *Manager {
	return &Manager{
		rootSeed: rootSeed,
		workerID: workerID,
		streams:  map[string]*Stream{},
	}
}

// SetAntithetic toggles antithetic mode for every stream created by this
// manager, present and future (the flag is shared by reference).
func (m *Manager) SetAntithetic(v bool) {
	m.antithetic = v
}

// Create registers a new named substream, deriving its seed from
// (workerID, rootSeed, key) via FNV-64a so that two simulations with the
// same (root, worker, keys) are bit-reproducible.
func (m *Manager) Create(key string) *Stream {
	key = strings.ToLower(key)
	logging.AssertTruef(m.streams[key] == nil, "prng: duplicate stream key %q", key)
	seed := deriveSeed(m.workerID, m.rootSeed, key)
	s := &Stream{rnd: rand.New(rand.NewSource(seed)), antithetic: &m.antithetic}
	m.streams[key] = s
	return s
}

// Stream returns a previously created named substream. Fatal if the key
// was never created.
func (m *Manager) Stream(key string) *Stream {
	key = strings.ToLower(key)
	s := m.streams[key]
	logging.AssertTruef(s != nil, "prng: stream %q queried before creation", key)
	return s
}

func deriveSeed(workerID int, root int64, key string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(strconv.Itoa(workerID)))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(strconv.FormatInt(root, 10)))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(key))
	return int64(h.Sum64())
}
