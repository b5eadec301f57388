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

// Package geo provides the Cartesian geometry primitives the channel model
// is built on: points, a discrete square grid, and a correlated shadowing
// map sampled over that grid.
package geo

import (
	"math"

	"github.com/wsnsim/wsnsim/internal/logging"
)

// Point is an immutable Cartesian position in meters.
type Point struct {
	X, Y float64
}

// Distance returns the Euclidean distance between two points.
func Distance(a, b Point) float64 {
	dx, dy := a.X-b.X, a.Y-b.Y
	return math.Sqrt(dx*dx + dy*dy)
}

// DSpace is a square grid of N points per axis (N even), centered at the
// origin, with step s meters between adjacent grid points.
type DSpace struct {
	Step float64
	N    int
}

// NewDSpace constructs a grid; N must be even.
func NewDSpace(step float64, n int) *DSpace {
	logging.AssertTruef(n%2 == 0, "geo: DSpace N must be even, got %d", n)
	return &DSpace{Step: step, N: n}
}

// Axis returns the 1-D coordinate values along either grid axis, centered
// at zero: [-N/2*step, ..., (N/2-1)*step].
func (d *DSpace) Axis() []float64 {
	axis := make([]float64, d.N)
	half := d.N / 2
	for i := 0; i < d.N; i++ {
		axis[i] = float64(i-half) * d.Step
	}
	return axis
}

// Contains reports whether p falls within the grid's bounding square.
func (d *DSpace) Contains(p Point) bool {
	half := float64(d.N/2) * d.Step
	return p.X >= -half && p.X < half && p.Y >= -half && p.Y < half
}

// Distance is a convenience forwarding to the package-level Distance.
func (d *DSpace) Distance(a, b Point) float64 {
	return Distance(a, b)
}

// indexOf maps a coordinate to its fractional grid index.
func (d *DSpace) indexOf(v float64) float64 {
	half := float64(d.N/2) * d.Step
	return (v + half) / d.Step
}
