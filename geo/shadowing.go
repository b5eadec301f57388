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

	"gonum.org/v1/gonum/dsp/fourier"

	"github.com/wsnsim/wsnsim/prng"
)

// ShadowingMap is an N x N correlated shadow-fading field sampled over a
// DSpace, generated once at bootstrap and thereafter read-only. Values are
// zero-mean Gaussian, correlated per the Gudmundson exponential model with
// standard deviation sigmaSh and coherence distance cohDist.
type ShadowingMap struct {
	grid    [][]float64
	space   *DSpace
	sigmaSh float64
	cohDist float64
}

// NewShadowingMap draws an i.i.d. Gaussian field with deviation sigmaSh,
// colors it in the frequency domain with the DFT of the Gudmundson
// correlation kernel sigmaSh^2*exp(-d/cohDist) (a 2-D analog of an AR(1)
// low-pass filter), and rescales the result so its empirical energy
// matches the target (Parseval-preserving rescale), rather than trusting
// the FFT library's particular normalization convention.
func NewShadowingMap(space *DSpace, sigmaSh, cohDist float64, rng *prng.Stream) *ShadowingMap {
	n := space.N
	field := make([][]float64, n)
	for i := range field {
		field[i] = make([]float64, n)
		for j := range field[i] {
			field[i][j] = rng.Normal(0, sigmaSh)
		}
	}

	kernel := gudmundsonKernel(space, sigmaSh, cohDist)

	fieldC := toComplex(field)
	kernelC := toComplex(kernel)

	fft2(fieldC)
	fft2(kernelC)

	// Multiply the field's spectrum by sqrt(|PSD|) -- the coloring filter --
	// then invert. |PSD(k)| is already real and non-negative since the
	// kernel is symmetric (even) around the origin.
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			psd := math.Sqrt(math.Abs(real(kernelC[i][j])*real(kernelC[i][j]) + imag(kernelC[i][j])*imag(kernelC[i][j])))
			filt := math.Sqrt(psd)
			fieldC[i][j] *= complex(filt, 0)
		}
	}

	ifft2(fieldC)

	colored := make([][]float64, n)
	var sum, sumSq float64
	for i := range colored {
		colored[i] = make([]float64, n)
		for j := range colored[i] {
			v := real(fieldC[i][j])
			colored[i][j] = v
			sum += v
			sumSq += v * v
		}
	}
	count := float64(n * n)
	mean := sum / count
	variance := sumSq/count - mean*mean
	if variance < 1e-12 {
		variance = 1e-12
	}
	std := math.Sqrt(variance)
	scale := sigmaSh / std
	for i := range colored {
		for j := range colored[i] {
			colored[i][j] = (colored[i][j] - mean) * scale
		}
	}

	return &ShadowingMap{grid: colored, space: space, sigmaSh: sigmaSh, cohDist: cohDist}
}

// gudmundsonKernel samples the toroidal (wrap-around) Gudmundson
// correlation kernel on the same grid as the field, so the subsequent FFT
// performs a circular convolution that approximates the desired
// correlation structure.
func gudmundsonKernel(space *DSpace, sigmaSh, cohDist float64) [][]float64 {
	n := space.N
	half := n / 2
	k := make([][]float64, n)
	for i := 0; i < n; i++ {
		k[i] = make([]float64, n)
		dy := float64(wrapIndex(i, n, half)) * space.Step
		for j := 0; j < n; j++ {
			dx := float64(wrapIndex(j, n, half)) * space.Step
			d := math.Sqrt(dx*dx + dy*dy)
			k[i][j] = sigmaSh * sigmaSh * math.Exp(-d/cohDist)
		}
	}
	return k
}

func wrapIndex(i, n, half int) int {
	if i <= half {
		return i
	}
	return i - n
}

func toComplex(real [][]float64) [][]complex128 {
	n := len(real)
	c := make([][]complex128, n)
	for i := range c {
		c[i] = make([]complex128, n)
		for j := range c[i] {
			c[i][j] = complex(real[i][j], 0)
		}
	}
	return c
}

// fft2 performs an in-place 2-D forward DFT (rows then columns) using
// gonum's complex FFT, the separable way any 2-D DFT decomposes.
func fft2(m [][]complex128) {
	n := len(m)
	t := fourier.NewCmplxFFT(n)
	for i := 0; i < n; i++ {
		t.Coefficients(m[i], m[i])
	}
	col := make([]complex128, n)
	for j := 0; j < n; j++ {
		for i := 0; i < n; i++ {
			col[i] = m[i][j]
		}
		t.Coefficients(col, col)
		for i := 0; i < n; i++ {
			m[i][j] = col[i]
		}
	}
}

// ifft2 performs an in-place 2-D inverse DFT.
func ifft2(m [][]complex128) {
	n := len(m)
	t := fourier.NewCmplxFFT(n)
	col := make([]complex128, n)
	for j := 0; j < n; j++ {
		for i := 0; i < n; i++ {
			col[i] = m[i][j]
		}
		t.Sequence(col, col)
		for i := 0; i < n; i++ {
			m[i][j] = col[i]
		}
	}
	for i := 0; i < n; i++ {
		t.Sequence(m[i], m[i])
	}
}

// Query returns the shadowing value at p via bilinear interpolation,
// clamped to the grid edges for points outside the sampled square.
func (s *ShadowingMap) Query(p Point) float64 {
	n := s.space.N
	fx := s.space.indexOf(p.X)
	fy := s.space.indexOf(p.Y)
	fx = clamp(fx, 0, float64(n-1))
	fy = clamp(fy, 0, float64(n-1))

	x0 := int(math.Floor(fx))
	y0 := int(math.Floor(fy))
	x1 := minInt(x0+1, n-1)
	y1 := minInt(y0+1, n-1)
	tx := fx - float64(x0)
	ty := fy - float64(y0)

	v00 := s.grid[y0][x0]
	v10 := s.grid[y0][x1]
	v01 := s.grid[y1][x0]
	v11 := s.grid[y1][x1]

	v0 := v00*(1-tx) + v10*tx
	v1 := v01*(1-tx) + v11*tx
	return v0*(1-ty) + v1*ty
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
