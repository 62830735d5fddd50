// Package dsp implements the pure sample-in/sample-out dither and
// noise-shaping transforms applied before quantizing floating-point audio
// down to an integer sample format. It has no dependency on the streaming
// cache and prefetch engine and none on it; it ships in the same module
// because it carries the same non-trivial per-channel-state invariants the
// rest of this repository is built to exercise carefully.
package dsp

import (
	"math"
	"math/rand/v2"
)

// Ditherer adds a small amount of noise to a sample before quantization,
// trading distortion for a constant, less objectionable noise floor.
type Ditherer interface {
	Name() string
	Noise(sample float32) float32
}

// NoDithering emits no noise at all.
type NoDithering struct{}

func (NoDithering) Name() string            { return "None" }
func (NoDithering) Noise(_ float32) float32 { return 0 }

// RectangularDitherer draws uniform noise over ±0.5 LSB. Cheapest dither,
// worst signal-to-noise ratio; prefer another ditherer unless you know you
// want this one.
type RectangularDitherer struct{}

func (RectangularDitherer) Name() string { return "Rectangular" }
func (RectangularDitherer) Noise(_ float32) float32 {
	return uniform(-0.5, 0.5)
}

// StochasticDitherer biases its sign by the sample's fractional part,
// superior to Rectangular for non-subtractive dithering.
type StochasticDitherer struct{}

func (StochasticDitherer) Name() string { return "Stochastic" }
func (StochasticDitherer) Noise(sample float32) float32 {
	fract := sample - float32(int32(sample))
	if fract < 0 {
		fract += 1
	}
	if rand.Float64() <= float64(fract) {
		return 1 - fract
	}
	return -fract
}

// TriangularDitherer draws triangular noise over ±1 LSB peaked at 0. The
// all-round recommendation to reduce quantization noise.
type TriangularDitherer struct{}

func (TriangularDitherer) Name() string { return "Triangular" }
func (TriangularDitherer) Noise(_ float32) float32 {
	return float32(triangular(-1, 1, 0))
}

// GaussianDitherer draws noise from a normal distribution with σ=0.5 LSB,
// preferred subjectively by some for a more "analog" sound.
type GaussianDitherer struct{}

func (GaussianDitherer) Name() string { return "Gaussian" }
func (GaussianDitherer) Noise(_ float32) float32 {
	return float32(rand.NormFloat64() * 0.5)
}

// HighPassDitherer is Triangular-shaped uniform noise run through a
// one-sample subtractive high-pass filter (weights [1, -1]); less
// perceptible noise than Triangular and less CPU-intensive, at the cost of
// being superseded by a real noise shaper.
type HighPassDitherer struct {
	previousNoise float32
}

func (d *HighPassDitherer) Name() string { return "High Pass" }
func (d *HighPassDitherer) Noise(_ float32) float32 {
	newNoise := uniform(-0.5, 0.5)
	highPassed := newNoise - d.previousNoise
	d.previousNoise = newNoise
	return highPassed
}

// DithererFactory constructs a fresh, independently-stated Ditherer.
type DithererFactory func() Ditherer

var ditherers = []struct {
	name    string
	factory DithererFactory
}{
	{"none", func() Ditherer { return NoDithering{} }},
	{"rect", func() Ditherer { return RectangularDitherer{} }},
	{"sto", func() Ditherer { return StochasticDitherer{} }},
	{"tri", func() Ditherer { return TriangularDitherer{} }},
	{"gauss", func() Ditherer { return GaussianDitherer{} }},
	{"hp", func() Ditherer { return &HighPassDitherer{} }},
}

// FindDitherer looks up a ditherer by its short name, falling back to
// NoDithering for an unrecognized name.
func FindDitherer(name string) Ditherer {
	for _, d := range ditherers {
		if d.name == name {
			return d.factory()
		}
	}
	return NoDithering{}
}

func uniform(lo, hi float32) float32 {
	return lo + float32(rand.Float64())*(hi-lo)
}

// triangular draws from a triangular distribution over [lo, hi] peaked at
// mode, via the inverse-CDF method (no triangular distribution ships in
// the standard library, so this derives it directly from a single uniform
// draw rather than pulling in a dependency for one distribution).
func triangular(lo, hi, mode float64) float64 {
	u := rand.Float64()
	fc := (mode - lo) / (hi - lo)
	if u < fc {
		return lo + math.Sqrt(u*(hi-lo)*(mode-lo))
	}
	return hi - math.Sqrt((1-u)*(hi-lo)*(hi-mode))
}
