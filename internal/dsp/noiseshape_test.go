package dsp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindNoiseShaper_KnownNames(t *testing.T) {
	for _, name := range []string{"none", "fract", "iew5", "iew9", "fw3", "fw9", "fw24"} {
		s, err := FindNoiseShaper(name)
		require.NoError(t, err)
		assert.NotNil(t, s)
	}
}

func TestFindNoiseShaper_UnknownIsError(t *testing.T) {
	_, err := FindNoiseShaper("does-not-exist")
	assert.Error(t, err)
}

func TestNoShaping_AddsNoiseUnchanged(t *testing.T) {
	s := NoShaping{}
	assert.Equal(t, float32(1.5), s.Shape(1.0, 0.5))
}

func TestFractionSaver_CarriesFractionAcrossCalls(t *testing.T) {
	s := &FractionSaver{}

	out0 := s.Shape(1.3, 0) // channel 0: floor(1.3) = 1, carries 0.3
	assert.Equal(t, float32(1), out0)

	out1 := s.Shape(1.3, 0) // channel 1: fresh state, floor(1.3) = 1
	assert.Equal(t, float32(1), out1)

	// back to channel 0: 1.3 + carried 0.3 ~= 1.6 -> floor 1
	out2 := s.Shape(1.3, 0)
	assert.Equal(t, float32(1), out2)
}

func TestFIRShapers_ProduceFiniteOutput(t *testing.T) {
	shapers := []NoiseShaper{
		newLipshitz5(), newLipshitz9(), newWannamaker3(), newWannamaker9(), newWannamaker24(),
	}
	for _, sh := range shapers {
		for i := 0; i < 8; i++ {
			out := sh.Shape(0.1, 0.05)
			assert.False(t, out != out, "shaper produced NaN") // NaN check
		}
	}
}
