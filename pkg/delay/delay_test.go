// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package delay

import (
	"testing"
	"time"

	"github.com/absmach/udpcap/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fixedSource always returns the same draws.
type fixedSource struct {
	uniform float64
	normal  float64
	calls   int
}

func (f *fixedSource) Float64() float64 {
	f.calls++
	return f.uniform
}

func (f *fixedSource) NormFloat64() float64 {
	f.calls++
	return f.normal
}

func TestParseDistribution(t *testing.T) {
	cases := []struct {
		in   string
		want Distribution
		err  bool
	}{
		{in: "normal", want: Normal},
		{in: "Uniform", want: Uniform},
		{in: " uniform ", want: Uniform},
		{in: "poisson", err: true},
		{in: "", err: true},
	}

	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseDistribution(tc.in)
			if tc.err {
				require.ErrorIs(t, err, errors.ErrInvalidDistribution)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestSampler_ZeroConfig(t *testing.T) {
	src := &fixedSource{uniform: 0.9, normal: 3}
	s := NewSampler(Config{BaseMs: 0, JitterMs: 0, Distribution: Uniform}, src)

	assert.Equal(t, 0.0, s.SampleMs())
	assert.False(t, s.Enabled())
	assert.Zero(t, src.calls, "source must not be consulted without delay")

	s = NewSampler(Config{BaseMs: -5, JitterMs: -1}, src)
	assert.Equal(t, 0.0, s.SampleMs())
}

func TestSampler_NoJitterIsDeterministic(t *testing.T) {
	src := &fixedSource{uniform: 0.1, normal: -2}
	s := NewSampler(Config{BaseMs: 25, Distribution: Normal}, src)

	for i := 0; i < 10; i++ {
		assert.Equal(t, 25.0, s.SampleMs())
	}
	assert.Zero(t, src.calls)
	assert.Equal(t, 25*time.Millisecond, s.Sample())
}

func TestSampler_UniformMidpoint(t *testing.T) {
	s := NewSampler(Config{BaseMs: 50, JitterMs: 10, Distribution: Uniform}, &fixedSource{uniform: 0.5})

	assert.Equal(t, 50.0, s.SampleMs())
	assert.Equal(t, 50*time.Millisecond, s.Sample())
}

func TestSampler_UniformBounds(t *testing.T) {
	low := NewSampler(Config{BaseMs: 50, JitterMs: 10, Distribution: Uniform}, &fixedSource{uniform: 0})
	assert.Equal(t, 40.0, low.SampleMs())

	clamped := NewSampler(Config{BaseMs: 5, JitterMs: 10, Distribution: Uniform}, &fixedSource{uniform: 0})
	assert.Equal(t, 0.0, clamped.SampleMs())
}

func TestSampler_Normal(t *testing.T) {
	s := NewSampler(Config{BaseMs: 100, JitterMs: 20, Distribution: Normal}, &fixedSource{normal: 1.5})
	assert.Equal(t, 130.0, s.SampleMs())

	neg := NewSampler(Config{BaseMs: 10, JitterMs: 20, Distribution: Normal}, &fixedSource{normal: -3})
	assert.Equal(t, 0.0, neg.SampleMs())
}

func TestSampler_DefaultDistributionIsNormal(t *testing.T) {
	s := NewSampler(Config{BaseMs: 10, JitterMs: 1}, &fixedSource{uniform: 0.99, normal: 2})
	assert.Equal(t, 12.0, s.SampleMs())
}

func TestSampler_NeverNegative(t *testing.T) {
	for _, dist := range []Distribution{Normal, Uniform} {
		s := NewSampler(Config{BaseMs: 1, JitterMs: 50, Distribution: dist}, NewSource(42))
		for i := 0; i < 10000; i++ {
			require.GreaterOrEqual(t, s.SampleMs(), 0.0)
		}
	}
}

func TestNewSource_Seeded(t *testing.T) {
	a := NewSampler(Config{BaseMs: 30, JitterMs: 10, Distribution: Normal}, NewSource(7))
	b := NewSampler(Config{BaseMs: 30, JitterMs: 10, Distribution: Normal}, NewSource(7))

	for i := 0; i < 100; i++ {
		assert.Equal(t, a.SampleMs(), b.SampleMs())
	}
}
