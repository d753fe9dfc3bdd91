// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package delay samples the latency injected in front of each forwarded datagram.
package delay

import (
	"fmt"
	"math"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/absmach/udpcap/pkg/errors"
)

// Distribution is the probability law used to draw a delay.
type Distribution string

const (
	// Normal draws from a Gaussian with mean Base and standard deviation Jitter.
	Normal Distribution = "normal"

	// Uniform draws uniformly from [Base-Jitter, Base+Jitter].
	Uniform Distribution = "uniform"
)

// ParseDistribution maps a configuration string to a Distribution.
func ParseDistribution(s string) (Distribution, error) {
	switch Distribution(strings.ToLower(strings.TrimSpace(s))) {
	case Normal:
		return Normal, nil
	case Uniform:
		return Uniform, nil
	default:
		return "", fmt.Errorf("%w: %q (expected normal or uniform)", errors.ErrInvalidDistribution, s)
	}
}

// Source is the randomness consumed by a Sampler.
// *rand.Rand from math/rand and math/rand/v2 both satisfy it.
type Source interface {
	// Float64 returns a value in [0.0, 1.0).
	Float64() float64

	// NormFloat64 returns a standard normally distributed value.
	NormFloat64() float64
}

// NewSource returns a PCG-backed Source. A zero seed picks a random one.
func NewSource(seed uint64) Source {
	if seed == 0 {
		seed = rand.Uint64()
	}
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// Config holds the delay parameters, in milliseconds.
type Config struct {
	// BaseMs is the mean (normal) or center (uniform) of the injected delay.
	BaseMs float64

	// JitterMs is the spread of the injected delay.
	JitterMs float64

	// Distribution selects the probability law. Defaults to Normal.
	Distribution Distribution
}

// Sampler draws non-negative delays from a configured distribution.
type Sampler struct {
	config Config
	src    Source
}

// NewSampler creates a sampler drawing from src.
func NewSampler(cfg Config, src Source) *Sampler {
	if cfg.Distribution == "" {
		cfg.Distribution = Normal
	}
	if src == nil {
		src = NewSource(0)
	}
	return &Sampler{
		config: cfg,
		src:    src,
	}
}

// Enabled reports whether the sampler can ever return a non-zero delay.
func (s *Sampler) Enabled() bool {
	return s.config.BaseMs > 0 || s.config.JitterMs > 0
}

// SampleMs returns the next delay in milliseconds. The result is never negative.
func (s *Sampler) SampleMs() float64 {
	base, jitter := s.config.BaseMs, s.config.JitterMs
	if base <= 0 && jitter <= 0 {
		return 0
	}
	if jitter <= 0 {
		return math.Max(0, base)
	}

	var ms float64
	switch s.config.Distribution {
	case Uniform:
		low := base - jitter
		ms = low + s.src.Float64()*(2*jitter)
	default:
		ms = base + s.src.NormFloat64()*jitter
	}
	return math.Max(0, ms)
}

// Sample returns the next delay as a duration.
func (s *Sampler) Sample() time.Duration {
	return Duration(s.SampleMs())
}

// Duration converts fractional milliseconds to a time.Duration.
func Duration(ms float64) time.Duration {
	return time.Duration(ms * float64(time.Millisecond))
}
