// Package rng provides the deterministic uniform generator and the Gaussian
// sampler that every simulation draws from.
//
// The generator is mulberry32: a 32-bit state advanced by a fixed Weyl
// increment and mixed with integer multiplies. Every operation is a wrapping
// uint32 operation, so any implementation of the same pipeline reproduces the
// sequence bit for bit. It is not suitable for security use.
package rng

// Source is a uniform generator on [0, 1).
type Source interface {
	Next() float64
}

// Mulberry32 is a seeded uniform generator. It is not safe for concurrent
// use; each simulator owns its own instance.
type Mulberry32 struct {
	state uint32
}

// NewMulberry32 returns a generator seeded with seed.
func NewMulberry32(seed uint32) *Mulberry32 {
	return &Mulberry32{state: seed}
}

// Seed restarts the sequence from seed. There is no other way to rewind.
func (g *Mulberry32) Seed(seed uint32) {
	g.state = seed
}

// State returns the current 32-bit state.
func (g *Mulberry32) State() uint32 {
	return g.state
}

// Uint32 advances the state and returns the next mixed 32-bit output.
func (g *Mulberry32) Uint32() uint32 {
	g.state += 0x6D2B79F5
	t := g.state
	t = (t ^ (t >> 15)) * (t | 1)
	t ^= t + (t^(t>>7))*(t|61)
	return t ^ (t >> 14)
}

// Next returns a uniform value in [0, 1). Dividing a uint32 by 2^32 is exact
// in float64.
func (g *Mulberry32) Next() float64 {
	return float64(g.Uint32()) / 4294967296.0
}
