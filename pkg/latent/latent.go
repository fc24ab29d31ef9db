// Package latent draws latent codes and applies style truncation.
package latent

import (
	"fmt"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/nekomi2/LiftedGAN/pkg/tensor"
)

// Sampler draws i.i.d. standard normal latent vectors from a single seeded
// stream. Rows are drawn in order, so sample k receives the same vector
// regardless of how the samples are split into batches.
type Sampler struct {
	dist distuv.Normal
	seed uint64
}

// NewSampler creates a sampler seeded with seed.
func NewSampler(seed uint64) *Sampler {
	return &Sampler{
		dist: distuv.Normal{
			Mu:    0,
			Sigma: 1,
			Src:   rand.NewPCG(seed, seed^0x9e3779b97f4a7c15),
		},
		seed: seed,
	}
}

// Seed returns the seed the sampler was created with.
func (s *Sampler) Seed() uint64 {
	return s.seed
}

// Sample returns a (b, d) tensor of N(0,1) draws.
func (s *Sampler) Sample(b, d int) *tensor.Tensor {
	t := tensor.New(b, d)
	data := t.Data()
	for i := range data {
		data[i] = s.dist.Rand()
	}
	return t
}

// Truncate returns t*style + (1-t)*mean for every row of the (B, S) style
// batch. mean has shape (S). The input is not modified. t=1 returns an
// exact copy of style and t=0 returns exact copies of mean.
func Truncate(style, mean *tensor.Tensor, t float64) (*tensor.Tensor, error) {
	if !(t >= 0 && t <= 1) {
		return nil, fmt.Errorf("truncation %v outside [0,1]", t)
	}
	if style.Rank() != 2 || mean.Rank() != 1 || style.Dim(1) != mean.Dim(0) {
		return nil, fmt.Errorf("truncation shape mismatch: style %v, mean %v", style.Shape(), mean.Shape())
	}

	out := style.Clone()
	if t == 1 {
		return out, nil
	}
	s := style.Dim(1)
	data := out.Data()
	m := mean.Data()
	for b := 0; b < style.Dim(0); b++ {
		row := data[b*s : (b+1)*s]
		if t == 0 {
			copy(row, m)
			continue
		}
		floats.Scale(t, row)
		floats.AddScaled(row, 1-t, m)
	}
	return out, nil
}
