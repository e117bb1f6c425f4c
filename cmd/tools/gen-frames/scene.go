package main

import (
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/banshee-data/presence.report/internal/tof/l1frames"
	"github.com/banshee-data/presence.report/internal/tof/l4perception"
)

// scene is a flat wall with one rectangular target standing in front of
// it for part of the sequence.
type scene struct {
	width, height int
	wallDepth     float64
	personDepth   float64
	person        l4perception.Box

	// walk moves the target this many columns per frame, wrapping at the
	// right edge.
	walk int

	// The target is present for frames in [enter, leave). leave <= 0 keeps
	// it until the end.
	enter, leave int

	noise *distuv.Normal
}

func newNoise(sigma float64, seed uint64) *distuv.Normal {
	if sigma <= 0 {
		return nil
	}
	return &distuv.Normal{Mu: 0, Sigma: sigma, Src: rand.NewPCG(seed, seed^0x5851f42d4c957f2d)}
}

func (s *scene) present(i int) bool {
	return i >= s.enter && (s.leave <= 0 || i < s.leave)
}

// personAt returns the target box for frame i.
func (s *scene) personAt(i int) l4perception.Box {
	b := s.person
	if s.walk != 0 {
		span := s.width - b.W + 1
		x := (b.X + (i-s.enter)*s.walk) % span
		if x < 0 {
			x += span
		}
		b.X = x
	}
	return b
}

// frame renders frame i in metres.
func (s *scene) frame(i int) *l1frames.DepthFrame {
	f := l1frames.NewDepthFrame(s.width, s.height)
	for j := range f.Data {
		f.Data[j] = s.wallDepth
	}
	if s.present(i) {
		b := s.personAt(i)
		for y := max(b.Y, 0); y < min(b.Y+b.H, s.height); y++ {
			for x := max(b.X, 0); x < min(b.X+b.W, s.width); x++ {
				f.Set(x, y, s.personDepth)
			}
		}
	}
	if s.noise != nil {
		for j, v := range f.Data {
			if d := v + s.noise.Rand(); d > 0 {
				f.Data[j] = d
			} else {
				f.Data[j] = 0
			}
		}
	}
	return f
}
