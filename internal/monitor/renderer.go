// Package monitor serves the live simulation state, sweep progress and
// result charts over HTTP.
package monitor

import (
	"sync"

	"github.com/banshee-data/ringroad/internal/sim"
)

// Renderer keeps the most recent frame of the running scenario. It
// implements sim.Observer and is safe to read from HTTP handlers while the
// simulation writes to it.
type Renderer struct {
	pixelsPerUnit float64

	mu     sync.RWMutex
	latest *sim.Frame
	frames uint64
}

// NewRenderer creates a renderer drawing positions at pixelsPerUnit.
func NewRenderer(pixelsPerUnit float64) *Renderer {
	return &Renderer{pixelsPerUnit: pixelsPerUnit}
}

// ObserveFrame stores f as the latest frame. The driver hands over a copy
// of the vehicles, so f is kept as is.
func (r *Renderer) ObserveFrame(f sim.Frame) {
	r.mu.Lock()
	r.latest = &f
	r.frames++
	r.mu.Unlock()
}

// Scene is a frame as drawn on screen.
type Scene struct {
	sim.Frame
	PixelX      []float64 `json:"pixel_x"`
	SeamPixel   float64   `json:"seam_pixel"`
	UsablePixel float64   `json:"usable_pixel"`
	FramesSeen  uint64    `json:"frames_seen"`
}

// Latest returns the current scene. ok is false before the first frame.
func (r *Renderer) Latest() (scene Scene, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.latest == nil {
		return Scene{}, false
	}
	f := *r.latest
	f.Vehicles = append([]sim.Vehicle(nil), r.latest.Vehicles...)

	scene = Scene{
		Frame:       f,
		PixelX:      make([]float64, len(f.Vehicles)),
		SeamPixel:   f.Road.Seam * r.pixelsPerUnit,
		UsablePixel: f.Road.Usable * r.pixelsPerUnit,
		FramesSeen:  r.frames,
	}
	for i, v := range f.Vehicles {
		scene.PixelX[i] = v.Position * r.pixelsPerUnit
	}
	return scene, true
}
