// Package points buffers streamed points for a graph and persists them as
// JSON points files.
package points

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sync"

	"github.com/forcesim/forcesim-client/forcesim"
)

// Recorder collects the points a subscriber receives (goroutine-safe).
type Recorder struct {
	Name string

	mu     sync.Mutex
	points []forcesim.Point
}

// NewRecorder creates an empty recorder labelled name.
func NewRecorder(name string) *Recorder {
	return &Recorder{Name: name}
}

// AddPoints appends points in the order given.
func (r *Recorder) AddPoints(points []forcesim.Point) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.points = append(r.points, points...)
}

// Points returns a copy of the recorded points.
func (r *Recorder) Points() []forcesim.Point {
	r.mu.Lock()
	defer r.mu.Unlock()
	result := make([]forcesim.Point, len(r.points))
	copy(result, r.points)
	return result
}

// Reset discards the recorded points.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.points = nil
}

// Export writes the recorded points to path as [[timepoint, value], ...] and
// resets the recorder. On failure nothing is discarded.
func (r *Recorder) Export(path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	pts := r.points
	if pts == nil {
		pts = []forcesim.Point{}
	}
	data, err := json.Marshal(pts)
	if err != nil {
		return fmt.Errorf("marshaling points for %s: %w", r.Name, err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing points file: %w", err)
	}
	r.points = nil
	return nil
}

// LoadFile reads a points file written by Export.
func LoadFile(path string) ([]forcesim.Point, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading points file: %w", err)
	}
	var pts []forcesim.Point
	if err := json.Unmarshal(data, &pts); err != nil {
		return nil, fmt.Errorf("parsing points file %s: %w", path, err)
	}
	return pts, nil
}

// Summary describes a series of points.
type Summary struct {
	Count int
	First forcesim.Point
	Last  forcesim.Point
	Min   float64
	Max   float64
	Mean  float64
}

// Summarize computes a Summary. An empty series yields a zero Summary.
func Summarize(pts []forcesim.Point) Summary {
	if len(pts) == 0 {
		return Summary{}
	}
	s := Summary{
		Count: len(pts),
		First: pts[0],
		Last:  pts[len(pts)-1],
		Min:   math.Inf(1),
		Max:   math.Inf(-1),
	}
	sum := 0.0
	for _, p := range pts {
		s.Min = math.Min(s.Min, p.Value)
		s.Max = math.Max(s.Max, p.Value)
		sum += p.Value
	}
	s.Mean = sum / float64(len(pts))
	return s
}
