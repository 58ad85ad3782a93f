package board

import (
	"math"
	"time"
)

// Point is a position in CSS pixels.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func (p Point) distance(q Point) float64 {
	return math.Hypot(p.X-q.X, p.Y-q.Y)
}

// Activation is what a sensor has concluded about a gesture so far.
type Activation int

const (
	ActivationPending Activation = iota
	ActivationActive
	ActivationAborted
)

// Sensor decides when a press turns into a drag.
type Sensor interface {
	Begin(p Point, at time.Time)
	Track(p Point, at time.Time) Activation
}

// PointerSensor activates once the pointer has moved the activation
// distance away from where it was pressed.
type PointerSensor struct {
	distance float64
	origin   Point
	state    Activation
}

func NewPointerSensor(cfg Config) *PointerSensor {
	return &PointerSensor{distance: cfg.withDefaults().PointerActivationDistancePx}
}

func (s *PointerSensor) Begin(p Point, _ time.Time) {
	s.origin = p
	s.state = ActivationPending
}

func (s *PointerSensor) Track(p Point, _ time.Time) Activation {
	if s.state == ActivationPending && s.origin.distance(p) >= s.distance {
		s.state = ActivationActive
	}
	return s.state
}

// TouchSensor activates once a touch has been held for the delay without
// leaving the tolerance radius. Leaving it earlier aborts the gesture.
type TouchSensor struct {
	delay     time.Duration
	tolerance float64
	origin    Point
	start     time.Time
	state     Activation
}

func NewTouchSensor(cfg Config) *TouchSensor {
	cfg = cfg.withDefaults()
	return &TouchSensor{delay: cfg.TouchActivationDelay, tolerance: cfg.TouchMoveTolerancePx}
}

func (s *TouchSensor) Begin(p Point, at time.Time) {
	s.origin = p
	s.start = at
	s.state = ActivationPending
}

func (s *TouchSensor) Track(p Point, at time.Time) Activation {
	if s.state != ActivationPending {
		return s.state
	}
	if at.Sub(s.start) >= s.delay {
		s.state = ActivationActive
		return s.state
	}
	if s.origin.distance(p) > s.tolerance {
		s.state = ActivationAborted
	}
	return s.state
}
