package board

import "time"

// Config holds the gesture thresholds of a board. It is copied at
// construction and never changes afterwards.
type Config struct {
	// PointerActivationDistancePx is how far a pressed pointer must travel
	// before the gesture counts as a drag rather than a click.
	PointerActivationDistancePx float64
	// TouchActivationDelay is how long a touch must be held before movement
	// starts a drag.
	TouchActivationDelay time.Duration
	// TouchMoveTolerancePx is how far a touch may wander during the delay
	// before it is treated as a scroll.
	TouchMoveTolerancePx float64
}

func DefaultConfig() Config {
	return Config{
		PointerActivationDistancePx: 10,
		TouchActivationDelay:        250 * time.Millisecond,
		TouchMoveTolerancePx:        5,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.PointerActivationDistancePx <= 0 {
		c.PointerActivationDistancePx = d.PointerActivationDistancePx
	}
	if c.TouchActivationDelay <= 0 {
		c.TouchActivationDelay = d.TouchActivationDelay
	}
	if c.TouchMoveTolerancePx <= 0 {
		c.TouchMoveTolerancePx = d.TouchMoveTolerancePx
	}
	return c
}
