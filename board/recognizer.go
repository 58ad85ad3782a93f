package board

import (
	"errors"
	"time"
)

type InputKind string

const (
	InputPointer InputKind = "pointer"
	InputTouch   InputKind = "touch"
)

type Phase string

const (
	PhaseDown   Phase = "down"
	PhaseMove   Phase = "move"
	PhaseUp     Phase = "up"
	PhaseCancel Phase = "cancel"
)

// Input is one raw gesture event. EntityID is the entity under the press;
// TargetID is whatever the pointer is currently over, either a column key or
// another entity.
type Input struct {
	Kind     InputKind `json:"kind"`
	Phase    Phase     `json:"phase"`
	X        float64   `json:"x"`
	Y        float64   `json:"y"`
	At       time.Time `json:"at"`
	EntityID string    `json:"entityId"`
	TargetID string    `json:"targetId"`
}

// Gesture is what the recognizer made of an input.
type Gesture string

const (
	GestureNone      Gesture = "none"
	GestureClick     Gesture = "click"
	GestureScroll    Gesture = "scroll"
	GestureDragStart Gesture = "drag-start"
	GestureHover     Gesture = "hover"
	GestureDrop      Gesture = "drop"
	GestureCancel    Gesture = "cancel"
)

type Outcome struct {
	Gesture  Gesture `json:"gesture"`
	EntityID string  `json:"entityId,omitempty"`
	Result   Result  `json:"-"`
}

type press int

const (
	released press = iota
	pressed
	dragging
	scrolling
)

// Recognizer turns raw inputs into drag calls on a Controller. A press that
// never activates its sensor is reported as a click when released.
type Recognizer struct {
	cfg    Config
	ctrl   *Controller
	sensor Sensor
	press  press
	entity string
	target string
}

func NewRecognizer(cfg Config, ctrl *Controller) *Recognizer {
	return &Recognizer{cfg: cfg.withDefaults(), ctrl: ctrl}
}

func (r *Recognizer) Handle(in Input) (Outcome, error) {
	p := Point{X: in.X, Y: in.Y}
	switch in.Phase {
	case PhaseDown:
		if r.press == dragging {
			return Outcome{Gesture: GestureNone}, nil
		}
		if in.EntityID == "" {
			r.reset()
			return Outcome{Gesture: GestureNone}, nil
		}
		r.sensor = r.sensorFor(in.Kind)
		r.sensor.Begin(p, in.At)
		r.press = pressed
		r.entity = in.EntityID
		return Outcome{Gesture: GestureNone, EntityID: r.entity}, nil

	case PhaseMove:
		switch r.press {
		case pressed:
			switch r.sensor.Track(p, in.At) {
			case ActivationActive:
				if err := r.ctrl.DragStart(r.entity); err != nil {
					r.reset()
					return Outcome{Gesture: GestureNone}, err
				}
				r.press = dragging
				if err := r.over(in.TargetID); err != nil {
					return Outcome{Gesture: GestureDragStart, EntityID: r.entity}, err
				}
				return Outcome{Gesture: GestureDragStart, EntityID: r.entity}, nil
			case ActivationAborted:
				r.press = scrolling
				return Outcome{Gesture: GestureScroll, EntityID: r.entity}, nil
			}
		case dragging:
			if err := r.over(in.TargetID); err != nil {
				return Outcome{Gesture: GestureNone, EntityID: r.entity}, err
			}
			return Outcome{Gesture: GestureHover, EntityID: r.entity}, nil
		}
		return Outcome{Gesture: GestureNone, EntityID: r.entity}, nil

	case PhaseUp:
		id, state, target := r.entity, r.press, r.target
		r.reset()
		switch state {
		case pressed:
			return Outcome{Gesture: GestureClick, EntityID: id}, nil
		case dragging:
			if err := r.hover(id, target, in.TargetID); err != nil {
				// The release must always end the session.
				res, cerr := r.ctrl.Cancel()
				if cerr != nil {
					return Outcome{Gesture: GestureNone, EntityID: id}, errors.Join(err, cerr)
				}
				return Outcome{Gesture: GestureCancel, EntityID: id, Result: res}, err
			}
			res, err := r.ctrl.DragEnd(id, in.TargetID)
			if err != nil {
				return Outcome{Gesture: GestureNone, EntityID: id}, err
			}
			if res.Cancelled {
				return Outcome{Gesture: GestureCancel, EntityID: id, Result: res}, nil
			}
			return Outcome{Gesture: GestureDrop, EntityID: id, Result: res}, nil
		}
		return Outcome{Gesture: GestureNone, EntityID: id}, nil

	case PhaseCancel:
		id, state := r.entity, r.press
		r.reset()
		if state == dragging {
			res, err := r.ctrl.Cancel()
			if err != nil {
				return Outcome{Gesture: GestureNone, EntityID: id}, err
			}
			return Outcome{Gesture: GestureCancel, EntityID: id, Result: res}, nil
		}
		return Outcome{Gesture: GestureNone, EntityID: id}, nil
	}
	return Outcome{Gesture: GestureNone}, errors.New("unknown input phase " + string(in.Phase))
}

// Dragging reports whether the recognizer currently owns a drag.
func (r *Recognizer) Dragging() bool { return r.press == dragging }

// over hovers the current target when it changed since the last input.
func (r *Recognizer) over(target string) error {
	err := r.hover(r.entity, r.target, target)
	if target != "" {
		r.target = target
	}
	return err
}

// hover fires DragOver only when the pointer enters a new target. Self and
// unknown targets are ignored.
func (r *Recognizer) hover(id, last, target string) error {
	if target == "" || target == last || target == id {
		return nil
	}
	err := r.ctrl.DragOver(id, target)
	if errors.Is(err, ErrUnknownTarget) {
		return nil
	}
	return err
}

func (r *Recognizer) sensorFor(kind InputKind) Sensor {
	if kind == InputTouch {
		return NewTouchSensor(r.cfg)
	}
	return NewPointerSensor(r.cfg)
}

func (r *Recognizer) reset() {
	r.press = released
	r.entity = ""
	r.target = ""
	r.sensor = nil
}
