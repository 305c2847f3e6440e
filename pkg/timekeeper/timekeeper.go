package timekeeper

import (
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
)

type ElapsingStatus int

const (
	Running ElapsingStatus = 1
	Pause   ElapsingStatus = 2
)

// Elapsing measures time between checkpoints, excluding paused periods.
type Elapsing struct {
	clock      clockwork.Clock
	checkpoint time.Time

	carryOn time.Duration

	status ElapsingStatus
}

func NewElapsing() *Elapsing {
	return NewElapsingWithClock(clockwork.NewRealClock())
}

func NewElapsingWithClock(clock clockwork.Clock) *Elapsing {
	return &Elapsing{
		clock:      clock,
		checkpoint: clock.Now(),
		status:     Running,
	}
}

func (e *Elapsing) Pause() error {
	if e.status == Pause {
		return fmt.Errorf("elapsing is pause already")
	}

	e.carryOn = e.Report()
	e.status = Pause

	return nil
}

func (e *Elapsing) Resume() error {
	if e.status != Pause {
		return fmt.Errorf("elapsing is not pause")
	}

	e.checkpoint = e.clock.Now()
	e.status = Running

	return nil
}

func (e *Elapsing) Reset() error {
	e.status = Running
	e.carryOn = 0
	e.checkpoint = e.clock.Now()

	return nil
}

// Report returns the running time since the last report and starts a new interval.
func (e *Elapsing) Report() time.Duration {
	if e.status == Pause {
		return e.carryOn
	}

	now := e.clock.Now()
	total := now.Sub(e.checkpoint) + e.carryOn

	e.carryOn = time.Duration(0)
	e.checkpoint = now

	return total
}

// Lap is the time one named stage took.
type Lap struct {
	Stage    string
	Duration time.Duration
}

// Stopwatch records consecutive stages of one lifecycle.
type Stopwatch struct {
	elapse *Elapsing
	laps   []Lap
}

func NewStopwatch(clock clockwork.Clock) *Stopwatch {
	return &Stopwatch{elapse: NewElapsingWithClock(clock)}
}

// Lap closes the current stage under the given name.
func (s *Stopwatch) Lap(stage string) time.Duration {
	d := s.elapse.Report()
	s.laps = append(s.laps, Lap{Stage: stage, Duration: d})
	return d
}

func (s *Stopwatch) Laps() []Lap {
	out := make([]Lap, len(s.laps))
	copy(out, s.laps)
	return out
}

func (s *Stopwatch) Total() time.Duration {
	var total time.Duration
	for _, l := range s.laps {
		total += l.Duration
	}
	return total
}
