// Package timeutil provides duration rounding and formatting for
// human-readable schedule display.
package timeutil

import "time"

type Accuracy int

const (
	AccuracyMinutes Accuracy = iota
	AccuracySeconds
)

type Direction int

const (
	DirectionDown Direction = iota
	DirectionUp
)

// Round rounds d for display and returns the rounded duration plus the
// remainder that was dropped (or, when rounding up, the amount added until
// the next boundary). Durations of a day or more round to whole hours,
// durations of an hour or more (or minute accuracy) to whole minutes, and
// anything shorter to whole seconds.
func Round(d time.Duration, accuracy Accuracy, direction Direction) (time.Duration, time.Duration) {
	switch {
	case d >= 24*time.Hour:
		return roundTo(d, time.Hour, direction)
	case d >= time.Hour || accuracy == AccuracyMinutes:
		return roundTo(d, time.Minute, direction)
	default:
		return roundTo(d, time.Second, direction)
	}
}

func roundTo(d, unit time.Duration, direction Direction) (time.Duration, time.Duration) {
	rest := d % unit
	if rest == 0 {
		return d, 0
	}
	if direction == DirectionUp {
		return d - rest + unit, unit - rest
	}
	return d - rest, rest
}
