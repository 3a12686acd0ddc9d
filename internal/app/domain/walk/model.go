package walk

import (
	"errors"
	"time"
)

type Status string

const (
	StatusActive   Status = "ACTIVE"
	StatusInactive Status = "INACTIVE"
)

// Coordinate is a [lat, lng] pair as sent by the mobile client.
type Coordinate [2]float64

// Walk is one recorded walk. Index numbers a user's walks from 1 and is what clients see.
type Walk struct {
	ID          int64
	UserID      string
	Index       int
	StartAt     time.Time
	EndAt       time.Time
	Distance    float64
	Calorie     int
	Coordinates []Coordinate
	Status      Status
	CreatedAt   time.Time
}

// Validate checks the fields a client controls.
func (w Walk) Validate() error {
	var errs []error
	if w.StartAt.IsZero() || w.EndAt.IsZero() {
		errs = append(errs, errors.New("startAt and endAt are required"))
	} else if w.EndAt.Before(w.StartAt) {
		errs = append(errs, errors.New("endAt is before startAt"))
	}
	if w.Distance < 0 {
		errs = append(errs, errors.New("distance must not be negative"))
	}
	if w.Calorie < 0 {
		errs = append(errs, errors.New("calorie must not be negative"))
	}
	for _, c := range w.Coordinates {
		if c[0] < -90 || c[0] > 90 || c[1] < -180 || c[1] > 180 {
			errs = append(errs, errors.New("coordinate out of range"))
			break
		}
	}
	return errors.Join(errs...)
}

// Duration is the walking time.
func (w Walk) Duration() time.Duration {
	return w.EndAt.Sub(w.StartAt)
}
