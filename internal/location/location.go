// Package location encodes the location update carried as message content:
// {"location": [lat, lon], "version": n}, version being optional.
package location

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

// CurrentVersion is the version written by New.
const CurrentVersion = 1

// ErrInvalidLocation is returned for coordinates outside the valid range or
// a malformed body.
var ErrInvalidLocation = errors.New("invalid location")

// Message is one location update.
type Message struct {
	Location [2]float64 `json:"location"`
	Version  *int       `json:"version,omitempty"`
}

// New returns a validated message at the current version.
func New(lat, lon float64) (Message, error) {
	v := CurrentVersion
	m := Message{Location: [2]float64{lat, lon}, Version: &v}
	if err := m.Validate(); err != nil {
		return Message{}, err
	}
	return m, nil
}

// Latitude returns the first coordinate.
func (m Message) Latitude() float64 { return m.Location[0] }

// Longitude returns the second coordinate.
func (m Message) Longitude() float64 { return m.Location[1] }

// Validate checks latitude is in [-90, 90] and longitude in [-180, 180].
func (m Message) Validate() error {
	lat, lon := m.Latitude(), m.Longitude()
	switch {
	case math.IsNaN(lat) || math.IsNaN(lon):
		return fmt.Errorf("%w: not a number", ErrInvalidLocation)
	case lat < -90 || lat > 90:
		return fmt.Errorf("%w: latitude %v", ErrInvalidLocation, lat)
	case lon < -180 || lon > 180:
		return fmt.Errorf("%w: longitude %v", ErrInvalidLocation, lon)
	}
	return nil
}

// Encode returns the message as the string handed to the encryption core.
func (m Message) Encode() (string, error) {
	if err := m.Validate(); err != nil {
		return "", err
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Decode parses and validates content produced by Encode. The location
// array must hold exactly two numbers.
func Decode(content string) (Message, error) {
	var raw struct {
		Location []float64 `json:"location"`
		Version  *int      `json:"version"`
	}
	if err := json.Unmarshal([]byte(content), &raw); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrInvalidLocation, err)
	}
	if len(raw.Location) != 2 {
		return Message{}, fmt.Errorf("%w: %d coordinates", ErrInvalidLocation, len(raw.Location))
	}
	m := Message{Location: [2]float64{raw.Location[0], raw.Location[1]}, Version: raw.Version}
	if err := m.Validate(); err != nil {
		return Message{}, err
	}
	return m, nil
}

// String formats the coordinates for display.
func (m Message) String() string {
	return fmt.Sprintf("%.6f,%.6f", m.Latitude(), m.Longitude())
}
