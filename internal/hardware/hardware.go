// Package hardware exposes the machine as a list of items, each with a
// set of sensors refreshed by Update.
package hardware

import (
	"context"

	"codeberg.org/mutker/sysmetricsd/internal/errors"
)

// Type is the device type recorded on a component row.
type Type string

const (
	CPU       Type = "CPU"
	GPU       Type = "GPU"
	RAM       Type = "RAM"
	Mainboard Type = "Mainboard"
	Storage   Type = "Storage"
)

type SensorType int

const (
	Temperature SensorType = iota
	Power
	Clock
	Load
	Data
)

func (t SensorType) String() string {
	switch t {
	case Temperature:
		return "temperature"
	case Power:
		return "power"
	case Clock:
		return "clock"
	case Load:
		return "load"
	case Data:
		return "data"
	default:
		return "unknown"
	}
}

// Sensor is one reading. Value is nil when the sensor has not produced
// a value yet.
type Sensor struct {
	Name  string
	Type  SensorType
	Value *float64
}

// Item is one piece of hardware.
type Item interface {
	Type() Type
	Name() string
	// Identifier is unique within the machine, e.g. "/storage/sda".
	Identifier() string
	// Instance is the platform device handle used for inventory
	// lookups, e.g. "sda" or a GPU index.
	Instance() string
	// Update refreshes Sensors.
	Update(ctx context.Context) error
	Sensors() []Sensor
}

// Provider enumerates hardware items.
type Provider interface {
	Items(ctx context.Context) ([]Item, error)
}

// Providers concatenates the items of several providers. A failing
// provider does not hide the items of the others.
type Providers []Provider

func (p Providers) Items(ctx context.Context) ([]Item, error) {
	var (
		items []Item
		errs  []error
	)

	for _, provider := range p {
		found, err := provider.Items(ctx)
		if err != nil {
			errs = append(errs, errors.New().Wrap(ErrUnavailable, err))
		}
		items = append(items, found...)
	}

	return items, errors.Join(errs...)
}

const ErrUnavailable = errors.ErrUnavailable

func value(v float64) *float64 {
	return &v
}
