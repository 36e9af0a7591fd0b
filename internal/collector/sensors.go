package collector

import (
	"strings"

	"codeberg.org/mutker/sysmetricsd/internal/hardware"
)

// readings are the statistic values extracted from an item's sensors.
type readings struct {
	temperature float64
	usage       float64
	power       *float64
	coreClock   *float64
	memoryClock *float64
	vram        *int64
}

// extract folds sensors into readings. Sensors without a value are
// skipped and for each field the last sensor wins. Clock sensors are
// told apart by name: "Core" is the core clock, "Memory" the memory
// clock. A data sensor named "GPU Memory..." carries VRAM in MB.
func extract(sensors []hardware.Sensor) readings {
	var r readings

	for _, s := range sensors {
		if s.Value == nil {
			continue
		}
		v := *s.Value

		switch s.Type {
		case hardware.Temperature:
			r.temperature = v
		case hardware.Power:
			r.power = &v
		case hardware.Load:
			r.usage = v
		case hardware.Clock:
			switch {
			case strings.Contains(s.Name, "Core"):
				r.coreClock = &v
			case strings.Contains(s.Name, "Memory"):
				r.memoryClock = &v
			}
		case hardware.Data:
			if strings.Contains(s.Name, "GPU Memory") {
				mb := int64(v)
				r.vram = &mb
			}
		}
	}

	return r
}
