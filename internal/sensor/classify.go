// Package sensor samples the node's environmental and soil moisture sensors
// and classifies each reading.
package sensor

import (
	"errors"
	"fmt"
)

// Soil probe calibration for the capacitive sensor on the 12-bit ADC
const (
	MaxDry uint16 = 1300 // raw value of dry soil
	MaxWet uint16 = 2800 // raw value of saturated soil

	// NotConnectedBelow is the hardware noise floor of an unplugged probe
	NotConnectedBelow uint16 = 1000

	moistureRange = float64(MaxWet - MaxDry)
)

// ErrSensorNotConnected is returned for raw readings under the noise floor
var ErrSensorNotConnected = errors.New("soil moisture sensor not connected")

// MoisturePercent maps a raw probe value to 0-100 %. Values outside
// [MaxDry, MaxWet] are clamped.
func MoisturePercent(raw uint16) (float64, error) {
	if raw < NotConnectedBelow {
		return 0, ErrSensorNotConnected
	}
	if raw < MaxDry {
		return 0, nil
	}
	if raw > MaxWet {
		return 100, nil
	}
	return float64(raw-MaxDry) / moistureRange * 100, nil
}

// SoilStatus is the soil moisture band
type SoilStatus uint8

const (
	SoilDry SoilStatus = iota + 1
	SoilOptimal
	SoilDamp
	SoilWet
)

func (s SoilStatus) String() string {
	switch s {
	case SoilDry:
		return "DRY"
	case SoilOptimal:
		return "OPTIMAL"
	case SoilDamp:
		return "DAMP"
	case SoilWet:
		return "WET"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(s))
	}
}

// MarshalText renders the status in JSON payloads
func (s SoilStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ClassifySoil bands a moisture percentage. A value on a boundary belongs
// to the higher band.
func ClassifySoil(pct float64) SoilStatus {
	switch {
	case pct < 20:
		return SoilDry
	case pct < 40:
		return SoilOptimal
	case pct < 55:
		return SoilDamp
	default:
		return SoilWet
	}
}

// HumidityStatus is the ambient relative humidity band
type HumidityStatus uint8

const (
	HumidityDry HumidityStatus = iota + 1
	HumidityOptimal
	HumidityMoist
	HumidityWet
)

func (h HumidityStatus) String() string {
	switch h {
	case HumidityDry:
		return "DRY"
	case HumidityOptimal:
		return "OPTIMAL"
	case HumidityMoist:
		return "MOIST"
	case HumidityWet:
		return "WET"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(h))
	}
}

func (h HumidityStatus) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

// ClassifyHumidity bands relative humidity in percent
func ClassifyHumidity(rh float64) HumidityStatus {
	switch {
	case rh < 30:
		return HumidityDry
	case rh < 50:
		return HumidityOptimal
	case rh < 70:
		return HumidityMoist
	default:
		return HumidityWet
	}
}

// TemperatureStatus is the ambient temperature band
type TemperatureStatus uint8

const (
	TemperatureFreezing TemperatureStatus = iota + 1
	TemperatureCold
	TemperatureOptimal
	TemperatureHot
)

func (t TemperatureStatus) String() string {
	switch t {
	case TemperatureFreezing:
		return "FREEZING"
	case TemperatureCold:
		return "COLD"
	case TemperatureOptimal:
		return "OPTIMAL"
	case TemperatureHot:
		return "HOT"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(t))
	}
}

func (t TemperatureStatus) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// ClassifyTemperature bands a temperature in °C
func ClassifyTemperature(c float64) TemperatureStatus {
	switch {
	case c < 0:
		return TemperatureFreezing
	case c < 18:
		return TemperatureCold
	case c < 25:
		return TemperatureOptimal
	default:
		return TemperatureHot
	}
}

// PressureStatus is the barometric pressure band
type PressureStatus uint8

const (
	PressureLow PressureStatus = iota + 1
	PressureOptimal
	PressureHigh
)

func (p PressureStatus) String() string {
	switch p {
	case PressureLow:
		return "LOW"
	case PressureOptimal:
		return "OPTIMAL"
	case PressureHigh:
		return "HIGH"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(p))
	}
}

func (p PressureStatus) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// ClassifyPressure bands a pressure in hPa
func ClassifyPressure(hpa float64) PressureStatus {
	switch {
	case hpa < 1000:
		return PressureLow
	case hpa < 1013:
		return PressureOptimal
	default:
		return PressureHigh
	}
}
