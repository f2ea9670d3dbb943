package sensor

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// DefaultIIOPath is the raw voltage channel of the first IIO ADC
const DefaultIIOPath = "/sys/bus/iio/devices/iio:device0/in_voltage0_raw"

// IIOProbe reads the soil probe from a Linux IIO ADC channel
type IIOProbe struct {
	path string
}

// NewIIOProbe creates a probe over the sysfs file at path
func NewIIOProbe(path string) *IIOProbe {
	if path == "" {
		path = DefaultIIOPath
	}
	return &IIOProbe{path: path}
}

// ReadRawMoisture implements MoistureProbe
func (p *IIOProbe) ReadRawMoisture() (uint16, error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return 0, fmt.Errorf("read adc channel: %w", err)
	}
	v, err := strconv.ParseUint(strings.TrimSpace(string(data)), 10, 16)
	if err != nil {
		return 0, fmt.Errorf("parse adc value %q: %w", strings.TrimSpace(string(data)), err)
	}
	return uint16(v), nil
}
