package sensor

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMoisturePercent(t *testing.T) {
	tests := []struct {
		name string
		raw  uint16
		want float64
	}{
		{"noise floor", 1000, 0},
		{"below dry clamps", 1200, 0},
		{"dry", 1300, 0},
		{"midpoint", 2050, 50},
		{"wet", 2800, 100},
		{"above wet clamps", 4095, 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := MoisturePercent(tt.raw)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestMoisturePercentNotConnected(t *testing.T) {
	for _, raw := range []uint16{0, 500, 999} {
		_, err := MoisturePercent(raw)
		assert.ErrorIs(t, err, ErrSensorNotConnected, "raw %d", raw)
	}
}

func TestMoisturePercentMonotonicAndBounded(t *testing.T) {
	prev := -1.0
	for raw := uint16(1000); raw <= 4095; raw++ {
		pct, err := MoisturePercent(raw)
		require.NoError(t, err)
		require.GreaterOrEqual(t, pct, 0.0)
		require.LessOrEqual(t, pct, 100.0)
		require.GreaterOrEqual(t, pct, prev, "not monotonic at raw %d", raw)
		prev = pct
	}
}

func TestClassifySoil(t *testing.T) {
	tests := []struct {
		pct  float64
		want SoilStatus
	}{
		{0, SoilDry},
		{19.99, SoilDry},
		{20, SoilOptimal},
		{39.99, SoilOptimal},
		{40, SoilDamp},
		{54.99, SoilDamp},
		{55, SoilWet},
		{100, SoilWet},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, ClassifySoil(tt.pct), "pct %v", tt.pct)
	}
}

func TestClassifyHumidity(t *testing.T) {
	assert.Equal(t, HumidityDry, ClassifyHumidity(29.9))
	assert.Equal(t, HumidityOptimal, ClassifyHumidity(30))
	assert.Equal(t, HumidityMoist, ClassifyHumidity(50))
	assert.Equal(t, HumidityMoist, ClassifyHumidity(65))
	assert.Equal(t, HumidityWet, ClassifyHumidity(70))
}

func TestClassifyTemperatureAndPressure(t *testing.T) {
	assert.Equal(t, TemperatureFreezing, ClassifyTemperature(-0.5))
	assert.Equal(t, TemperatureCold, ClassifyTemperature(0))
	assert.Equal(t, TemperatureOptimal, ClassifyTemperature(18))
	assert.Equal(t, TemperatureHot, ClassifyTemperature(25))

	assert.Equal(t, PressureLow, ClassifyPressure(999.9))
	assert.Equal(t, PressureOptimal, ClassifyPressure(1000))
	assert.Equal(t, PressureHigh, ClassifyPressure(1013))
}

func TestStatusJSON(t *testing.T) {
	pct := 50.0
	r := Reading{SoilMoisture: &pct, SoilStatus: SoilDamp, SoilProbe: ProbeOK, HumidityStatus: HumidityMoist}

	data, err := json.Marshal(r)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"soil_status":"DAMP"`)
	assert.Contains(t, string(data), `"humidity_status":"MOIST"`)
	assert.Contains(t, string(data), `"soil_probe":"ok"`)
	assert.NotContains(t, string(data), "temperature_c")
}
