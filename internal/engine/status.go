package engine

import (
	"fmt"
	"time"

	"github.com/agsys/field-node/internal/sensor"
	"github.com/agsys/field-node/internal/webhook"
)

// status builds the published message from the latest sensor reading
func (e *Engine) status() webhook.Status {
	s := webhook.Status{
		Level:     webhook.Info,
		Title:     fmt.Sprintf("%s status", e.config.NodeName),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		NodeID:    e.config.NodeID,
		BootID:    e.boot.ID.String(),
		Details: map[string]any{
			"Uptime": time.Since(e.boot.Started).Round(time.Second).String(),
			"Wi-Fi":  e.LinkState().String(),
		},
	}

	r, ok := e.sampler.Latest()
	if !ok {
		s.Message = "No sensor reading yet"
		return s
	}
	s.Level, s.Message = summarize(r)
	for k, v := range readingDetails(r) {
		s.Details[k] = v
	}
	return s
}

func summarize(r sensor.Reading) (webhook.Level, string) {
	switch r.SoilProbe {
	case sensor.ProbeNotConnected:
		return webhook.Warning, "Soil moisture sensor not connected"
	case sensor.ProbeFault:
		return webhook.Warning, "Soil moisture sensor read failed"
	case sensor.ProbeOK:
		return webhook.Info, fmt.Sprintf("Soil is %s", r.SoilStatus)
	default:
		return webhook.Info, "Sensors sampled"
	}
}

func readingDetails(r sensor.Reading) map[string]string {
	d := make(map[string]string)
	if r.Temperature != nil {
		d["Temperature"] = fmt.Sprintf("%.1f °C (%s)", *r.Temperature, r.TemperatureStatus)
	}
	if r.Humidity != nil {
		d["Humidity"] = fmt.Sprintf("%.1f %% (%s)", *r.Humidity, r.HumidityStatus)
	}
	if r.Pressure != nil {
		d["Pressure"] = fmt.Sprintf("%.1f hPa (%s)", *r.Pressure, r.PressureStatus)
	}
	if r.SoilMoisture != nil {
		d["Soil moisture"] = fmt.Sprintf("%.1f %% (%s)", *r.SoilMoisture, r.SoilStatus)
	}
	return d
}
