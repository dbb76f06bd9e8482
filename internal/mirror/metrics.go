package mirror

import (
	"context"
	"time"

	"github.com/dawidpodolak/panelsense-gateway/internal/entity"
)

// PointWriter is the subset of the InfluxDB client used for state history.
type PointWriter interface {
	WriteEntityState(domain, entityID string, fields map[string]any, ts time.Time)
}

// MetricsWriter records the numeric and boolean state of every event.
type MetricsWriter struct {
	w   PointWriter
	now func() time.Time
}

// NewMetricsWriter creates a MetricsWriter over w.
func NewMetricsWriter(w PointWriter) *MetricsWriter {
	return &MetricsWriter{w: w, now: time.Now}
}

// Observe writes the fields of e. Writes are batched by the client and
// never block.
func (m *MetricsWriter) Observe(_ context.Context, e entity.Entity) {
	fields := Fields(e)
	if len(fields) == 0 {
		return
	}
	m.w.WriteEntityState(string(e.Domain()), e.ID(), fields, m.now())
}

// Fields extracts the recorded fields of e. Unset attributes are skipped.
func Fields(e entity.Entity) map[string]any {
	fields := map[string]any{}
	switch v := e.(type) {
	case entity.Light:
		if v.On != nil {
			fields["on"] = *v.On
		}
		if v.Brightness != nil {
			fields["brightness"] = *v.Brightness
		}
		if v.ColorTempKelvin != nil {
			fields["color_temp_kelvin"] = *v.ColorTempKelvin
		}
	case entity.Cover:
		if v.State != nil {
			fields["state"] = string(*v.State)
		}
		if v.Position != nil {
			fields["position"] = *v.Position
		}
		if v.TiltPosition != nil {
			fields["tilt_position"] = *v.TiltPosition
		}
	case entity.Switch:
		if v.On != nil {
			fields["on"] = *v.On
		}
	}
	return fields
}
