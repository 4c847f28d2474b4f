package geofence

import (
	"fmt"
	"math"
	"time"
)

// Status is the derived classification of a status report.
type Status string

const (
	StatusOnDuty    Status = "on-duty"
	StatusIdle      Status = "idle"
	StatusOutOfZone Status = "out-of-zone"
)

// earthRadiusMeters is the mean Earth radius used for great-circle distance.
const earthRadiusMeters = 6371000.0

// Coordinate is a WGS84 point in decimal degrees.
type Coordinate struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Perimeter is a circular geofence an officer is expected to stay within.
type Perimeter struct {
	Center       Coordinate `json:"center"`
	RadiusMeters float64    `json:"radius_meters"`
}

// Report is the evaluator's view of a raw status report. It carries only the
// fields classification depends on, which keeps Classify replayable offline.
type Report struct {
	Coordinate Coordinate
	Timestamp  time.Time
}

// Evaluator classifies status reports against a deployment perimeter and the
// officer's prior report for the same deployment. It holds only thresholds,
// never clocks or stores: classification is a pure function of its inputs.
type Evaluator struct {
	idleThreshold   time.Duration
	movementEpsilon float64
}

// NewEvaluator creates an evaluator with the given idle threshold and
// movement epsilon (meters).
func NewEvaluator(idleThreshold time.Duration, movementEpsilon float64) *Evaluator {
	return &Evaluator{
		idleThreshold:   idleThreshold,
		movementEpsilon: movementEpsilon,
	}
}

// Classify derives the status of a report. Zone violations take precedence
// over idleness. prior is the officer's previous report for the same
// deployment and may be nil for the officer's first report, in which case the
// report can only be zone-checked.
func (e *Evaluator) Classify(report Report, perimeter Perimeter, prior *Report) (Status, []string) {
	distance := Distance(report.Coordinate, perimeter.Center)
	if distance > perimeter.RadiusMeters {
		return StatusOutOfZone, []string{
			fmt.Sprintf("position %.0fm from perimeter center, radius %.0fm", distance, perimeter.RadiusMeters),
		}
	}

	if prior != nil {
		moved := Distance(report.Coordinate, prior.Coordinate)
		elapsed := report.Timestamp.Sub(prior.Timestamp)
		if moved <= e.movementEpsilon && elapsed > e.idleThreshold {
			return StatusIdle, []string{
				fmt.Sprintf("moved %.1fm in %s, idle threshold %s", moved, elapsed.Round(time.Second), e.idleThreshold),
			}
		}
	}

	return StatusOnDuty, nil
}

// Distance returns the great-circle distance in meters between two
// coordinates, using the haversine formula.
func Distance(a, b Coordinate) float64 {
	lat1 := a.Latitude * math.Pi / 180
	lat2 := b.Latitude * math.Pi / 180
	dLat := (b.Latitude - a.Latitude) * math.Pi / 180
	dLng := (b.Longitude - a.Longitude) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)

	return 2 * earthRadiusMeters * math.Asin(math.Sqrt(h))
}
