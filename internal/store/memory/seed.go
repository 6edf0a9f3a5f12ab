package memory

import (
	"fmt"
	"time"

	"github.com/watermonitor/watermonitor/internal/station"
)

type demoStation struct {
	id, name, description string
	ph, temp, turbidity   float64
	tds                   float64
	lag                   time.Duration
}

var demoStations = []demoStation{
	{"unit_1", "River Intake", "Raw water inlet", 7.21, 21.4, 2.3, 182, 0},
	{"unit_2", "Treatment Outflow", "After filtration", 8.72, 23.0, 0.8, 240, 0},
	{"unit_3", "Reservoir North", "Storage basin", 7.05, 18.1, 6.4, 310, 2 * time.Hour},
}

// Seed fills s with demo stations holding a day of five-minute readings up
// to now, rendered in loc. One station stopped reporting two hours ago and
// one station holds only placeholders.
func Seed(s *Store, now time.Time, loc *time.Location) {
	if loc == nil {
		loc = time.Local
	}
	now = now.In(loc).Truncate(5 * time.Minute)

	for i, d := range demoStations {
		s.PutStation(d.id, station.Metadata{Name: d.name, Description: d.description})
		for step := 0; step < 24*12; step++ {
			at := now.Add(-d.lag - time.Duration(step)*5*time.Minute)
			wobble := float64((step+i)%7-3) / 10
			s.PutReading(d.id, station.TimestampKey(at), station.Reading{
				fmt.Sprintf("ph_%d", i+1):          d.ph + wobble/5,
				fmt.Sprintf("temperature_%d", i+1): d.temp + wobble,
				fmt.Sprintf("turbidity_%d", i+1):   d.turbidity + wobble/2,
				fmt.Sprintf("tds_%d", i+1):         fmt.Sprintf("%.0f", d.tds+wobble*10),
			})
		}
	}
	s.PutStation("unit_4", station.Metadata{Name: "Spare Probe"})
}
