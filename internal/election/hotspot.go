package election

import (
	"iter"
	"time"

	"github.com/ponytojas/go-mqtt-hotspot/internal/geo"
	"github.com/ponytojas/go-mqtt-hotspot/internal/models"
)

// Neighbors is the view of the neighbor registry the election needs
type Neighbors interface {
	ActiveNeighbors(now time.Time, maxAge time.Duration) iter.Seq[models.PeerRecord]
}

// Evaluate reports whether this node is the hotspot: no active neighbor within radiusKm
// of myLocation reports a temperature greater than or equal to myTemp.
func Evaluate(myTemp float64, myLocation geo.Point, radiusKm float64, neighbors Neighbors, now time.Time, maxAge time.Duration) bool {
	_, found := Contender(myTemp, myLocation, radiusKm, neighbors, now, maxAge)
	return !found
}

// Contender returns the first active neighbor in range that is at least as warm as myTemp.
// Ties go to the neighbor.
func Contender(myTemp float64, myLocation geo.Point, radiusKm float64, neighbors Neighbors, now time.Time, maxAge time.Duration) (models.PeerRecord, bool) {
	for p := range neighbors.ActiveNeighbors(now, maxAge) {
		if geo.DistanceKm(myLocation, p.Location) > radiusKm {
			continue
		}
		if p.Temperature >= myTemp {
			return p, true
		}
	}
	return models.PeerRecord{}, false
}
