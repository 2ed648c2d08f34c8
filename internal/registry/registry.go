// Package registry tracks the last known state of every neighbor heard on the shared topic.
//
// The registry is owned by the node control loop and is not safe for concurrent use.
package registry

import (
	"iter"
	"time"

	"github.com/ponytojas/go-mqtt-hotspot/internal/geo"
	"github.com/ponytojas/go-mqtt-hotspot/internal/models"
)

// Registry maps peer identities to their last reported state
type Registry struct {
	self  string
	peers []models.PeerRecord
}

// New creates an empty registry for the node identified by self
func New(self string) *Registry {
	return &Registry{self: self}
}

// Upsert inserts or overwrites the record for ident.
// Reports carrying our own identity are ignored and Upsert returns false.
func (r *Registry) Upsert(ident string, location geo.Point, temperature float64, now time.Time) bool {
	if ident == r.self {
		return false
	}

	if i := r.indexOf(ident); i >= 0 {
		r.peers[i].Location = location
		r.peers[i].Temperature = temperature
		r.peers[i].LastSeenAt = now
		return true
	}

	r.peers = append(r.peers, models.PeerRecord{
		Ident:       ident,
		Location:    location,
		Temperature: temperature,
		LastSeenAt:  now,
	})
	return true
}

// UpdateLocation moves an already known peer without refreshing its last seen time.
// Unknown identities are not created.
func (r *Registry) UpdateLocation(ident string, location geo.Point) bool {
	if ident == r.self {
		return false
	}
	i := r.indexOf(ident)
	if i < 0 {
		return false
	}
	r.peers[i].Location = location
	return true
}

// ActiveNeighbors yields every record seen within maxAge of now.
// The sequence can be ranged over more than once; each pass reflects the current contents.
func (r *Registry) ActiveNeighbors(now time.Time, maxAge time.Duration) iter.Seq[models.PeerRecord] {
	return func(yield func(models.PeerRecord) bool) {
		for _, p := range r.peers {
			if now.Sub(p.LastSeenAt) > maxAge {
				continue
			}
			if !yield(p) {
				return
			}
		}
	}
}

// Sweep deletes records older than evictAfter and returns how many were removed
func (r *Registry) Sweep(now time.Time, evictAfter time.Duration) int {
	kept := r.peers[:0]
	removed := 0
	for _, p := range r.peers {
		if now.Sub(p.LastSeenAt) > evictAfter {
			removed++
			continue
		}
		kept = append(kept, p)
	}
	clear(r.peers[len(kept):])
	r.peers = kept
	return removed
}

// Len returns the number of records, stale ones included
func (r *Registry) Len() int {
	return len(r.peers)
}

// Get returns the record for ident, if any
func (r *Registry) Get(ident string) (models.PeerRecord, bool) {
	if i := r.indexOf(ident); i >= 0 {
		return r.peers[i], true
	}
	return models.PeerRecord{}, false
}

func (r *Registry) indexOf(ident string) int {
	for i := range r.peers {
		if r.peers[i].Ident == ident {
			return i
		}
	}
	return -1
}
