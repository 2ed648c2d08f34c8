package models

import (
	"time"
)

// Report sources stored alongside archived records
const (
	SourceSelf = "self"
	SourcePeer = "peer"
)

// ReportRecord is one archived status report, either ours or a peer's
type ReportRecord struct {
	Timestamp   time.Time `json:"timestamp"`
	DeviceID    string    `json:"device_id"`
	Temperature float64   `json:"temperature"`
	Lat         float64   `json:"lat"`
	Lon         float64   `json:"lon"`
	Hotspot     bool      `json:"hotspot"`
	Source      string    `json:"source"`
}
