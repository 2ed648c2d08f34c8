package telemetry

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/ponytojas/go-mqtt-hotspot/internal/geo"
	"github.com/ponytojas/go-mqtt-hotspot/internal/models"
)

// ErrDecode is wrapped by every *DecodeError
var ErrDecode = errors.New("decode error")

// Reason classifies why an inbound message was dropped
type Reason string

const (
	ReasonMalformed    Reason = "malformed"
	ReasonMissingField Reason = "missing_field"
	ReasonInvalidField Reason = "invalid_field"
	ReasonSelf         Reason = "self"
)

// DecodeError reports a dropped inbound message
type DecodeError struct {
	Reason Reason
	Field  string
	Err    error
}

func (e *DecodeError) Error() string {
	var b strings.Builder
	b.WriteString("decode error: ")
	b.WriteString(string(e.Reason))
	if e.Field != "" {
		b.WriteString(" ")
		b.WriteString(e.Field)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *DecodeError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrDecode, e.Err}
	}
	return []error{ErrDecode}
}

// IsSelf reports whether err is a DecodeError raised for one of our own messages
func IsSelf(err error) bool {
	var de *DecodeError
	return errors.As(err, &de) && de.Reason == ReasonSelf
}

// Codec encodes and decodes status and location reports for one node
type Codec struct {
	self string
}

// NewCodec creates a codec that drops messages carrying the identity self
func NewCodec(self string) *Codec {
	return &Codec{self: self}
}

// required mirrors the mandatory keys of a report; pointers tell absent from zero
type required struct {
	Status *struct {
		Temperature *float64 `json:"temperature"`
	} `json:"status"`
	Location *struct {
		GPS *struct {
			Lat *float64 `json:"lat"`
			Lon *float64 `json:"lon"`
		} `json:"gps"`
	} `json:"location"`
	Info *struct {
		Ident *string `json:"ident"`
	} `json:"info"`
}

// EncodeStatus serialises a status report
func (c *Codec) EncodeStatus(r models.StatusReport) ([]byte, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("failed to encode status report: %w", err)
	}
	return b, nil
}

// EncodeLocation serialises a location report
func (c *Codec) EncodeLocation(r models.LocationReport) ([]byte, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("failed to encode location report: %w", err)
	}
	return b, nil
}

// DecodeStatus parses a status report. A report missing status, location or info,
// or carrying our own identity, is rejected as a whole. Optional fields that are absent
// or of the wrong type are left at their zero value.
func (c *Codec) DecodeStatus(payload []byte) (models.StatusReport, error) {
	var req required
	if err := json.Unmarshal(payload, &req); err != nil {
		return models.StatusReport{}, &DecodeError{Reason: ReasonMalformed, Err: err}
	}

	switch {
	case req.Status == nil:
		return models.StatusReport{}, missing("status")
	case req.Status.Temperature == nil:
		return models.StatusReport{}, missing("status.temperature")
	}
	if err := c.checkLocationAndInfo(&req); err != nil {
		return models.StatusReport{}, err
	}

	var raw blocks
	if err := json.Unmarshal(payload, &raw); err != nil {
		return models.StatusReport{}, &DecodeError{Reason: ReasonMalformed, Err: err}
	}

	var r models.StatusReport
	optional(raw.Status, fields{
		"light":    &r.Status.Light,
		"regul":    &r.Status.Regul,
		"fire":     &r.Status.Fire,
		"heat":     &r.Status.Heat,
		"cold":     &r.Status.Cold,
		"fanspeed": &r.Status.FanSpeed,
	})
	optional(raw.Regul, fields{"lt": &r.Regul.LT, "ht": &r.Regul.HT})
	optional(raw.Net, fields{
		"uptime": &r.Net.Uptime,
		"ssid":   &r.Net.SSID,
		"mac":    &r.Net.MAC,
		"ip":     &r.Net.IP,
	})
	optional(raw.ReportHost, fields{
		"target_ip":   &r.ReportHost.TargetIP,
		"target_port": &r.ReportHost.TargetPort,
		"sp":          &r.ReportHost.SP,
	})
	optional(raw.Piscine, fields{"occuped": &r.Piscine.Occuped, "hotspot": &r.Piscine.Hotspot})

	r.Status.Temperature = *req.Status.Temperature
	r.Location, r.Info = locationAndInfo(&req, raw)
	return r, nil
}

// DecodeLocation parses a location report
func (c *Codec) DecodeLocation(payload []byte) (models.LocationReport, error) {
	var req required
	if err := json.Unmarshal(payload, &req); err != nil {
		return models.LocationReport{}, &DecodeError{Reason: ReasonMalformed, Err: err}
	}
	if err := c.checkLocationAndInfo(&req); err != nil {
		return models.LocationReport{}, err
	}

	var raw blocks
	if err := json.Unmarshal(payload, &raw); err != nil {
		return models.LocationReport{}, &DecodeError{Reason: ReasonMalformed, Err: err}
	}

	var r models.LocationReport
	r.Location, r.Info = locationAndInfo(&req, raw)
	return r, nil
}

// IsStatus reports whether payload looks like a status report rather than a location report
func IsStatus(payload []byte) bool {
	var probe struct {
		Status json.RawMessage `json:"status"`
	}
	if err := json.Unmarshal(payload, &probe); err != nil {
		return true
	}
	return probe.Status != nil
}

func (c *Codec) checkLocationAndInfo(req *required) error {
	switch {
	case req.Location == nil:
		return missing("location")
	case req.Location.GPS == nil:
		return missing("location.gps")
	case req.Location.GPS.Lat == nil:
		return missing("location.gps.lat")
	case req.Location.GPS.Lon == nil:
		return missing("location.gps.lon")
	case req.Info == nil:
		return missing("info")
	case req.Info.Ident == nil:
		return missing("info.ident")
	}

	if strings.TrimSpace(*req.Info.Ident) == "" {
		return &DecodeError{Reason: ReasonInvalidField, Field: "info.ident", Err: errors.New("empty identity")}
	}
	p := geo.Point{Lat: *req.Location.GPS.Lat, Lon: *req.Location.GPS.Lon}
	if !p.Valid() {
		return &DecodeError{Reason: ReasonInvalidField, Field: "location.gps", Err: fmt.Errorf("coordinates %v out of range", p)}
	}
	if *req.Info.Ident == c.self {
		return &DecodeError{Reason: ReasonSelf, Field: "info.ident"}
	}
	return nil
}

// blocks holds the top-level objects of a report undecoded
type blocks struct {
	Status     json.RawMessage `json:"status"`
	Location   json.RawMessage `json:"location"`
	Regul      json.RawMessage `json:"regul"`
	Info       json.RawMessage `json:"info"`
	Net        json.RawMessage `json:"net"`
	ReportHost json.RawMessage `json:"reporthost"`
	Piscine    json.RawMessage `json:"piscine"`
}

// fields maps a JSON key to the value it is decoded into
type fields map[string]any

// optional decodes each key of block into its destination, skipping keys that are
// absent or do not fit the destination type
func optional(block json.RawMessage, dst fields) {
	if len(block) == 0 {
		return
	}
	var values map[string]json.RawMessage
	if err := json.Unmarshal(block, &values); err != nil {
		return
	}
	for key, ptr := range dst {
		v, ok := values[key]
		if !ok {
			continue
		}
		if err := json.Unmarshal(v, ptr); err != nil {
			// a failed decode may leave a partial value behind
			reflect.ValueOf(ptr).Elem().SetZero()
		}
	}
}

// locationAndInfo combines the validated required values with the optional ones
func locationAndInfo(req *required, raw blocks) (models.Location, models.Info) {
	var loc models.Location
	var info models.Info
	optional(raw.Location, fields{"room": &loc.Room, "address": &loc.Address})
	optional(raw.Info, fields{"user": &info.User, "loc": &info.Loc})

	loc.GPS = geo.Point{Lat: *req.Location.GPS.Lat, Lon: *req.Location.GPS.Lon}
	info.Ident = *req.Info.Ident
	return loc, info
}

func missing(field string) error {
	return &DecodeError{Reason: ReasonMissingField, Field: field}
}
