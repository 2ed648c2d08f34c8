package models

import "github.com/ponytojas/go-mqtt-hotspot/internal/geo"

// Values used by the textual on/off fields of a status report
const (
	StateOn      = "ON"
	StateOff     = "OFF"
	RegulRunning = "RUNNING"
	RegulHalt    = "HALT"
)

// StatusReport is the full status message a node publishes on the shared topic
type StatusReport struct {
	Status     Status     `json:"status"`
	Location   Location   `json:"location"`
	Regul      Regul      `json:"regul"`
	Info       Info       `json:"info"`
	Net        Net        `json:"net"`
	ReportHost ReportHost `json:"reporthost"`
	Piscine    Piscine    `json:"piscine"`
}

type Status struct {
	Temperature float64 `json:"temperature"`
	Light       int     `json:"light"`
	Regul       string  `json:"regul"`
	Fire        bool    `json:"fire"`
	Heat        string  `json:"heat"`
	Cold        string  `json:"cold"`
	FanSpeed    int     `json:"fanspeed"`
}

type Location struct {
	Room    string    `json:"room"`
	GPS     geo.Point `json:"gps"`
	Address string    `json:"address"`
}

// Regul carries the low and high temperature thresholds
type Regul struct {
	LT float64 `json:"lt"`
	HT float64 `json:"ht"`
}

type Info struct {
	Ident string `json:"ident"`
	User  string `json:"user"`
	Loc   string `json:"loc"`
}

type Net struct {
	Uptime string `json:"uptime"`
	SSID   string `json:"ssid"`
	MAC    string `json:"mac"`
	IP     string `json:"ip"`
}

type ReportHost struct {
	TargetIP   string `json:"target_ip"`
	TargetPort int    `json:"target_port"`
	SP         int    `json:"sp"`
}

// Piscine holds the pool-area flags, including the hotspot election result
type Piscine struct {
	Occuped bool `json:"occuped"`
	Hotspot bool `json:"hotspot"`
}

// LocationReport announces where a node is, without any sensed values
type LocationReport struct {
	Location Location `json:"location"`
	Info     Info     `json:"info"`
}

// Message is one raw payload received from the transport
type Message struct {
	Topic   string
	Payload []byte
}

// OnOff renders a boolean as the ON/OFF strings used on the wire
func OnOff(v bool) string {
	if v {
		return StateOn
	}
	return StateOff
}
