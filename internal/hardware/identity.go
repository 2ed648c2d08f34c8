package hardware

import (
	"net"
	"strings"

	"github.com/google/uuid"
)

// NetInfo describes the network interface used to derive the node identity
type NetInfo struct {
	MAC string
	IP  string
}

// Identity returns "node-<mac without colons>" for the first usable interface,
// or a random identity when no hardware address exists
func Identity(info NetInfo) string {
	if info.MAC == "" {
		return "node-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	}
	return "node-" + strings.ToLower(strings.ReplaceAll(info.MAC, ":", ""))
}

// LookupNetInfo finds the first up, non-loopback interface with a hardware address
func LookupNetInfo() NetInfo {
	ifaces, err := net.Interfaces()
	if err != nil {
		return NetInfo{}
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 || len(iface.HardwareAddr) == 0 {
			continue
		}
		info := NetInfo{MAC: strings.ToUpper(iface.HardwareAddr.String())}
		if addrs, err := iface.Addrs(); err == nil {
			for _, a := range addrs {
				if ipnet, ok := a.(*net.IPNet); ok && ipnet.IP.To4() != nil {
					info.IP = ipnet.IP.String()
					break
				}
			}
		}
		return info
	}
	return NetInfo{}
}
