// Package broadcast moves encoded frames over UDP broadcast: one long-lived
// Sender owned by the directory service and any number of Receivers owned
// by listener processes.
package broadcast

import (
	"fmt"
	"net"
)

const (
	DefaultSourcePort = 6668
	DefaultDestPort   = 6667

	// AutoAddress selects the directed broadcast address of every IPv4
	// interface instead of one fixed destination.
	AutoAddress = "auto"

	maxDatagramSize = 65536
)

var limitedBroadcast = net.IPv4bcast

// Config describes where frames are sent from and to.
type Config struct {
	SourcePort int `yaml:"source_port"`
	DestPort   int `yaml:"dest_port"`
	// Address is the destination IP, AutoAddress, or empty for the
	// limited broadcast address 255.255.255.255.
	Address string `yaml:"address"`
}

// directedBroadcast returns the broadcast address of the subnet ipNet
// belongs to.
func directedBroadcast(ipNet *net.IPNet) net.IP {
	ip := ipNet.IP.To4()
	mask := ipNet.Mask
	if ip == nil {
		return nil
	}
	if len(mask) == net.IPv6len {
		mask = mask[12:]
	}
	if len(mask) != net.IPv4len {
		return nil
	}
	bc := make(net.IP, net.IPv4len)
	for i := range bc {
		bc[i] = ip[i] | ^mask[i]
	}
	return bc
}

// interfaceBroadcasts lists the directed broadcast addresses of all global
// unicast IPv4 interface addresses, falling back to the limited broadcast
// address when there are none.
func interfaceBroadcasts() []net.IP {
	var dsts []net.IP
	addrs, err := net.InterfaceAddrs()
	if err == nil {
		for _, addr := range addrs {
			ipNet, ok := addr.(*net.IPNet)
			if !ok || !ipNet.IP.IsGlobalUnicast() || ipNet.IP.To4() == nil {
				continue
			}
			if bc := directedBroadcast(ipNet); bc != nil {
				dsts = append(dsts, bc)
			}
		}
	}
	if len(dsts) == 0 {
		dsts = append(dsts, limitedBroadcast)
	}
	return dsts
}

func resolveDestination(address string) (net.IP, error) {
	switch address {
	case "":
		return limitedBroadcast, nil
	case AutoAddress:
		return nil, nil
	}
	ip := net.ParseIP(address)
	if ip == nil || ip.To4() == nil {
		return nil, fmt.Errorf("broadcast: destination %q is not an IPv4 address", address)
	}
	return ip.To4(), nil
}
