// Package netutil implements the CLI's address auto-detection fallback
// chain: prefer a private-range interface, then any
// non-loopback interface, then a caller-supplied last resort.
package netutil

import "net"

// isPrivate reports whether ip falls in one of the RFC 1918 private
// ranges (IPv4) or the unique local range (IPv6).
func isPrivate(ip net.IP) bool {
	if ip4 := ip.To4(); ip4 != nil {
		switch {
		case ip4[0] == 10:
			return true
		case ip4[0] == 172 && ip4[1] >= 16 && ip4[1] <= 31:
			return true
		case ip4[0] == 192 && ip4[1] == 168:
			return true
		}
		return false
	}
	return len(ip) == net.IPv6len && ip[0]&0xfe == 0xfc
}

// DetectAddress picks a local IPv4 address to advertise: the first
// private-range address found on any up, non-loopback interface; failing
// that, the first non-loopback address of any kind; failing that,
// fallback.
func DetectAddress(fallback string) string {
	ifaces, err := net.Interfaces()
	if err != nil {
		return fallback
	}

	var firstNonLoopback string
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			ipNet, ok := a.(*net.IPNet)
			if !ok || ipNet.IP.IsLoopback() {
				continue
			}
			ip4 := ipNet.IP.To4()
			if ip4 == nil {
				continue
			}
			if firstNonLoopback == "" {
				firstNonLoopback = ip4.String()
			}
			if isPrivate(ip4) {
				return ip4.String()
			}
		}
	}

	if firstNonLoopback != "" {
		return firstNonLoopback
	}
	return fallback
}
