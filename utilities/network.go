package utilities

import (
	"fmt"
	"net"
)

// Local address and interface enumeration for mDNS record building

// MARK: MulticastInterfaces
// Lists interfaces that are up and multicast-capable, optionally restricted
// to a single interface named by pin or owning the pinned IP address.
func MulticastInterfaces(pin string) ([]net.Interface, error) {
	interfaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	pinIP := net.ParseIP(pin)

	var result []net.Interface
	for _, iface := range interfaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagMulticast == 0 {
			continue
		}
		if pin != "" {
			if pinIP != nil {
				if !interfaceHasIP(iface, pinIP) {
					continue
				}
			} else if iface.Name != pin {
				continue
			}
		}
		result = append(result, iface)
	}

	if len(result) == 0 {
		if pin != "" {
			return nil, fmt.Errorf("no multicast-capable interface matches %q", pin)
		}
		return nil, fmt.Errorf("no multicast-capable interfaces")
	}
	return result, nil
}

// MARK: interfaceHasIP
// Reports whether the interface owns the given IP address.
func interfaceHasIP(iface net.Interface, ip net.IP) bool {
	addrs, err := iface.Addrs()
	if err != nil {
		return false
	}
	for _, addr := range addrs {
		if ipnet, ok := addr.(*net.IPNet); ok && ipnet.IP.Equal(ip) {
			return true
		}
	}
	return false
}

// MARK: AdvertiseIPs
// Collects the addresses to publish in A/AAAA records, IPv4 first then IPv6,
// skipping loopback and link-down interfaces. pin restricts the scan the same
// way as MulticastInterfaces.
func AdvertiseIPs(pin string) ([]net.IP, error) {
	interfaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	pinIP := net.ParseIP(pin)

	var v4s []net.IP
	var v6s []net.IP

	for _, iface := range interfaces {
		if iface.Flags&net.FlagLoopback != 0 || iface.Flags&net.FlagUp == 0 {
			continue
		}
		if pin != "" && pinIP == nil && iface.Name != pin {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}

		for _, addr := range addrs {
			ipnet, ok := addr.(*net.IPNet)
			if !ok || ipnet.IP.IsLoopback() {
				continue
			}
			if pinIP != nil && !ipnet.IP.Equal(pinIP) {
				continue
			}
			if ipv4 := ipnet.IP.To4(); ipv4 != nil {
				v4s = append(v4s, ipv4)
			} else if ipnet.IP.To16() != nil && !ipnet.IP.IsLinkLocalUnicast() {
				v6s = append(v6s, ipnet.IP)
			}
		}
	}

	all := append(v4s, v6s...)
	if len(all) == 0 {
		return nil, fmt.Errorf("no publishable addresses found")
	}
	return all, nil
}
