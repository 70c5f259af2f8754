package sipua

import (
	"fmt"
	"net"
	"strconv"
)

// detectHostIP returns the first non-loopback IPv4 address of the host.
func detectHostIP() (string, error) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "", err
	}
	for _, addr := range addrs {
		ipnet, ok := addr.(*net.IPNet)
		if !ok {
			continue
		}
		if ip4 := ipnet.IP.To4(); ip4 != nil {
			if ip4.IsLoopback() || ip4[0] == 127 {
				continue
			}
			return ip4.String(), nil
		}
	}
	return "", fmt.Errorf("no non-loopback IPv4 address found")
}

// outboundIP returns the source address the OS would use to reach host:port.
// No packet is sent.
func outboundIP(host string, port int) (string, error) {
	conn, err := net.Dial("udp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return "", err
	}
	defer conn.Close()

	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok || addr.IP == nil {
		return "", fmt.Errorf("unexpected local address %v", conn.LocalAddr())
	}
	return addr.IP.String(), nil
}

// resolveLocalHost picks the address advertised in Via and Contact headers.
func resolveLocalHost(public, server string, port int) (string, error) {
	if public != "" {
		return public, nil
	}
	if ip, err := outboundIP(server, port); err == nil {
		return ip, nil
	}
	return detectHostIP()
}
