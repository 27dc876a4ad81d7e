package mavlink

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/bluenviron/gomavlib/v3"
)

const defaultBaud = 57600

func parseEndpoint(s string) (gomavlib.EndpointConf, error) {
	kind, rest, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok || rest == "" {
		return nil, fmt.Errorf("mavlink: endpoint %q: want kind:address", s)
	}
	switch kind {
	case "udp-server", "udp":
		return gomavlib.EndpointUDPServer{Address: rest}, nil
	case "udp-client":
		return gomavlib.EndpointUDPClient{Address: rest}, nil
	case "tcp-client":
		return gomavlib.EndpointTCPClient{Address: rest}, nil
	case "serial":
		dev, baudStr, hasBaud := strings.Cut(rest, ":")
		baud := defaultBaud
		if hasBaud {
			b, err := strconv.Atoi(baudStr)
			if err != nil || b <= 0 {
				return nil, fmt.Errorf("mavlink: endpoint %q: bad baud %q", s, baudStr)
			}
			baud = b
		}
		return gomavlib.EndpointSerial{Device: dev, Baud: baud}, nil
	}
	return nil, fmt.Errorf("mavlink: endpoint %q: unknown kind %q", s, kind)
}
