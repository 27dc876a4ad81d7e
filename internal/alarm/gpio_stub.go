//go:build !linux || (!arm && !arm64)

package alarm

import "fmt"

func openLine(pin int) (line, error) {
	return nil, fmt.Errorf("alarm: gpio unsupported on this platform")
}
