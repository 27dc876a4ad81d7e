// Package udp sends one JSON datagram per published command to a ground
// station listener.
package udp

import (
	"encoding/json"
	"fmt"
	"net"
	"time"

	"skyferry/internal/command"
)

type udpConn interface {
	Write(p []byte) (int, error)
	Close() error
}

type resolveFunc func(network, address string) (*net.UDPAddr, error)
type dialFunc func(network string, laddr, raddr *net.UDPAddr) (udpConn, error)

// Frame is the downlink record for one control cycle.
type Frame struct {
	T      float64        `json:"t"`
	RunID  string         `json:"run_id,omitempty"`
	Mode   string         `json:"mode"`
	Stage  string         `json:"stage,omitempty"`
	X      float64        `json:"x"`
	Y      float64        `json:"y"`
	Z      float64        `json:"z"`
	Yaw    float64        `json:"yaw"`
	Flag   uint8          `json:"flag"`
	Source command.Source `json:"source"`
	Panic  bool           `json:"panic,omitempty"`
}

// NewFrame fills a frame from an arbitrated command.
func NewFrame(runID, mode, stage string, cmd command.Arbitrated, panicMode bool) Frame {
	stamp := cmd.Stamp
	if stamp.IsZero() {
		stamp = time.Now()
	}
	return Frame{
		T:      float64(stamp.UnixNano()) / 1e9,
		RunID:  runID,
		Mode:   mode,
		Stage:  stage,
		X:      cmd.X,
		Y:      cmd.Y,
		Z:      cmd.Z,
		Yaw:    cmd.Yaw,
		Flag:   cmd.Flag,
		Source: cmd.Source,
		Panic:  panicMode,
	}
}

type Downlink struct {
	dest string
	conn udpConn
}

func NewDownlink(dest string) (*Downlink, error) {
	return newDownlink(dest, net.ResolveUDPAddr, func(network string, laddr, raddr *net.UDPAddr) (udpConn, error) {
		return net.DialUDP(network, laddr, raddr)
	})
}

func newDownlink(dest string, resolve resolveFunc, dial dialFunc) (*Downlink, error) {
	addr, err := resolve("udp", dest)
	if err != nil {
		return nil, fmt.Errorf("resolve dest: %w", err)
	}

	// DialUDP selects a suitable local address automatically.
	conn, err := dial("udp", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("dial udp: %w", err)
	}
	return &Downlink{dest: dest, conn: conn}, nil
}

func (d *Downlink) Dest() string { return d.dest }

func (d *Downlink) Send(payload []byte) error {
	if len(payload) == 0 {
		return nil
	}
	_, err := d.conn.Write(payload)
	return err
}

func (d *Downlink) SendFrame(f Frame) error {
	b, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	return d.Send(b)
}

func (d *Downlink) Close() error {
	if d.conn == nil {
		return nil
	}
	return d.conn.Close()
}
