// 📁 internal/discovery/scanner.go - Serial port listing
package discovery

import (
	"context"
	"fmt"
	"sort"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
	"go.uber.org/zap"
)

// PortInfo describes one serial port visible to the host
type PortInfo struct {
	Name         string `json:"name"`
	IsUSB        bool   `json:"is_usb"`
	VID          string `json:"vid,omitempty"`
	PID          string `json:"pid,omitempty"`
	SerialNumber string `json:"serial_number,omitempty"`
	Product      string `json:"product,omitempty"`
}

// PortLister lists serial ports
type PortLister interface {
	ListPorts(ctx context.Context) ([]PortInfo, error)
}

// Scanner lists ports through the serial driver
type Scanner struct {
	logger   *zap.Logger
	detailed func() ([]*enumerator.PortDetails, error)
	basic    func() ([]string, error)
}

// NewScanner creates a new port scanner
func NewScanner(logger *zap.Logger) *Scanner {
	return &Scanner{
		logger:   logger.With(zap.String("scanner", "serial")),
		detailed: enumerator.GetDetailedPortsList,
		basic:    serial.GetPortsList,
	}
}

// ListPorts returns the ports sorted by name. USB details are attached when
// the platform enumerator provides them; otherwise only names are returned.
func (s *Scanner) ListPorts(ctx context.Context) ([]PortInfo, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	details, err := s.detailed()
	if err == nil {
		ports := make([]PortInfo, 0, len(details))
		for _, d := range details {
			ports = append(ports, PortInfo{
				Name:         d.Name,
				IsUSB:        d.IsUSB,
				VID:          d.VID,
				PID:          d.PID,
				SerialNumber: d.SerialNumber,
				Product:      d.Product,
			})
		}
		sortPorts(ports)
		s.logger.Debug("Listed serial ports", zap.Int("count", len(ports)))
		return ports, nil
	}

	s.logger.Warn("Detailed port enumeration failed, falling back to names", zap.Error(err))

	names, err := s.basic()
	if err != nil {
		return nil, fmt.Errorf("failed to get serial ports: %w", err)
	}

	ports := make([]PortInfo, 0, len(names))
	for _, name := range names {
		ports = append(ports, PortInfo{Name: name})
	}
	sortPorts(ports)
	return ports, nil
}

func sortPorts(ports []PortInfo) {
	sort.Slice(ports, func(i, j int) bool { return ports[i].Name < ports[j].Name })
}
