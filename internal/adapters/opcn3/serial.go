package opcn3

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"time"

	"github.com/tarm/serial"

	"github.com/CaderIdris/GCARE-OPCN3/internal/domain"
)

// portPollTimeout bounds a single Read on the serial port. The frame-level
// deadline is enforced by Session.
const portPollTimeout = 100 * time.Millisecond

// Opener opens the byte transport for a session.
type Opener func(cfg Config) (io.ReadWriteCloser, error)

// OpenSerial opens the configured serial port at 8N1.
func OpenSerial(cfg Config) (io.ReadWriteCloser, error) {
	port, err := serial.OpenPort(&serial.Config{
		Name:        cfg.Port,
		Baud:        cfg.BaudRate,
		Size:        8,
		Parity:      serial.ParityNone,
		StopBits:    serial.Stop1,
		ReadTimeout: portPollTimeout,
	})
	if err != nil {
		switch {
		case errors.Is(err, fs.ErrNotExist):
			return nil, fmt.Errorf("%w: serial port %s does not exist", domain.ErrConnection, cfg.Port)
		case errors.Is(err, fs.ErrPermission):
			return nil, fmt.Errorf("%w: permission denied on %s, check the user is in the dialout group", domain.ErrConnection, cfg.Port)
		default:
			return nil, fmt.Errorf("%w: open %s: %v", domain.ErrConnection, cfg.Port, err)
		}
	}
	return port, nil
}
