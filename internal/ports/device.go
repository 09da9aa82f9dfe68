package ports

import (
	"context"

	"github.com/CaderIdris/GCARE-OPCN3/internal/domain"
)

// Device is an open, ready link to the sensor.
type Device interface {
	SetPower(ctx context.Context, fan, laser bool) error
	ReadHistogram(ctx context.Context) (*domain.MeasurementSample, error)
	ReadInfo(ctx context.Context) (domain.DeviceInfo, error)
	Close(ctx context.Context) error
}

// Dialer opens a new Device. Each call returns a fresh session.
type Dialer interface {
	Dial(ctx context.Context) (Device, error)
}
