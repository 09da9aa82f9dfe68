package gcare

import (
	"github.com/CaderIdris/GCARE-OPCN3/internal/adapters/opcn3"
	"github.com/CaderIdris/GCARE-OPCN3/internal/domain"
	"github.com/CaderIdris/GCARE-OPCN3/internal/ports"
)

// Sample is one decoded histogram read, stamped with its scheduled slot.
type Sample = domain.MeasurementSample

// StorageTarget is the directory daily logs go to and how it was chosen.
type StorageTarget = domain.StorageTarget

// DeviceInfo carries the sensor's identification strings.
type DeviceInfo = domain.DeviceInfo

// Device is an open session with a sensor.
type Device = ports.Device

// Dialer opens device sessions; the agent redials after faults.
type Dialer = ports.Dialer

// Sink receives every sample the agent takes.
type Sink = ports.Sink

// Observability emits logs and metrics about the measurement loop.
type Observability = ports.Observability

// Field is a structured log field used by Observability implementations.
type Field = ports.Field

// Clock lets embedders run the schedule on their own notion of time.
type Clock = ports.Clock

// SimulatorOptions tunes the in-process sensor simulator.
type SimulatorOptions = opcn3.SimulatorOptions

// Error kinds, for use with errors.Is.
var (
	ErrConfiguration = domain.ErrConfiguration
	ErrConnection    = domain.ErrConnection
	ErrProtocol      = domain.ErrProtocol
	ErrCorruptFrame  = domain.ErrCorruptFrame
	ErrTimeout       = domain.ErrTimeout
	ErrPersistence   = domain.ErrPersistence
)
