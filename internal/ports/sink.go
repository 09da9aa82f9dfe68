package ports

import "github.com/CaderIdris/GCARE-OPCN3/internal/domain"

type Sink interface {
	AppendSample(s *domain.MeasurementSample, target domain.StorageTarget) error
	Name() string
}
