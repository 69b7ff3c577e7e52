package directory

import (
	"context"
	"time"

	"github.com/telecare-platform/telecare/services/appointment-service/internal/model"
	"github.com/telecare-platform/telecare/services/appointment-service/internal/storage"
)

// Provider resolves a doctor's working hours. The default implementation
// reads the local doctors table; deployments with an external staffing
// roster swap in the gRPC-backed provider.
type Provider interface {
	WorkingHours(ctx context.Context, doctorID string) (map[time.Weekday]model.DayWindow, error)
}

type repoProvider struct {
	repo *storage.DoctorRepository
}

func NewRepoProvider(repo *storage.DoctorRepository) Provider {
	return &repoProvider{repo: repo}
}

func (p *repoProvider) WorkingHours(ctx context.Context, doctorID string) (map[time.Weekday]model.DayWindow, error) {
	doc, err := p.repo.Get(ctx, doctorID)
	if err != nil {
		return nil, err
	}
	return doc.WorkingHours, nil
}
