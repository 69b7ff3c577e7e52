//go:build protogen

package directory

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/telecare-platform/telecare/libs/grpcx"
	rosterv1 "github.com/telecare-platform/telecare/protos/gen/roster/v1"
	"github.com/telecare-platform/telecare/services/appointment-service/internal/model"
	"github.com/telecare-platform/telecare/services/appointment-service/internal/storage"
)

// NewRosterProvider dials the external staffing roster when an address is
// configured, falling back to the repo-backed provider otherwise.
func NewRosterProvider(logger *slog.Logger, repo *storage.DoctorRepository, addr string) (Provider, error) {
	if strings.TrimSpace(addr) == "" {
		return NewRepoProvider(repo), nil
	}
	conn, err := grpcx.Dial(context.Background(), addr, grpcx.DialOptions{Timeout: 5 * time.Second})
	if err != nil {
		return nil, err
	}
	logger.Info("roster provider enabled (grpc)", "addr", addr)
	return &grpcProvider{client: rosterv1.NewRosterServiceClient(conn)}, nil
}

type grpcProvider struct {
	client rosterv1.RosterServiceClient
}

func (p *grpcProvider) WorkingHours(ctx context.Context, doctorID string) (map[time.Weekday]model.DayWindow, error) {
	resp, err := p.client.GetWorkingHours(ctx, &rosterv1.WorkingHoursRequest{DoctorId: doctorID})
	if err != nil {
		return nil, err
	}
	hours := map[time.Weekday]model.DayWindow{}
	for _, w := range resp.Windows {
		hours[time.Weekday(w.Weekday)] = model.DayWindow{Start: w.Start, End: w.End}
	}
	return hours, nil
}
