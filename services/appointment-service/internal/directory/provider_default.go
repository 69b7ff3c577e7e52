//go:build !protogen

package directory

import (
	"log/slog"

	"github.com/telecare-platform/telecare/services/appointment-service/internal/storage"
)

// NewRosterProvider falls back to the repo-backed provider when the build
// does not carry the generated roster client.
func NewRosterProvider(_ *slog.Logger, repo *storage.DoctorRepository, _ string) (Provider, error) {
	return NewRepoProvider(repo), nil
}
