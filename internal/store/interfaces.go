package store

import (
	"context"

	"github.com/rudransh-shrivastava/peer-seek/internal/db"
)

// RegistrationRepository defines the rendezvous registry operations.
type RegistrationRepository interface {
	CreateRegistration(ctx context.Context, host string, port int, username string) (db.Registration, error)
	GetRegistration(ctx context.Context, host string, port int) (db.Registration, error)
	DeleteRegistration(ctx context.Context, host string, port int) (bool, error)
	ListRegistrations(ctx context.Context) ([]db.Registration, error)
	CountRegistrations(ctx context.Context) (int64, error)
}
