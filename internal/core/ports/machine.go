package ports

import (
	"context"
	"time"

	"github.com/rendez/signal-server/internal/core/domain"
)

// MachineRepository is the persistence gateway's machine-facing slice
// (spec §4.A).
type MachineRepository interface {
	Upsert(ctx context.Context, reg domain.MachineRegistration) (*domain.Machine, error)
	SetOnline(ctx context.Context, id string, online bool) error
	Heartbeat(ctx context.Context, id string) error
	ListByUser(ctx context.Context, userID string) ([]domain.Machine, error)
	GetByID(ctx context.Context, id string) (*domain.Machine, error)
	SweepStale(ctx context.Context, timeout time.Duration) ([]string, error)
	Delete(ctx context.Context, userID, id string) (bool, error)
	Rename(ctx context.Context, userID, id, newName string) (bool, error)
}

// MachineRegistry is component 4.C's business-logic surface, sitting on
// top of MachineRepository.
type MachineRegistry interface {
	Register(ctx context.Context, reg domain.MachineRegistration) (*domain.Machine, error)
	SetOnline(ctx context.Context, id string, online bool) error
	Heartbeat(ctx context.Context, id string) error
	ListOwned(ctx context.Context, userID string) ([]domain.MachineInfo, error)
	Get(ctx context.Context, id string) (*domain.Machine, error)
	SweepStale(ctx context.Context, timeout time.Duration) ([]string, error)
	CanAccess(ctx context.Context, userID, machineID string) (bool, error)
	Delete(ctx context.Context, userID, id string) (bool, error)
	Rename(ctx context.Context, userID, id, newName string) (bool, error)
}
