package service

import (
	"context"
	"time"

	"github.com/rendez/signal-server/internal/core/domain"
	"github.com/rendez/signal-server/internal/core/ports"
)

// MachineRegistry implements component 4.C on top of a MachineRepository.
// CanAccess is currently ownership-only; spec §4.C requires this check to
// stay behind the narrow CanAccess boolean so a future sharing rule never
// touches callers (signaling broker included).
type MachineRegistry struct {
	repo ports.MachineRepository
}

var _ ports.MachineRegistry = (*MachineRegistry)(nil)

// NewMachineRegistry constructs a MachineRegistry.
func NewMachineRegistry(repo ports.MachineRepository) *MachineRegistry {
	return &MachineRegistry{repo: repo}
}

// Register upserts on (UserID, Name), flips IsOnline true, and refreshes
// LastSeen.
func (r *MachineRegistry) Register(ctx context.Context, reg domain.MachineRegistration) (*domain.Machine, error) {
	if reg.UserID == "" || reg.Name == "" || !domain.ValidPlatform(reg.Platform) {
		return nil, domain.ErrInvalidMachine
	}
	return r.repo.Upsert(ctx, reg)
}

func (r *MachineRegistry) SetOnline(ctx context.Context, id string, online bool) error {
	return r.repo.SetOnline(ctx, id, online)
}

func (r *MachineRegistry) Heartbeat(ctx context.Context, id string) error {
	return r.repo.Heartbeat(ctx, id)
}

// ListOwned returns the user's machines ordered by name with IsOwn=true.
func (r *MachineRegistry) ListOwned(ctx context.Context, userID string) ([]domain.MachineInfo, error) {
	machines, err := r.repo.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	infos := make([]domain.MachineInfo, 0, len(machines))
	for _, m := range machines {
		infos = append(infos, domain.MachineInfo{
			ID:           m.ID,
			Name:         m.Name,
			Platform:     m.Platform,
			Capabilities: m.Capabilities,
			IsOnline:     m.IsOnline,
			IsOwn:        true,
		})
	}
	return infos, nil
}

func (r *MachineRegistry) Get(ctx context.Context, id string) (*domain.Machine, error) {
	return r.repo.GetByID(ctx, id)
}

// SweepStale atomically sets is_online=false where currently online and
// last_seen < now - timeout; returns the transitioned ids.
func (r *MachineRegistry) SweepStale(ctx context.Context, timeout time.Duration) ([]string, error) {
	return r.repo.SweepStale(ctx, timeout)
}

// CanAccess is ownership-only today. Implementations MUST keep this
// behind the boolean (never inline the ownership check at call sites) so
// a team-sharing rule can land later without touching callers.
func (r *MachineRegistry) CanAccess(ctx context.Context, userID, machineID string) (bool, error) {
	machine, err := r.repo.GetByID(ctx, machineID)
	if err != nil {
		if err == domain.ErrMachineNotFound {
			return false, nil
		}
		return false, err
	}
	return machine.UserID == userID, nil
}

func (r *MachineRegistry) Delete(ctx context.Context, userID, id string) (bool, error) {
	return r.repo.Delete(ctx, userID, id)
}

func (r *MachineRegistry) Rename(ctx context.Context, userID, id, newName string) (bool, error) {
	if newName == "" {
		return false, domain.ErrInvalidMachine
	}
	return r.repo.Rename(ctx, userID, id, newName)
}
