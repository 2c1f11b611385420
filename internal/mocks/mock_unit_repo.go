package mocks

import (
	"context"

	"github.com/metinatakli/seat-hold-coordinator/internal/domain"
)

type MockUnitRepo struct {
	GetUnitsByShowtimeFunc func(ctx context.Context, showtimeID int) ([]domain.Unit, error)
}

func (m *MockUnitRepo) GetUnitsByShowtime(ctx context.Context, showtimeID int) ([]domain.Unit, error) {
	return m.GetUnitsByShowtimeFunc(ctx, showtimeID)
}
