package mocks

import (
	"context"

	"github.com/metinatakli/seat-hold-coordinator/internal/domain"
	"github.com/stretchr/testify/mock"
)

type MockBookingRepo struct {
	mock.Mock
}

func (m *MockBookingRepo) Create(ctx context.Context, booking *domain.Booking) error {
	args := m.Called(ctx, booking)
	return args.Error(0)
}

type MockBookingNotifier struct {
	mock.Mock
}

func (m *MockBookingNotifier) BookingConfirmed(ctx context.Context, receipt domain.BookingReceipt) error {
	args := m.Called(ctx, receipt)
	return args.Error(0)
}
