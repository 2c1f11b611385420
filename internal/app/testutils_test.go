package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alexedwards/scs/v2"
	"github.com/metinatakli/seat-hold-coordinator/api"
	"github.com/metinatakli/seat-hold-coordinator/internal/coordinator"
	"github.com/metinatakli/seat-hold-coordinator/internal/domain"
	"github.com/metinatakli/seat-hold-coordinator/internal/mocks"
	"github.com/metinatakli/seat-hold-coordinator/internal/validator"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

const (
	testShowtimeID    = 1
	missingShowtimeID = 99
	brokenShowtimeID  = 500
)

func testUnits() []domain.Unit {
	return []domain.Unit{
		{ID: "A1", ShowtimeID: testShowtimeID, Kind: domain.UnitKindSeat, Category: domain.SeatCategoryStandard, Price: decimal.NewFromInt(10), Status: domain.UnitStatusAvailable},
		{ID: "A2", ShowtimeID: testShowtimeID, Kind: domain.UnitKindSeat, Category: domain.SeatCategoryPremium, Price: decimal.NewFromInt(15), Status: domain.UnitStatusAvailable},
		{ID: "P1", ShowtimeID: testShowtimeID, Kind: domain.UnitKindFourWheeler, Price: decimal.NewFromInt(5), Status: domain.UnitStatusAvailable},
		{ID: "Z9", ShowtimeID: testShowtimeID, Kind: domain.UnitKindSeat, Category: domain.SeatCategoryVIP, Price: decimal.NewFromInt(30), Status: domain.UnitStatusSold},
	}
}

func newTestUnitRepo() *mocks.MockUnitRepo {
	return &mocks.MockUnitRepo{
		GetUnitsByShowtimeFunc: func(ctx context.Context, showtimeID int) ([]domain.Unit, error) {
			switch showtimeID {
			case testShowtimeID:
				return testUnits(), nil
			case brokenShowtimeID:
				return nil, errors.New("database error")
			default:
				return nil, nil
			}
		},
	}
}

func newTestConfig() Config {
	return Config{
		Env: "test",
		Holds: HoldConfig{
			TTL:           time.Minute,
			SweepInterval: 10 * time.Millisecond,
			MaxPerOwner:   8,
			OutboxSize:    64,
		},
	}
}

func newTestApplication(bookings domain.BookingRepository, opts ...func(*Config)) *Application {
	cfg := newTestConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	return NewApp(
		cfg,
		logger,
		validator.NewValidator(),
		scs.New(),
		coordinator.New(cfg.Holds.CoordinatorConfig(), newTestUnitRepo(), bookings, logger),
	)
}

// setupTestSession loads the session named by token into r, creating and
// committing a new guest session when token is empty.
func setupTestSession(t *testing.T, app *Application, r *http.Request, token string) (*http.Request, string) {
	t.Helper()

	ctx, err := app.sessionManager.Load(r.Context(), token)
	require.NoError(t, err, "Failed to load session")

	if token == "" {
		app.sessionManager.Put(ctx, SessionKeyGuest.String(), true)

		token, _, err = app.sessionManager.Commit(ctx)
		require.NoError(t, err, "Failed to commit session")
	}

	return r.WithContext(ctx), token
}

func executeRequest(t *testing.T, method, url string, body any) (*httptest.ResponseRecorder, *http.Request) {
	var reader io.Reader = http.NoBody
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(jsonData)
	}

	r := httptest.NewRequest(method, url, reader)
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	return w, r
}

func checkErrorResponse(t *testing.T, w *httptest.ResponseRecorder, tt struct {
	wantStatus     int
	wantErrMessage string
}) {
	if tt.wantStatus >= 200 && tt.wantStatus < 300 {
		return
	}

	switch tt.wantStatus {
	case http.StatusUnprocessableEntity:
		var validationResp api.ValidationErrorResponse
		if err := json.NewDecoder(w.Body).Decode(&validationResp); err != nil {
			t.Fatalf("Failed to decode validation error response: %v", err)
		}

		errorSet := make(map[string]bool)
		for _, vErr := range validationResp.ValidationErrors {
			errorSet[vErr.Issue] = true
		}

		if !errorSet[tt.wantErrMessage] {
			t.Errorf("Expected validation error message '%s' not found in response", tt.wantErrMessage)
		}

	default:
		var errorResp api.ErrorResponse
		if err := json.NewDecoder(w.Body).Decode(&errorResp); err != nil {
			t.Fatalf("Failed to decode error response: %v", err)
		}

		if tt.wantErrMessage != "" && errorResp.Message != tt.wantErrMessage {
			t.Errorf("Error message = %v, want %v", errorResp.Message, tt.wantErrMessage)
		}
	}
}

func withJSONBody(t *testing.T, r *http.Request, body any) (*httptest.ResponseRecorder, *http.Request) {
	jsonData, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}

	r.Body = io.NopCloser(bytes.NewReader(jsonData))
	r.ContentLength = int64(len(jsonData))

	return httptest.NewRecorder(), r
}
