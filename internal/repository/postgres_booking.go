package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/metinatakli/seat-hold-coordinator/internal/domain"
)

type PostgresBookingRepository struct {
	db *pgxpool.Pool
}

func NewPostgresBookingRepository(db *pgxpool.Pool) *PostgresBookingRepository {
	return &PostgresBookingRepository{
		db: db,
	}
}

// Create stores the booking and its units in one transaction. The primary key
// of booking_units rejects a unit that is already part of another booking.
func (p *PostgresBookingRepository) Create(ctx context.Context, booking *domain.Booking) error {
	err := runInTx(ctx, p.db, func(tx pgx.Tx) error {
		query := `
			INSERT INTO bookings (reference, showtime_id, owner_token, total_price)
			VALUES ($1, $2, $3, $4)
			RETURNING id, created_at
		`

		err := tx.QueryRow(
			ctx,
			query,
			booking.Reference,
			booking.ShowtimeID,
			booking.OwnerToken,
			booking.TotalPrice,
		).Scan(&booking.ID, &booking.CreatedAt)
		if err != nil {
			return err
		}

		rows := make([][]any, 0, len(booking.Units))
		for _, unit := range booking.Units {
			rows = append(rows, []any{
				booking.ID,
				booking.ShowtimeID,
				unit.ID,
				unit.Price,
			})
		}

		_, err = tx.CopyFrom(
			ctx,
			pgx.Identifier{"booking_units"},
			[]string{"booking_id", "showtime_id", "unit_id", "price"},
			pgx.CopyFromRows(rows),
		)

		return err
	})

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
		return domain.ErrUnitAlreadyBooked
	}

	return err
}

func runInTx(ctx context.Context, db *pgxpool.Pool, fn func(tx pgx.Tx) error) error {
	var txOptions pgx.TxOptions

	tx, err := db.BeginTx(ctx, txOptions)
	if err != nil {
		return err
	}

	err = fn(tx)
	if err == nil {
		return tx.Commit(ctx)
	}

	rollbackErr := tx.Rollback(ctx)
	if rollbackErr != nil {
		return errors.Join(err, rollbackErr)
	}

	return err
}
