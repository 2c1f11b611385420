package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/metinatakli/seat-hold-coordinator/internal/domain"
)

type PostgresUnitRepository struct {
	db *pgxpool.Pool
}

func NewPostgresUnitRepository(db *pgxpool.Pool) *PostgresUnitRepository {
	return &PostgresUnitRepository{
		db: db,
	}
}

func (p *PostgresUnitRepository) GetUnitsByShowtime(ctx context.Context, showtimeID int) ([]domain.Unit, error) {
	query := `
		SELECT
			su.unit_id,
			su.kind,
			COALESCE(su.category, ''),
			su.price,
			bu.booking_id IS NOT NULL AS sold
		FROM showtime_units su
		LEFT JOIN booking_units bu
			ON bu.showtime_id = su.showtime_id
			AND bu.unit_id = su.unit_id
		WHERE su.showtime_id = $1
		ORDER BY su.unit_id
	`

	rows, err := p.db.Query(ctx, query, showtimeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	units := make([]domain.Unit, 0)

	for rows.Next() {
		var (
			unit domain.Unit
			sold bool
		)

		err = rows.Scan(
			&unit.ID,
			&unit.Kind,
			&unit.Category,
			&unit.Price,
			&sold,
		)
		if err != nil {
			return nil, err
		}

		unit.ShowtimeID = showtimeID
		unit.Status = domain.UnitStatusAvailable
		if sold {
			unit.Status = domain.UnitStatusSold
		}

		units = append(units, unit)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return units, nil
}
