package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/Bharat-Ride-org/Bharat-Ride/internal/models"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	// quick ping
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (p *PostgresStore) CreateRide(ctx context.Context, r *models.Ride) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO rides(id, passenger_id, driver_id, eta_minutes, status, created_at, updated_at)
		 VALUES($1,$2,$3,$4,$5,$6,$7)`,
		r.ID, r.PassengerID, r.DriverID, r.ETAMinutes, r.Status, r.CreatedAt, r.UpdatedAt)
	return err
}

func (p *PostgresStore) GetRide(ctx context.Context, id string) (*models.Ride, error) {
	var r models.Ride
	err := p.db.QueryRowContext(ctx,
		`SELECT id, passenger_id, driver_id, eta_minutes, status, created_at, updated_at FROM rides WHERE id=$1`, id).
		Scan(&r.ID, &r.PassengerID, &r.DriverID, &r.ETAMinutes, &r.Status, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRideNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (p *PostgresStore) UpdateStatus(ctx context.Context, id, status string) error {
	res, err := p.db.ExecContext(ctx, `UPDATE rides SET status=$1, updated_at=$2 WHERE id=$3`, status, time.Now(), id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrRideNotFound
	}
	return nil
}

func (p *PostgresStore) StalePinged(ctx context.Context, cutoff time.Time) ([]*models.Ride, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT id, passenger_id, driver_id, eta_minutes, status, created_at, updated_at
		 FROM rides WHERE status=$1 AND created_at < $2`, RidePinged, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.Ride
	for rows.Next() {
		var r models.Ride
		if err := rows.Scan(&r.ID, &r.PassengerID, &r.DriverID, &r.ETAMinutes, &r.Status, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

func (p *PostgresStore) UpsertUser(ctx context.Context, phone string, role models.Role) (string, error) {
	id := uuid.NewString()
	var out string
	err := p.db.QueryRowContext(ctx,
		`INSERT INTO users(id, phone, role, created_at) VALUES($1,$2,$3,$4)
		 ON CONFLICT (phone) DO UPDATE SET role = EXCLUDED.role
		 RETURNING id`,
		id, phone, string(role), time.Now()).Scan(&out)
	if err != nil {
		return "", err
	}
	return out, nil
}
