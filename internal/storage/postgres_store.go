package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/superjustkidding/fango/internal/apperr"
	"github.com/superjustkidding/fango/internal/models"
)

// PostgresStore implements every storage interface against a single database.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

func (p *PostgresStore) Close() error { return p.db.Close() }

func (p *PostgresStore) AppendLocation(ctx context.Context, loc models.RiderLocation) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO rider_locations(id, rider_id, latitude, longitude, accuracy, speed, recorded_at)
		 VALUES($1,$2,$3,$4,$5,$6,$7)`,
		loc.ID, loc.RiderID, loc.Latitude, loc.Longitude, loc.AccuracyM, loc.SpeedMps, loc.RecordedAt)
	return err
}

func (p *PostgresStore) LatestLocation(ctx context.Context, riderID string) (models.RiderLocation, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT id, rider_id, latitude, longitude, accuracy, speed, recorded_at
		 FROM rider_locations WHERE rider_id=$1
		 ORDER BY recorded_at DESC LIMIT 1`, riderID)
	loc, err := scanLocation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.RiderLocation{}, fmt.Errorf("no location for rider %s: %w", riderID, apperr.ErrNotFound)
	}
	return loc, err
}

func (p *PostgresStore) LocationHistory(ctx context.Context, riderID string, limit int, since, until *time.Time) ([]models.RiderLocation, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT id, rider_id, latitude, longitude, accuracy, speed, recorded_at
		 FROM rider_locations
		 WHERE rider_id=$1
		   AND ($2::timestamptz IS NULL OR recorded_at >= $2)
		   AND ($3::timestamptz IS NULL OR recorded_at <= $3)
		 ORDER BY recorded_at DESC LIMIT $4`,
		riderID, since, until, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]models.RiderLocation, 0, limit)
	for rows.Next() {
		loc, err := scanLocation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, loc)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanLocation(s scanner) (models.RiderLocation, error) {
	var loc models.RiderLocation
	err := s.Scan(&loc.ID, &loc.RiderID, &loc.Latitude, &loc.Longitude,
		&loc.AccuracyM, &loc.SpeedMps, &loc.RecordedAt)
	return loc, err
}

func (p *PostgresStore) GetOrder(ctx context.Context, id string) (models.Order, error) {
	var o models.Order
	err := p.db.QueryRowContext(ctx,
		`SELECT id, status, restaurant_id, rider_id, delivery_address, created_at, updated_at
		 FROM orders WHERE id=$1`, id).
		Scan(&o.ID, &o.Status, &o.RestaurantID, &o.RiderID, &o.DeliveryAddress, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Order{}, fmt.Errorf("order %s: %w", id, apperr.ErrNotFound)
	}
	return o, err
}

// CommitTransition updates the order row and appends the status history row
// inside one transaction, per the state machine's unit-of-work contract.
func (p *PostgresStore) CommitTransition(ctx context.Context, orderID, status string, riderID *string, hist models.OrderStatusHistory) (models.Order, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return models.Order{}, err
	}
	defer tx.Rollback()

	var o models.Order
	err = tx.QueryRowContext(ctx,
		`UPDATE orders
		 SET status=$2, rider_id=COALESCE($3, rider_id), updated_at=now()
		 WHERE id=$1
		 RETURNING id, status, restaurant_id, rider_id, delivery_address, created_at, updated_at`,
		orderID, status, riderID).
		Scan(&o.ID, &o.Status, &o.RestaurantID, &o.RiderID, &o.DeliveryAddress, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Order{}, fmt.Errorf("order %s: %w", orderID, apperr.ErrNotFound)
	}
	if err != nil {
		return models.Order{}, err
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO order_status_history(id, order_id, status, actor_id, actor_type, note, created_at)
		 VALUES($1,$2,$3,$4,$5,$6,$7)`,
		hist.ID, hist.OrderID, hist.Status, hist.ActorID, hist.ActorType, hist.Note, hist.CreatedAt); err != nil {
		return models.Order{}, err
	}

	return o, tx.Commit()
}

// CreateAssignment takes a row lock over the order's existing assignments so
// concurrent creates serialize; the partial unique index in the migration is
// the backstop for writes from other nodes.
func (p *PostgresStore) CreateAssignment(ctx context.Context, a models.RiderAssignment) (models.RiderAssignment, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return models.RiderAssignment{}, err
	}
	defer tx.Rollback()

	var existingID string
	err = tx.QueryRowContext(ctx,
		`SELECT id FROM rider_assignments
		 WHERE order_id=$1 AND status IN ('pending','accepted')
		 FOR UPDATE`, a.OrderID).Scan(&existingID)
	if err == nil {
		return models.RiderAssignment{}, fmt.Errorf(
			"order %s already has active assignment %s: %w", a.OrderID, existingID, apperr.ErrConflict)
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return models.RiderAssignment{}, err
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO rider_assignments(id, order_id, rider_id, status, assigned_at)
		 VALUES($1,$2,$3,$4,$5)`,
		a.ID, a.OrderID, a.RiderID, a.Status, a.AssignedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return models.RiderAssignment{}, fmt.Errorf(
				"order %s already has an active assignment: %w", a.OrderID, apperr.ErrConflict)
		}
		return models.RiderAssignment{}, err
	}
	return a, tx.Commit()
}

func (p *PostgresStore) GetAssignment(ctx context.Context, id string) (models.RiderAssignment, error) {
	var a models.RiderAssignment
	err := p.db.QueryRowContext(ctx,
		`SELECT id, order_id, rider_id, status, assigned_at, responded_at
		 FROM rider_assignments WHERE id=$1`, id).
		Scan(&a.ID, &a.OrderID, &a.RiderID, &a.Status, &a.AssignedAt, &a.RespondedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.RiderAssignment{}, fmt.Errorf("assignment %s: %w", id, apperr.ErrNotFound)
	}
	return a, err
}

func (p *PostgresStore) TransitionAssignment(ctx context.Context, id, from, to string, respondedAt *time.Time) (models.RiderAssignment, error) {
	var a models.RiderAssignment
	err := p.db.QueryRowContext(ctx,
		`UPDATE rider_assignments
		 SET status=$3, responded_at=COALESCE($4, responded_at)
		 WHERE id=$1 AND status=$2
		 RETURNING id, order_id, rider_id, status, assigned_at, responded_at`,
		id, from, to, respondedAt).
		Scan(&a.ID, &a.OrderID, &a.RiderID, &a.Status, &a.AssignedAt, &a.RespondedAt)
	if errors.Is(err, sql.ErrNoRows) {
		// Either the row is missing or the status check-and-set lost a race.
		if _, getErr := p.GetAssignment(ctx, id); getErr != nil {
			return models.RiderAssignment{}, getErr
		}
		return models.RiderAssignment{}, fmt.Errorf(
			"assignment %s is no longer %s: %w", id, from, apperr.ErrConflict)
	}
	return a, err
}

func (p *PostgresStore) ActiveLoad(ctx context.Context, riderID string) (int, error) {
	var n int
	err := p.db.QueryRowContext(ctx,
		`SELECT count(*)
		 FROM rider_assignments ra
		 JOIN orders o ON o.id = ra.order_id
		 WHERE ra.rider_id=$1
		   AND ra.status='accepted'
		   AND o.status = ANY($2)`,
		riderID, pq.Array(models.InFlightOrderStatuses)).Scan(&n)
	return n, err
}

func (p *PostgresStore) GetRider(ctx context.Context, id string) (models.Rider, error) {
	var r models.Rider
	err := p.db.QueryRowContext(ctx,
		`SELECT id, name, is_online, is_available, COALESCE(delivery_radius, 0)
		 FROM riders WHERE id=$1`, id).
		Scan(&r.ID, &r.Name, &r.IsOnline, &r.IsAvailable, &r.DeliveryRadiusM)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Rider{}, fmt.Errorf("rider %s: %w", id, apperr.ErrNotFound)
	}
	return r, err
}

func (p *PostgresStore) OnlineAvailableRiders(ctx context.Context) ([]models.Rider, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT id, name, is_online, is_available, COALESCE(delivery_radius, 0)
		 FROM riders WHERE is_online AND is_available
		 ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Rider
	for rows.Next() {
		var r models.Rider
		if err := rows.Scan(&r.ID, &r.Name, &r.IsOnline, &r.IsAvailable, &r.DeliveryRadiusM); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (p *PostgresStore) RestaurantLocation(ctx context.Context, restaurantID string) (models.Coord, error) {
	var c models.Coord
	err := p.db.QueryRowContext(ctx,
		`SELECT latitude, longitude FROM restaurants WHERE id=$1`, restaurantID).
		Scan(&c.Lat, &c.Lon)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Coord{}, fmt.Errorf("restaurant %s: %w", restaurantID, apperr.ErrNotFound)
	}
	return c, err
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
