package sqlite

import (
	"context"
	"database/sql"
	"sort"
	"time"

	"github.com/kilianp07/hemolink/core/geo"
	"github.com/kilianp07/hemolink/core/model"
	"github.com/kilianp07/hemolink/core/store"
)

const entityColumns = `id, name, role, blood_type, lat, lng, email, phone,
    last_donation, responsiveness, available_now, credit_points,
    last_health_check, capacity_units`

func scanEntity(row interface{ Scan(...any) error }) (model.Entity, error) {
	var (
		e               model.Entity
		lat, lng        sql.NullFloat64
		lastDonation    sql.NullInt64
		available       int
		lastHealthCheck sql.NullInt64
	)
	err := row.Scan(&e.ID, &e.Name, &e.Role, &e.BloodType, &lat, &lng,
		&e.Email, &e.Phone, &lastDonation, &e.ResponsivenessScore, &available,
		&e.CreditPoints, &lastHealthCheck, &e.CapacityUnits)
	if err != nil {
		return model.Entity{}, err
	}
	e.Location = scanPoint(lat, lng)
	e.LastDonationDate = scanTime(lastDonation)
	e.AvailableNow = available != 0
	e.LastHealthCheckAt = scanTime(lastHealthCheck)
	return e, nil
}

func (s *Store) Entity(ctx context.Context, id string) (model.Entity, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+entityColumns+` FROM entities WHERE id = ?`, id)
	e, err := scanEntity(row)
	if err == sql.ErrNoRows {
		return model.Entity{}, store.ErrNotFound
	}
	return e, err
}

func (s *Store) PutEntity(ctx context.Context, e model.Entity) error {
	if err := e.Validate(); err != nil {
		return err
	}
	lat, lng := nullPoint(e.Location)
	_, err := s.db.ExecContext(ctx, `INSERT INTO entities (`+entityColumns+`)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(id) DO UPDATE SET
            name = excluded.name,
            role = excluded.role,
            blood_type = excluded.blood_type,
            lat = excluded.lat,
            lng = excluded.lng,
            email = excluded.email,
            phone = excluded.phone,
            last_donation = excluded.last_donation,
            responsiveness = excluded.responsiveness,
            available_now = excluded.available_now,
            credit_points = excluded.credit_points,
            last_health_check = excluded.last_health_check,
            capacity_units = excluded.capacity_units`,
		e.ID, e.Name, e.Role, e.BloodType, lat, lng, e.Email, e.Phone,
		nullTime(e.LastDonationDate), e.ResponsivenessScore, boolInt(e.AvailableNow),
		e.CreditPoints, nullTime(e.LastHealthCheckAt), e.CapacityUnits)
	return err
}

// NearbyEntities prefilters on the bounding box in SQL and settles the exact
// great-circle distance in Go. Results sort ascending by distance.
func (s *Store) NearbyEntities(ctx context.Context, p model.GeoPoint, radiusKm float64, f store.EntityFilter) ([]store.NearbyEntity, error) {
	radiusKm = capRadius(radiusKm)
	minLat, maxLat, minLng, maxLng := geo.BoundingBox(p, radiusKm)

	query := `SELECT ` + entityColumns + ` FROM entities
        WHERE lat IS NOT NULL AND lat BETWEEN ? AND ? AND lng BETWEEN ? AND ?`
	args := []any{minLat, maxLat, minLng, maxLng}
	if f.Role != "" {
		query += ` AND role = ?`
		args = append(args, f.Role)
	}
	if f.BloodType != "" {
		query += ` AND blood_type = ?`
		args = append(args, f.BloodType)
	}
	if f.AvailableOnly {
		query += ` AND available_now = 1`
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []store.NearbyEntity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		d := geo.DistanceKm(p, *e.Location)
		if d > radiusKm {
			continue
		}
		out = append(out, store.NearbyEntity{Entity: e, DistanceKm: d})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DistanceKm < out[j].DistanceKm })
	return out, nil
}

func (s *Store) Hospitals(ctx context.Context) ([]model.Entity, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+entityColumns+` FROM entities
        WHERE role = ? ORDER BY id`, model.RoleHospital)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []model.Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) SetAvailability(ctx context.Context, donorID string, available bool) error {
	return s.updateEntityField(ctx, `UPDATE entities SET available_now = ? WHERE id = ?`, boolInt(available), donorID)
}

func (s *Store) SetResponsiveness(ctx context.Context, donorID string, score float64) error {
	return s.updateEntityField(ctx, `UPDATE entities SET responsiveness = ? WHERE id = ?`, score, donorID)
}

func (s *Store) updateEntityField(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) AwardCredits(ctx context.Context, donorID string, points int, donatedAt time.Time) error {
	return s.updateEntityField(ctx, `UPDATE entities
        SET credit_points = credit_points + ?, last_donation = ?
        WHERE id = ?`, points, donatedAt.Unix(), donorID)
}

// RedeemCredits decrements inside one conditional UPDATE; a lost race reads
// back the current balance with ErrConflict.
func (s *Store) RedeemCredits(ctx context.Context, donorID string, cost int, at time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE entities
        SET credit_points = credit_points - ?, last_health_check = ?
        WHERE id = ? AND credit_points >= ?`, cost, at.Unix(), donorID, cost)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	var balance int
	row := s.db.QueryRowContext(ctx, `SELECT credit_points FROM entities WHERE id = ?`, donorID)
	if err := row.Scan(&balance); err != nil {
		if err == sql.ErrNoRows {
			return 0, store.ErrNotFound
		}
		return 0, err
	}
	if n == 0 {
		return balance, store.ErrConflict
	}
	return balance, nil
}
