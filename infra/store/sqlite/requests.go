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

const requestColumns = `id, hospital_id, blood_type, status, lat, lng,
    urgency_level, units_needed, notes, simulated, created_at`

func scanRequest(row interface{ Scan(...any) error }) (model.Request, error) {
	var (
		r         model.Request
		lat, lng  sql.NullFloat64
		simulated int
		createdAt int64
	)
	err := row.Scan(&r.ID, &r.HospitalID, &r.BloodType, &r.Status, &lat, &lng,
		&r.UrgencyLevel, &r.UnitsNeeded, &r.Notes, &simulated, &createdAt)
	if err != nil {
		return model.Request{}, err
	}
	r.Location = scanPoint(lat, lng)
	r.Simulated = simulated != 0
	r.CreatedAt = time.Unix(createdAt, 0).UTC()
	return r, nil
}

func (s *Store) CreateRequest(ctx context.Context, r model.Request) error {
	if err := r.Validate(); err != nil {
		return err
	}
	lat, lng := nullPoint(r.Location)
	_, err := s.db.ExecContext(ctx, `INSERT INTO requests (`+requestColumns+`)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.HospitalID, r.BloodType, r.Status, lat, lng,
		r.UrgencyLevel, r.UnitsNeeded, r.Notes, boolInt(r.Simulated), r.CreatedAt.Unix())
	if isUniqueViolation(err) {
		return store.ErrConflict
	}
	return err
}

func (s *Store) Request(ctx context.Context, id string) (model.Request, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM requests WHERE id = ?`, id)
	r, err := scanRequest(row)
	if err == sql.ErrNoRows {
		return model.Request{}, store.ErrNotFound
	}
	return r, err
}

func (s *Store) ActiveRequests(ctx context.Context) ([]model.Request, error) {
	return s.queryRequests(ctx, `SELECT `+requestColumns+` FROM requests
        WHERE status = ? ORDER BY created_at DESC, id`, model.RequestActive)
}

func (s *Store) RequestsByHospital(ctx context.Context, hospitalID string) ([]model.Request, error) {
	return s.queryRequests(ctx, `SELECT `+requestColumns+` FROM requests
        WHERE hospital_id = ? ORDER BY created_at DESC, id`, hospitalID)
}

func (s *Store) queryRequests(ctx context.Context, query string, args ...any) ([]model.Request, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []model.Request
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) NearbyRequests(ctx context.Context, p model.GeoPoint, radiusKm float64) ([]store.NearbyRequest, error) {
	radiusKm = capRadius(radiusKm)
	minLat, maxLat, minLng, maxLng := geo.BoundingBox(p, radiusKm)

	rows, err := s.db.QueryContext(ctx, `SELECT `+requestColumns+` FROM requests
        WHERE status = ? AND lat IS NOT NULL
          AND lat BETWEEN ? AND ? AND lng BETWEEN ? AND ?`,
		model.RequestActive, minLat, maxLat, minLng, maxLng)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []store.NearbyRequest
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		d := geo.DistanceKm(p, *r.Location)
		if d > radiusKm {
			continue
		}
		out = append(out, store.NearbyRequest{Request: r, DistanceKm: d})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Attach the owning hospitals in a second pass; the per-radius result set
	// is small enough that a join buys nothing here.
	for i := range out {
		h, err := s.Entity(ctx, out[i].Request.HospitalID)
		if err != nil && err != store.ErrNotFound {
			return nil, err
		}
		out[i].Hospital = h
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DistanceKm < out[j].DistanceKm })
	return out, nil
}

func (s *Store) FulfillRequest(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE requests SET status = ?
        WHERE id = ? AND status = ?`, model.RequestFulfilled, id, model.RequestActive)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n > 0 {
		return true, nil
	}
	var exists int
	row := s.db.QueryRowContext(ctx, `SELECT 1 FROM requests WHERE id = ?`, id)
	if err := row.Scan(&exists); err != nil {
		if err == sql.ErrNoRows {
			return false, store.ErrNotFound
		}
		return false, err
	}
	return false, nil
}

func (s *Store) CloseSimulated(ctx context.Context, hospitalID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM requests
        WHERE hospital_id = ? AND simulated = 1 AND status = ? ORDER BY id`,
		hospitalID, model.RequestActive)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	_, err = s.db.ExecContext(ctx, `UPDATE requests SET status = ?
        WHERE hospital_id = ? AND simulated = 1 AND status = ?`,
		model.RequestClosed, hospitalID, model.RequestActive)
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (s *Store) ActiveRequestLocations(ctx context.Context) ([]model.GeoPoint, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT lat, lng FROM requests
        WHERE status = ? AND lat IS NOT NULL`, model.RequestActive)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []model.GeoPoint
	for rows.Next() {
		var p model.GeoPoint
		if err := rows.Scan(&p.Lat, &p.Lng); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) ActiveRequestCountByHospital(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT hospital_id, COUNT(*) FROM requests
        WHERE status = ? GROUP BY hospital_id`, model.RequestActive)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string]int)
	for rows.Next() {
		var id string
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, err
		}
		out[id] = n
	}
	return out, rows.Err()
}
