package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/kilianp07/hemolink/core/model"
	"github.com/kilianp07/hemolink/core/store"
)

const swapColumns = `id, from_hospital_id, to_hospital_id, blood_type, units, status, created_at`

func scanSwap(row interface{ Scan(...any) error }) (model.SwapRequest, error) {
	var (
		sw        model.SwapRequest
		createdAt int64
	)
	err := row.Scan(&sw.ID, &sw.FromHospitalID, &sw.ToHospitalID, &sw.BloodType,
		&sw.Units, &sw.Status, &createdAt)
	if err != nil {
		return model.SwapRequest{}, err
	}
	sw.CreatedAt = time.Unix(createdAt, 0).UTC()
	return sw, nil
}

func (s *Store) CreateSwap(ctx context.Context, sw model.SwapRequest) error {
	if err := sw.Validate(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO swaps (`+swapColumns+`)
        VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sw.ID, sw.FromHospitalID, sw.ToHospitalID, sw.BloodType,
		sw.Units, sw.Status, sw.CreatedAt.Unix())
	if isUniqueViolation(err) {
		return store.ErrConflict
	}
	return err
}

func (s *Store) Swap(ctx context.Context, id string) (model.SwapRequest, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+swapColumns+` FROM swaps WHERE id = ?`, id)
	sw, err := scanSwap(row)
	if err == sql.ErrNoRows {
		return model.SwapRequest{}, store.ErrNotFound
	}
	return sw, err
}

func (s *Store) SwapsIncoming(ctx context.Context, hospitalID string) ([]model.SwapRequest, error) {
	return s.querySwaps(ctx, `SELECT `+swapColumns+` FROM swaps
        WHERE to_hospital_id = ? ORDER BY created_at DESC, id`, hospitalID)
}

func (s *Store) SwapsOutgoing(ctx context.Context, hospitalID string) ([]model.SwapRequest, error) {
	return s.querySwaps(ctx, `SELECT `+swapColumns+` FROM swaps
        WHERE from_hospital_id = ? ORDER BY created_at DESC, id`, hospitalID)
}

func (s *Store) querySwaps(ctx context.Context, query string, args ...any) ([]model.SwapRequest, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []model.SwapRequest
	for rows.Next() {
		sw, err := scanSwap(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sw)
	}
	return out, rows.Err()
}

// ResolveSwap is a conditional UPDATE on the pending status; of two
// concurrent responders exactly one sees an affected row.
func (s *Store) ResolveSwap(ctx context.Context, id, hospitalID string, status model.SwapStatus) (bool, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE swaps SET status = ?
        WHERE id = ? AND to_hospital_id = ? AND status = ?`,
		status, id, hospitalID, model.SwapPending)
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
	row := s.db.QueryRowContext(ctx, `SELECT 1 FROM swaps
        WHERE id = ? AND to_hospital_id = ?`, id, hospitalID)
	if err := row.Scan(&exists); err != nil {
		if err == sql.ErrNoRows {
			return false, store.ErrNotFound
		}
		return false, err
	}
	return false, nil
}
