package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/kilianp07/hemolink/core/model"
	"github.com/kilianp07/hemolink/core/store"
)

const pledgeColumns = `id, request_id, donor_id, status, eta_minutes,
    available_for, code, report, feedback_rating, feedback_comment,
    feedback_at, certificate_id, created_at`

func scanPledge(row interface{ Scan(...any) error }) (model.Pledge, error) {
	var (
		p          model.Pledge
		report     sql.NullString
		feedbackAt sql.NullInt64
		createdAt  int64
	)
	err := row.Scan(&p.ID, &p.RequestID, &p.DonorID, &p.Status, &p.EtaMinutes,
		&p.AvailableForMinutes, &p.Code, &report, &p.FeedbackRating,
		&p.FeedbackComment, &feedbackAt, &p.CertificateID, &createdAt)
	if err != nil {
		return model.Pledge{}, err
	}
	if report.Valid && report.String != "" {
		if err := json.Unmarshal([]byte(report.String), &p.Report); err != nil {
			return model.Pledge{}, err
		}
	}
	p.FeedbackAt = scanTime(feedbackAt)
	p.CreatedAt = time.Unix(createdAt, 0).UTC()
	return p, nil
}

// CreatePledge relies on the partial unique index over non-cancelled
// (request, donor) pairs; a violation surfaces as ErrConflict.
func (s *Store) CreatePledge(ctx context.Context, p model.Pledge) error {
	if err := p.Validate(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO pledges
        (id, request_id, donor_id, status, eta_minutes, available_for, code, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.RequestID, p.DonorID, p.Status, p.EtaMinutes,
		p.AvailableForMinutes, p.Code, p.CreatedAt.Unix())
	if isUniqueViolation(err) {
		return store.ErrConflict
	}
	return err
}

func (s *Store) Pledge(ctx context.Context, id string) (model.Pledge, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+pledgeColumns+` FROM pledges WHERE id = ?`, id)
	p, err := scanPledge(row)
	if err == sql.ErrNoRows {
		return model.Pledge{}, store.ErrNotFound
	}
	return p, err
}

func (s *Store) PledgesByRequest(ctx context.Context, requestID string, statuses ...model.PledgeStatus) ([]model.Pledge, error) {
	query := `SELECT ` + pledgeColumns + ` FROM pledges WHERE request_id = ?`
	args := []any{requestID}
	if len(statuses) > 0 {
		query += ` AND status IN (?` + strings.Repeat(", ?", len(statuses)-1) + `)`
		for _, st := range statuses {
			args = append(args, st)
		}
	}
	query += ` ORDER BY created_at DESC, id`
	return s.queryPledges(ctx, query, args...)
}

func (s *Store) PledgesByDonor(ctx context.Context, donorID string) ([]model.Pledge, error) {
	return s.queryPledges(ctx, `SELECT `+pledgeColumns+` FROM pledges
        WHERE donor_id = ? ORDER BY created_at DESC, id`, donorID)
}

func (s *Store) FeedbackByRequest(ctx context.Context, requestID string) ([]model.Pledge, error) {
	return s.queryPledges(ctx, `SELECT `+pledgeColumns+` FROM pledges
        WHERE request_id = ? AND feedback_rating > 0 ORDER BY created_at DESC, id`, requestID)
}

func (s *Store) queryPledges(ctx context.Context, query string, args ...any) ([]model.Pledge, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []model.Pledge
	for rows.Next() {
		p, err := scanPledge(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) CancelPledge(ctx context.Context, requestID, donorID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE pledges SET status = ?
        WHERE request_id = ? AND donor_id = ? AND status = ?`,
		model.PledgeCancelled, requestID, donorID, model.PledgePledged)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ArrivePledge runs the lookup and the transition in one transaction so a
// concurrent verification cannot arrive the same pledge twice.
func (s *Store) ArrivePledge(ctx context.Context, requestID, code string, report model.WellnessReport, certificateID string, at time.Time) (model.Pledge, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Pledge{}, false, err
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `SELECT `+pledgeColumns+` FROM pledges
        WHERE request_id = ? AND code = ? AND status != ?`,
		requestID, code, model.PledgeCancelled)
	p, err := scanPledge(row)
	if err == sql.ErrNoRows {
		return model.Pledge{}, false, store.ErrNotFound
	}
	if err != nil {
		return model.Pledge{}, false, err
	}
	if p.Status == model.PledgeArrived {
		return p, false, nil
	}

	if report.ReportAt == nil {
		t := at
		report.ReportAt = &t
	}
	reportJSON, err := json.Marshal(report)
	if err != nil {
		return model.Pledge{}, false, err
	}
	_, err = tx.ExecContext(ctx, `UPDATE pledges
        SET status = ?, report = ?, certificate_id = ?
        WHERE id = ? AND status = ?`,
		model.PledgeArrived, string(reportJSON), certificateID, p.ID, model.PledgePledged)
	if err != nil {
		return model.Pledge{}, false, err
	}
	if err := tx.Commit(); err != nil {
		return model.Pledge{}, false, err
	}

	p.Status = model.PledgeArrived
	p.Report = report
	p.CertificateID = certificateID
	return p, true, nil
}

func (s *Store) SetFeedback(ctx context.Context, pledgeID, donorID string, rating int, comment string, at time.Time) (model.Pledge, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Pledge{}, err
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `SELECT `+pledgeColumns+` FROM pledges WHERE id = ?`, pledgeID)
	p, err := scanPledge(row)
	if err == sql.ErrNoRows || (err == nil && p.DonorID != donorID) {
		return model.Pledge{}, store.ErrNotFound
	}
	if err != nil {
		return model.Pledge{}, err
	}
	if p.Status != model.PledgeArrived {
		return model.Pledge{}, store.ErrConflict
	}

	_, err = tx.ExecContext(ctx, `UPDATE pledges
        SET feedback_rating = ?, feedback_comment = ?, feedback_at = ?
        WHERE id = ?`, rating, comment, at.Unix(), pledgeID)
	if err != nil {
		return model.Pledge{}, err
	}
	if err := tx.Commit(); err != nil {
		return model.Pledge{}, err
	}

	p.FeedbackRating = rating
	p.FeedbackComment = comment
	t := at.UTC()
	p.FeedbackAt = &t
	return p, nil
}

func (s *Store) ActiveCodeExists(ctx context.Context, code string) (bool, error) {
	var exists int
	row := s.db.QueryRowContext(ctx, `SELECT EXISTS(
        SELECT 1 FROM pledges WHERE code = ? AND status = ?)`, code, model.PledgePledged)
	if err := row.Scan(&exists); err != nil {
		return false, err
	}
	return exists != 0, nil
}
