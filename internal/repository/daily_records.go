package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/sysu-ecnc-dev/tbm-approval/backend/internal/domain"
)

// GetDailyRecords 返回 [from, to] 内的班前会记录及其检查结果和签名
func (r *Repository) GetDailyRecords(ctx context.Context, teamID int64, from, to time.Time) ([]*domain.DailyRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, time.Duration(r.cfg.Database.QueryTimeout)*time.Second)
	defer cancel()

	query := `
		SELECT id, record_date, remarks, created_at
		FROM daily_records
		WHERE team_id = $1 AND record_date BETWEEN $2 AND $3
		ORDER BY record_date
	`
	rows, err := r.dbpool.QueryContext(ctx, query, teamID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]*domain.DailyRecord, 0)
	byID := make(map[int64]*domain.DailyRecord)
	for rows.Next() {
		record := &domain.DailyRecord{
			TeamID:     teamID,
			Results:    make([]domain.CheckResult, 0),
			Signatures: make([]domain.AttendeeSignature, 0),
		}
		if err := rows.Scan(&record.ID, &record.Date, &record.Remarks, &record.CreatedAt); err != nil {
			return nil, err
		}
		records = append(records, record)
		byID[record.ID] = record
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return records, nil
	}

	query = `
		SELECT s.record_id, s.user_id, s.member_id, s.signature_image, s.signed_at
		FROM daily_record_signatures s
		JOIN daily_records d ON d.id = s.record_id
		WHERE d.team_id = $1 AND d.record_date BETWEEN $2 AND $3
	`
	sigRows, err := r.dbpool.QueryContext(ctx, query, teamID, from, to)
	if err != nil {
		return nil, err
	}
	defer sigRows.Close()

	for sigRows.Next() {
		var recordID int64
		var userID, memberID *int64
		var sig domain.AttendeeSignature
		if err := sigRows.Scan(&recordID, &userID, &memberID, &sig.SignatureImage, &sig.SignedAt); err != nil {
			return nil, err
		}
		sig.Attendee = attendeeFrom(userID, memberID)
		if record, ok := byID[recordID]; ok {
			record.Signatures = append(record.Signatures, sig)
		}
	}
	if err := sigRows.Err(); err != nil {
		return nil, err
	}

	query = `
		SELECT res.record_id, res.item_id, res.state, res.remediation_note, res.evidence_images
		FROM daily_record_results res
		JOIN daily_records d ON d.id = res.record_id
		WHERE d.team_id = $1 AND d.record_date BETWEEN $2 AND $3
		ORDER BY res.record_id, res.item_id
	`
	resRows, err := r.dbpool.QueryContext(ctx, query, teamID, from, to)
	if err != nil {
		return nil, err
	}
	defer resRows.Close()

	m := pgtype.NewMap()
	for resRows.Next() {
		var recordID int64
		var result domain.CheckResult
		if err := resRows.Scan(&recordID, &result.ItemID, &result.State, &result.RemediationNote, m.SQLScanner(&result.EvidenceImages)); err != nil {
			return nil, err
		}
		if record, ok := byID[recordID]; ok {
			record.Results = append(record.Results, result)
		}
	}
	if err := resRows.Err(); err != nil {
		return nil, err
	}

	return records, nil
}

// CreateDailyRecord 写入一条班前会记录，当天已有记录时覆盖其内容
func (r *Repository) CreateDailyRecord(ctx context.Context, record *domain.DailyRecord) error {
	ctx, cancel := context.WithTimeout(ctx, time.Duration(r.cfg.Database.TransactionTimeout)*time.Second)
	defer cancel()

	tx, err := r.dbpool.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	query := `
		INSERT INTO daily_records (team_id, record_date, remarks)
		VALUES ($1, $2, $3)
		ON CONFLICT (team_id, record_date) DO UPDATE SET remarks = EXCLUDED.remarks
		RETURNING id, created_at
	`
	if err := tx.QueryRowContext(ctx, query, record.TeamID, record.Date, record.Remarks).Scan(&record.ID, &record.CreatedAt); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM daily_record_results WHERE record_id = $1`, record.ID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM daily_record_signatures WHERE record_id = $1`, record.ID); err != nil {
		return err
	}

	for _, result := range record.Results {
		query := `
			INSERT INTO daily_record_results (record_id, item_id, state, remediation_note, evidence_images)
			VALUES ($1, $2, $3, $4, $5)
		`
		images := result.EvidenceImages
		if images == nil {
			images = []string{}
		}
		if _, err := tx.ExecContext(ctx, query, record.ID, result.ItemID, result.State, result.RemediationNote, images); err != nil {
			return err
		}
	}

	for _, sig := range record.Signatures {
		query := `
			INSERT INTO daily_record_signatures (record_id, user_id, member_id, signature_image, signed_at)
			VALUES ($1, $2, $3, $4, $5)
		`
		userID, memberID := attendeeColumns(sig.Attendee)
		if _, err := tx.ExecContext(ctx, query, record.ID, userID, memberID, sig.SignatureImage, sig.SignedAt); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (r *Repository) GetAbsences(ctx context.Context, teamID int64, from, to time.Time) ([]*domain.AbsenceEntry, error) {
	query := `
		SELECT id, absence_date, user_id, member_id, reason
		FROM absence_entries
		WHERE team_id = $1 AND absence_date BETWEEN $2 AND $3
		ORDER BY absence_date, id
	`

	ctx, cancel := context.WithTimeout(ctx, time.Duration(r.cfg.Database.QueryTimeout)*time.Second)
	defer cancel()

	rows, err := r.dbpool.QueryContext(ctx, query, teamID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	absences := make([]*domain.AbsenceEntry, 0)
	for rows.Next() {
		var userID, memberID *int64
		absence := &domain.AbsenceEntry{TeamID: teamID}
		if err := rows.Scan(&absence.ID, &absence.Date, &userID, &memberID, &absence.Reason); err != nil {
			return nil, err
		}
		absence.Attendee = attendeeFrom(userID, memberID)
		absences = append(absences, absence)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return absences, nil
}

func (r *Repository) CreateAbsence(ctx context.Context, absence *domain.AbsenceEntry) error {
	query := `
		INSERT INTO absence_entries (team_id, absence_date, user_id, member_id, reason)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`

	ctx, cancel := context.WithTimeout(ctx, time.Duration(r.cfg.Database.QueryTimeout)*time.Second)
	defer cancel()

	userID, memberID := attendeeColumns(absence.Attendee)
	args := []any{absence.TeamID, absence.Date, userID, memberID, absence.Reason}
	return r.dbpool.QueryRowContext(ctx, query, args...).Scan(&absence.ID)
}
