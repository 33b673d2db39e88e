package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sysu-ecnc-dev/tbm-approval/backend/internal/domain"
)

const selectMonth = `
	SELECT
		a.id, a.team_id, a.year, a.month, a.status, a.submitted_at, a.approved_at, a.approver_id, a.created_at, a.version,
		r.id, r.aggregate_id, r.status, r.phase, r.requested_at, r.requested_by,
		r.manager_id, r.manager_signature, r.manager_signed_at,
		r.approver_signature, r.approver_signed_at, r.approver_signed_by,
		r.approver_id, r.approved_at, r.decided_at, r.version
	FROM monthly_aggregates a
	LEFT JOIN escalation_requests r ON r.aggregate_id = a.id
`

// requestRow 接收 LEFT JOIN 之后可能全部为 NULL 的审批请求列
type requestRow struct {
	ID                *int64
	AggregateID       *int64
	Status            *string
	Phase             *string
	RequestedAt       *time.Time
	RequestedBy       *int64
	ManagerID         *int64
	ManagerSignature  *string
	ManagerSignedAt   *time.Time
	ApproverSignature *string
	ApproverSignedAt  *time.Time
	ApproverSignedBy  *int64
	ApproverID        *int64
	ApprovedAt        *time.Time
	DecidedAt         *time.Time
	Version           *int32
}

func (row *requestRow) toDomain() *domain.EscalationRequest {
	if row.ID == nil {
		return nil
	}
	return &domain.EscalationRequest{
		ID:                *row.ID,
		AggregateID:       *row.AggregateID,
		Status:            domain.EscalationStatus(*row.Status),
		Phase:             domain.SignaturePhase(*row.Phase),
		RequestedAt:       *row.RequestedAt,
		RequestedBy:       *row.RequestedBy,
		ManagerID:         row.ManagerID,
		ManagerSignature:  *row.ManagerSignature,
		ManagerSignedAt:   row.ManagerSignedAt,
		ApproverSignature: *row.ApproverSignature,
		ApproverSignedAt:  row.ApproverSignedAt,
		ApproverSignedBy:  row.ApproverSignedBy,
		ApproverID:        row.ApproverID,
		ApprovedAt:        row.ApprovedAt,
		DecidedAt:         row.DecidedAt,
		Version:           *row.Version,
	}
}

func scanMonth(s scanner) (*domain.MonthState, error) {
	agg := &domain.MonthlyAggregate{}
	row := &requestRow{}

	dst := []any{
		&agg.ID, &agg.TeamID, &agg.Year, &agg.Month, &agg.Status, &agg.SubmittedAt, &agg.ApprovedAt, &agg.ApproverID, &agg.CreatedAt, &agg.Version,
		&row.ID, &row.AggregateID, &row.Status, &row.Phase, &row.RequestedAt, &row.RequestedBy,
		&row.ManagerID, &row.ManagerSignature, &row.ManagerSignedAt,
		&row.ApproverSignature, &row.ApproverSignedAt, &row.ApproverSignedBy,
		&row.ApproverID, &row.ApprovedAt, &row.DecidedAt, &row.Version,
	}
	if err := s.Scan(dst...); err != nil {
		return nil, err
	}

	return &domain.MonthState{Aggregate: agg, Request: row.toDomain()}, nil
}

func (r *Repository) GetMonth(ctx context.Context, key domain.MonthKey) (*domain.MonthState, error) {
	query := selectMonth + ` WHERE a.team_id = $1 AND a.year = $2 AND a.month = $3`

	ctx, cancel := context.WithTimeout(ctx, time.Duration(r.cfg.Database.QueryTimeout)*time.Second)
	defer cancel()

	state, err := scanMonth(r.dbpool.QueryRowContext(ctx, query, key.TeamID, key.Year, key.Month))
	if err != nil {
		return nil, mapError(err)
	}

	return state, nil
}

func (r *Repository) GetMonthByRequest(ctx context.Context, requestID int64) (*domain.MonthState, error) {
	query := selectMonth + ` WHERE r.id = $1`

	ctx, cancel := context.WithTimeout(ctx, time.Duration(r.cfg.Database.QueryTimeout)*time.Second)
	defer cancel()

	state, err := scanMonth(r.dbpool.QueryRowContext(ctx, query, requestID))
	if err != nil {
		return nil, mapError(err)
	}

	return state, nil
}

func queryMonths(ctx context.Context, q interface {
	QueryContext(context.Context, string, ...any) (*sql.Rows, error)
}, query string, args ...any) ([]*domain.MonthState, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	states := make([]*domain.MonthState, 0)
	for rows.Next() {
		state, err := scanMonth(rows)
		if err != nil {
			return nil, err
		}
		states = append(states, state)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return states, nil
}

func (r *Repository) ListMonths(ctx context.Context, year, month int) ([]*domain.MonthState, error) {
	query := selectMonth + ` WHERE a.year = $1 AND a.month = $2 ORDER BY a.team_id`

	ctx, cancel := context.WithTimeout(ctx, time.Duration(r.cfg.Database.QueryTimeout)*time.Second)
	defer cancel()

	return queryMonths(ctx, r.dbpool, query, year, month)
}

func (r *Repository) ListMonthKeys(ctx context.Context) ([]domain.MonthKey, error) {
	query := `
		SELECT team_id, year, month FROM monthly_aggregates ORDER BY team_id, year, month
	`

	ctx, cancel := context.WithTimeout(ctx, time.Duration(r.cfg.Database.QueryTimeout)*time.Second)
	defer cancel()

	rows, err := r.dbpool.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	keys := make([]domain.MonthKey, 0)
	for rows.Next() {
		var key domain.MonthKey
		if err := rows.Scan(&key.TeamID, &key.Year, &key.Month); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return keys, nil
}

// UpdateMonth 在一个事务内锁住月度记录并执行 fn，之后把月度记录与审批请求的变化一起提交
//
// 月度记录不存在时会先创建一条 OPEN 记录，fn 返回错误时连同这次创建一起回滚。
func (r *Repository) UpdateMonth(ctx context.Context, key domain.MonthKey, fn func(*domain.MonthState) error) (*domain.MonthState, error) {
	ctx, cancel := context.WithTimeout(ctx, time.Duration(r.cfg.Database.TransactionTimeout)*time.Second)
	defer cancel()

	tx, err := r.dbpool.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	insertQuery := `
		INSERT INTO monthly_aggregates (team_id, year, month)
		VALUES ($1, $2, $3)
		ON CONFLICT (team_id, year, month) DO NOTHING
	`
	res, err := tx.ExecContext(ctx, insertQuery, key.TeamID, key.Year, key.Month)
	if err != nil {
		return nil, mapError(err)
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}

	lockQuery := selectMonth + ` WHERE a.team_id = $1 AND a.year = $2 AND a.month = $3 FOR UPDATE OF a`
	state, err := scanMonth(tx.QueryRowContext(ctx, lockQuery, key.TeamID, key.Year, key.Month))
	if err != nil {
		return nil, mapError(err)
	}
	state.Created = inserted == 1

	original := snapshotState(state)
	if err := fn(state); err != nil {
		return nil, err
	}

	if err := writeRequest(ctx, tx, state.Aggregate.ID, original.Request, state.Request); err != nil {
		return nil, mapError(err)
	}
	if aggregateChanged(original.Aggregate, state.Aggregate) {
		if err := updateAggregate(ctx, tx, state.Aggregate); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	state.Created = false
	return state, nil
}

func snapshotState(state *domain.MonthState) *domain.MonthState {
	agg := *state.Aggregate
	out := &domain.MonthState{Aggregate: &agg}
	if state.Request != nil {
		req := *state.Request
		out.Request = &req
	}
	return out
}

func updateAggregate(ctx context.Context, tx *sql.Tx, agg *domain.MonthlyAggregate) error {
	query := `
		UPDATE monthly_aggregates
		SET
			status = $1,
			submitted_at = $2,
			approved_at = $3,
			approver_id = $4,
			version = version + 1
		WHERE id = $5 AND version = $6
		RETURNING version
	`

	args := []any{agg.Status, agg.SubmittedAt, agg.ApprovedAt, agg.ApproverID, agg.ID, agg.Version}
	if err := tx.QueryRowContext(ctx, query, args...).Scan(&agg.Version); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("月度记录 %d 已被并发修改", agg.ID)
		}
		return err
	}

	return nil
}

// writeRequest 根据事务前后的差异删除、插入或更新审批请求
func writeRequest(ctx context.Context, tx *sql.Tx, aggregateID int64, before, after *domain.EscalationRequest) error {
	if before != nil && (after == nil || after.ID != before.ID) {
		if _, err := tx.ExecContext(ctx, `DELETE FROM escalation_requests WHERE id = $1`, before.ID); err != nil {
			return err
		}
	}

	if after == nil {
		return nil
	}

	if after.ID == 0 {
		query := `
			INSERT INTO escalation_requests (
				aggregate_id, status, phase, requested_at, requested_by,
				manager_id, manager_signature, manager_signed_at,
				approver_signature, approver_signed_at, approver_signed_by,
				approver_id, approved_at, decided_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
			RETURNING id, version
		`
		after.AggregateID = aggregateID
		args := []any{
			after.AggregateID, after.Status, after.Phase, after.RequestedAt, after.RequestedBy,
			after.ManagerID, after.ManagerSignature, after.ManagerSignedAt,
			after.ApproverSignature, after.ApproverSignedAt, after.ApproverSignedBy,
			after.ApproverID, after.ApprovedAt, after.DecidedAt,
		}
		return tx.QueryRowContext(ctx, query, args...).Scan(&after.ID, &after.Version)
	}

	if !requestChanged(before, after) {
		return nil
	}

	query := `
		UPDATE escalation_requests
		SET
			status = $1,
			phase = $2,
			manager_id = $3,
			manager_signature = $4,
			manager_signed_at = $5,
			approver_signature = $6,
			approver_signed_at = $7,
			approver_signed_by = $8,
			approver_id = $9,
			approved_at = $10,
			decided_at = $11,
			version = version + 1
		WHERE id = $12 AND version = $13
		RETURNING version
	`
	args := []any{
		after.Status, after.Phase,
		after.ManagerID, after.ManagerSignature, after.ManagerSignedAt,
		after.ApproverSignature, after.ApproverSignedAt, after.ApproverSignedBy,
		after.ApproverID, after.ApprovedAt, after.DecidedAt,
		after.ID, after.Version,
	}
	if err := tx.QueryRowContext(ctx, query, args...).Scan(&after.Version); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("审批请求 %d 已被并发修改", after.ID)
		}
		return err
	}

	return nil
}

func aggregateChanged(a, b *domain.MonthlyAggregate) bool {
	return a.Status != b.Status ||
		!sameTime(a.SubmittedAt, b.SubmittedAt) ||
		!sameTime(a.ApprovedAt, b.ApprovedAt) ||
		!sameID(a.ApproverID, b.ApproverID)
}

func requestChanged(a, b *domain.EscalationRequest) bool {
	return a.Status != b.Status ||
		a.Phase != b.Phase ||
		a.ManagerSignature != b.ManagerSignature ||
		a.ApproverSignature != b.ApproverSignature ||
		!sameID(a.ManagerID, b.ManagerID) ||
		!sameID(a.ApproverSignedBy, b.ApproverSignedBy) ||
		!sameID(a.ApproverID, b.ApproverID) ||
		!sameTime(a.ManagerSignedAt, b.ManagerSignedAt) ||
		!sameTime(a.ApproverSignedAt, b.ApproverSignedAt) ||
		!sameTime(a.ApprovedAt, b.ApprovedAt) ||
		!sameTime(a.DecidedAt, b.DecidedAt)
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

func sameID(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
