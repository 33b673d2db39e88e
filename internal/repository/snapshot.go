package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/sysu-ecnc-dev/tbm-approval/backend/internal/domain"
	"github.com/sysu-ecnc-dev/tbm-approval/backend/internal/scheduler"
)

// Snapshot 在一个只读的 REPEATABLE READ 事务中读取提醒检查所需的数据，
// 保证同一轮检查不会看到提交到一半的状态变更
func (r *Repository) Snapshot(ctx context.Context) (*scheduler.Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, time.Duration(r.cfg.Database.TransactionTimeout)*time.Second)
	defer cancel()

	tx, err := r.dbpool.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	snap := &scheduler.Snapshot{
		Teams:          make([]*domain.Team, 0),
		ApprovedMonths: make(map[domain.MonthKey]bool),
		LastRecords:    make(map[int64]time.Time),
	}

	if err := tx.QueryRowContext(ctx, `SELECT NOW()`).Scan(&snap.TakenAt); err != nil {
		return nil, err
	}

	teamRows, err := tx.QueryContext(ctx, `SELECT id, name, created_at FROM teams ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer teamRows.Close()

	for teamRows.Next() {
		team := &domain.Team{}
		if err := teamRows.Scan(&team.ID, &team.Name, &team.CreatedAt); err != nil {
			return nil, err
		}
		snap.Teams = append(snap.Teams, team)
	}
	if err := teamRows.Err(); err != nil {
		return nil, err
	}

	snap.Months, err = queryMonths(ctx, tx, selectMonth+` WHERE a.status <> 'APPROVED' ORDER BY a.id`)
	if err != nil {
		return nil, err
	}

	// 已审批的月份只需要最近几个月的键，用于判断上个月是否已经关闭
	since := snap.TakenAt.AddDate(0, -3, 0)
	approvedRows, err := tx.QueryContext(ctx, `
		SELECT team_id, year, month FROM monthly_aggregates
		WHERE status = 'APPROVED' AND year * 12 + month >= $1
	`, since.Year()*12+int(since.Month()))
	if err != nil {
		return nil, err
	}
	defer approvedRows.Close()

	for approvedRows.Next() {
		var key domain.MonthKey
		if err := approvedRows.Scan(&key.TeamID, &key.Year, &key.Month); err != nil {
			return nil, err
		}
		snap.ApprovedMonths[key] = true
	}
	if err := approvedRows.Err(); err != nil {
		return nil, err
	}

	lastRows, err := tx.QueryContext(ctx, `SELECT team_id, MAX(record_date) FROM daily_records GROUP BY team_id`)
	if err != nil {
		return nil, err
	}
	defer lastRows.Close()

	for lastRows.Next() {
		var teamID int64
		var last time.Time
		if err := lastRows.Scan(&teamID, &last); err != nil {
			return nil, err
		}
		snap.LastRecords[teamID] = last
	}
	if err := lastRows.Err(); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return snap, nil
}

// Recipients 根据规则解析提醒的收件人，不隶属于任何班组的审批人负责所有班组
func (r *Repository) Recipients(ctx context.Context, teamID int64, rule scheduler.RecipientRule) ([]domain.Recipient, error) {
	var query string
	var args []any

	switch rule {
	case scheduler.RecipientAdmins:
		query = `
			SELECT id, full_name, email FROM users
			WHERE role = 'admin' AND is_active
			ORDER BY id
		`
	case scheduler.RecipientTeamApprovers:
		query = `
			SELECT id, full_name, email FROM users
			WHERE role = 'approver' AND is_active AND (team_id = $1 OR team_id IS NULL)
			ORDER BY id
		`
		args = append(args, teamID)
	default:
		role := domain.RoleLeader
		if rule == scheduler.RecipientTeamManagers {
			role = domain.RoleManager
		}
		query = `
			SELECT id, full_name, email FROM users
			WHERE role = $1 AND is_active AND team_id = $2
			ORDER BY id
		`
		args = append(args, role, teamID)
	}

	ctx, cancel := context.WithTimeout(ctx, time.Duration(r.cfg.Database.QueryTimeout)*time.Second)
	defer cancel()

	rows, err := r.dbpool.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	recipients := make([]domain.Recipient, 0)
	for rows.Next() {
		var recipient domain.Recipient
		if err := rows.Scan(&recipient.UserID, &recipient.FullName, &recipient.Email); err != nil {
			return nil, err
		}
		recipients = append(recipients, recipient)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return recipients, nil
}
