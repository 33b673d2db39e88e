package repository

import (
	"context"
	"time"

	"github.com/sysu-ecnc-dev/tbm-approval/backend/internal/domain"
)

func (r *Repository) GetTeam(ctx context.Context, teamID int64) (*domain.Team, error) {
	query := `
		SELECT name, created_at FROM teams WHERE id = $1
	`

	ctx, cancel := context.WithTimeout(ctx, time.Duration(r.cfg.Database.QueryTimeout)*time.Second)
	defer cancel()

	team := &domain.Team{ID: teamID}
	if err := r.dbpool.QueryRowContext(ctx, query, teamID).Scan(&team.Name, &team.CreatedAt); err != nil {
		return nil, mapError(err)
	}

	return team, nil
}

func (r *Repository) GetAllTeams(ctx context.Context) ([]*domain.Team, error) {
	query := `
		SELECT id, name, created_at FROM teams ORDER BY id
	`

	ctx, cancel := context.WithTimeout(ctx, time.Duration(r.cfg.Database.QueryTimeout)*time.Second)
	defer cancel()

	rows, err := r.dbpool.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	teams := make([]*domain.Team, 0)
	for rows.Next() {
		team := &domain.Team{}
		if err := rows.Scan(&team.ID, &team.Name, &team.CreatedAt); err != nil {
			return nil, err
		}
		teams = append(teams, team)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return teams, nil
}

// CreateTeam 在同名班组已存在时返回已有班组
func (r *Repository) CreateTeam(ctx context.Context, team *domain.Team) error {
	query := `
		INSERT INTO teams (name, created_at)
		VALUES ($1, $2)
		ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
		RETURNING id, created_at
	`

	ctx, cancel := context.WithTimeout(ctx, time.Duration(r.cfg.Database.QueryTimeout)*time.Second)
	defer cancel()

	return r.dbpool.QueryRowContext(ctx, query, team.Name, team.CreatedAt).Scan(&team.ID, &team.CreatedAt)
}

func (r *Repository) GetRoster(ctx context.Context, teamID int64) ([]*domain.RosterEntry, error) {
	query := `
		SELECT e.user_id, e.member_id, COALESCE(u.full_name, m.full_name), e.joined_on, e.left_on
		FROM roster_entries e
		LEFT JOIN users u ON u.id = e.user_id
		LEFT JOIN roster_members m ON m.id = e.member_id
		WHERE e.team_id = $1
		ORDER BY e.id
	`

	ctx, cancel := context.WithTimeout(ctx, time.Duration(r.cfg.Database.QueryTimeout)*time.Second)
	defer cancel()

	rows, err := r.dbpool.QueryContext(ctx, query, teamID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]*domain.RosterEntry, 0)
	for rows.Next() {
		var userID, memberID *int64
		entry := &domain.RosterEntry{TeamID: teamID}
		if err := rows.Scan(&userID, &memberID, &entry.FullName, &entry.JoinedOn, &entry.LeftOn); err != nil {
			return nil, err
		}
		entry.Attendee = attendeeFrom(userID, memberID)
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return entries, nil
}

// CreateRosterMember 添加一名没有账号的成员并把他加入花名册
func (r *Repository) CreateRosterMember(ctx context.Context, teamID int64, fullName string, joinedOn time.Time) (domain.AttendeeRef, error) {
	ctx, cancel := context.WithTimeout(ctx, time.Duration(r.cfg.Database.TransactionTimeout)*time.Second)
	defer cancel()

	tx, err := r.dbpool.BeginTx(ctx, nil)
	if err != nil {
		return domain.AttendeeRef{}, err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var memberID int64
	query := `
		INSERT INTO roster_members (team_id, full_name) VALUES ($1, $2) RETURNING id
	`
	if err := tx.QueryRowContext(ctx, query, teamID, fullName).Scan(&memberID); err != nil {
		return domain.AttendeeRef{}, err
	}

	query = `
		INSERT INTO roster_entries (team_id, member_id, joined_on) VALUES ($1, $2, $3)
	`
	if _, err := tx.ExecContext(ctx, query, teamID, memberID, joinedOn); err != nil {
		return domain.AttendeeRef{}, err
	}

	if err := tx.Commit(); err != nil {
		return domain.AttendeeRef{}, err
	}

	return domain.RosterOnly(memberID), nil
}

func (r *Repository) CreateRosterEntry(ctx context.Context, entry *domain.RosterEntry) error {
	query := `
		INSERT INTO roster_entries (team_id, user_id, member_id, joined_on, left_on)
		VALUES ($1, $2, $3, $4, $5)
	`

	ctx, cancel := context.WithTimeout(ctx, time.Duration(r.cfg.Database.QueryTimeout)*time.Second)
	defer cancel()

	userID, memberID := attendeeColumns(entry.Attendee)
	_, err := r.dbpool.ExecContext(ctx, query, entry.TeamID, userID, memberID, entry.JoinedOn, entry.LeftOn)
	return err
}
