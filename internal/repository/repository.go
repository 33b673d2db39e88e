package repository

import (
	"database/sql"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sysu-ecnc-dev/tbm-approval/backend/internal/config"
	"github.com/sysu-ecnc-dev/tbm-approval/backend/internal/domain"
)

type Repository struct {
	cfg    *config.Config
	dbpool *sql.DB
}

func NewRepository(cfg *config.Config, dbpool *sql.DB) *Repository {
	return &Repository{
		cfg:    cfg,
		dbpool: dbpool,
	}
}

type scanner interface {
	Scan(dest ...any) error
}

// mapError 把数据库错误转换为领域错误，无法识别的错误原样返回
func mapError(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrNotFound
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.ConstraintName {
		case "escalation_requests_aggregate_id_key":
			return domain.ErrAlreadySubmitted
		case "monthly_aggregates_team_id_fkey":
			return domain.ErrNotFound
		}
	}

	return err
}

// attendeeColumns 把 AttendeeRef 拆成 user_id 和 member_id 两列，两者恰好有一个非空
func attendeeColumns(a domain.AttendeeRef) (*int64, *int64) {
	id := a.ID
	if a.Kind == domain.AttendeeRegistered {
		return &id, nil
	}
	return nil, &id
}

func attendeeFrom(userID, memberID *int64) domain.AttendeeRef {
	if userID != nil {
		return domain.Registered(*userID)
	}
	if memberID != nil {
		return domain.RosterOnly(*memberID)
	}
	return domain.AttendeeRef{}
}
