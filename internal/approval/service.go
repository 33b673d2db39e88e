package approval

import (
	"context"
	"time"

	"github.com/sysu-ecnc-dev/tbm-approval/backend/internal/domain"
)

// Store 以月份为单位提供串行化的读写，UpdateMonth 的回调返回错误时所有修改都会回滚
type Store interface {
	GetMonth(ctx context.Context, key domain.MonthKey) (*domain.MonthState, error)
	GetMonthByRequest(ctx context.Context, requestID int64) (*domain.MonthState, error)
	ListMonths(ctx context.Context, year, month int) ([]*domain.MonthState, error)
	UpdateMonth(ctx context.Context, key domain.MonthKey, fn func(*domain.MonthState) error) (*domain.MonthState, error)
}

// RecordReader 提供完整性检查所需的只读数据
type RecordReader interface {
	GetTeam(ctx context.Context, teamID int64) (*domain.Team, error)
	GetAllTeams(ctx context.Context) ([]*domain.Team, error)
	GetRoster(ctx context.Context, teamID int64) ([]*domain.RosterEntry, error)
	GetDailyRecords(ctx context.Context, teamID int64, from, to time.Time) ([]*domain.DailyRecord, error)
	GetAbsences(ctx context.Context, teamID int64, from, to time.Time) ([]*domain.AbsenceEntry, error)
}

type Service struct {
	store  Store
	reader RecordReader
	loc    *time.Location
	now    func() time.Time
}

func NewService(store Store, reader RecordReader, loc *time.Location) *Service {
	if loc == nil {
		loc = time.Local
	}
	return &Service{
		store:  store,
		reader: reader,
		loc:    loc,
		now:    time.Now,
	}
}

// SetClock 替换当前时间来源，只在测试和数据填充中使用
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

func view(state *domain.MonthState) *domain.MonthView {
	return &domain.MonthView{
		Aggregate: state.Aggregate,
		Request:   state.Request,
		Approved:  state.Aggregate.IsApproved(),
	}
}

func withRequestRef(state *domain.MonthState) *domain.MonthState {
	if state.Request != nil {
		id := state.Request.ID
		state.Aggregate.EscalationRequestID = &id
	} else {
		state.Aggregate.EscalationRequestID = nil
	}
	return state
}

func timePtr(t time.Time) *time.Time {
	return &t
}

func int64Ptr(v int64) *int64 {
	return &v
}
