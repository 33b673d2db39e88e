package approval

import (
	"context"
	"time"

	"github.com/sysu-ecnc-dev/tbm-approval/backend/internal/domain"
)

// Workspace 是调用者登录后看到的工作范围
type Workspace struct {
	User  *domain.User        `json:"user"`
	Team  *domain.Team        `json:"team"`  // 不隶属于班组时为 nil
	Year  int                 `json:"year"`  // 待提交或待审批的月份，即上一个自然月
	Month int                 `json:"month"`
	Todo  []*domain.MonthView `json:"todo"`
}

// Workspace 班组成员看到本班组上个月的状态；审批人和管理员看到上个月所有已提交、等待审批的班组
func (s *Service) Workspace(ctx context.Context, user *domain.User) (*Workspace, error) {
	now := s.now().In(s.loc)
	prev := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, s.loc).AddDate(0, -1, 0)

	ws := &Workspace{
		User:  user,
		Year:  prev.Year(),
		Month: int(prev.Month()),
		Todo:  make([]*domain.MonthView, 0),
	}

	if user.TeamID != nil {
		team, err := s.reader.GetTeam(ctx, *user.TeamID)
		if err != nil {
			return nil, err
		}
		ws.Team = team

		month, err := s.GetMonth(ctx, domain.MonthKey{TeamID: team.ID, Year: ws.Year, Month: ws.Month})
		if err != nil {
			return nil, err
		}
		ws.Todo = append(ws.Todo, month)
		return ws, nil
	}

	if user.Role != domain.RoleApprover && user.Role != domain.RoleAdmin {
		return ws, nil
	}

	months, err := s.ListMonths(ctx, ws.Year, ws.Month)
	if err != nil {
		return nil, err
	}
	for _, month := range months {
		if month.Aggregate.Status == domain.AggregateSubmitted {
			ws.Todo = append(ws.Todo, month)
		}
	}
	return ws, nil
}
