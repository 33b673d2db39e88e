package approval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/sysu-ecnc-dev/tbm-approval/backend/internal/domain"
	"github.com/sysu-ecnc-dev/tbm-approval/backend/internal/reconcile"
)

// GetMonth 返回月度记录的当前状态，尚未被操作过的月份视为 OPEN
func (s *Service) GetMonth(ctx context.Context, key domain.MonthKey) (*domain.MonthView, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}

	state, err := s.store.GetMonth(ctx, key)
	if err == nil {
		return view(withRequestRef(state)), nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	// 区分 "班组不存在" 和 "该月份尚未创建"
	if _, err := s.reader.GetTeam(ctx, key.TeamID); err != nil {
		return nil, err
	}
	return view(&domain.MonthState{Aggregate: domain.NewMonthlyAggregate(key)}), nil
}

// ListMonths 返回所有班组在指定月份的状态，供仪表盘使用
func (s *Service) ListMonths(ctx context.Context, year, month int) ([]*domain.MonthView, error) {
	teams, err := s.reader.GetAllTeams(ctx)
	if err != nil {
		return nil, err
	}
	states, err := s.store.ListMonths(ctx, year, month)
	if err != nil {
		return nil, err
	}

	byTeam := make(map[int64]*domain.MonthState, len(states))
	for _, state := range states {
		byTeam[state.Aggregate.TeamID] = state
	}

	views := make([]*domain.MonthView, 0, len(teams))
	for _, team := range teams {
		if state, ok := byTeam[team.ID]; ok {
			views = append(views, view(withRequestRef(state)))
			continue
		}
		key := domain.MonthKey{TeamID: team.ID, Year: year, Month: month}
		views = append(views, view(&domain.MonthState{Aggregate: domain.NewMonthlyAggregate(key)}))
	}

	return views, nil
}

// Submit 通过完整性检查后创建新的审批请求，并把月度记录置为 SUBMITTED
func (s *Service) Submit(ctx context.Context, key domain.MonthKey, requestedBy int64) (*domain.MonthView, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}

	// 先在事务外做一次检查，避免不完整的月份占用行锁
	if err := s.CheckCompleteness(ctx, key); err != nil {
		return nil, err
	}

	state, err := s.store.UpdateMonth(ctx, key, func(state *domain.MonthState) error {
		if state.Aggregate.Status == domain.AggregateApproved {
			return domain.ErrAlreadySubmitted
		}
		if state.Request != nil && state.Request.Active() {
			return domain.ErrAlreadySubmitted
		}

		now := s.now()
		// 被驳回的请求直接删除，重新走一遍签名流程
		state.Request = domain.NewEscalationRequest(state.Aggregate.ID, requestedBy, now)
		state.Aggregate.SubmittedAt = timePtr(now)
		reconcile.Apply(state)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("提交 %s 失败: %w", key, err)
	}

	slog.Info("月度记录已提交审批",
		"team_id", key.TeamID,
		"year", key.Year,
		"month", key.Month,
		"request_id", state.Request.ID,
		"requested_by", requestedBy,
	)

	return view(withRequestRef(state)), nil
}

// Reopen 删除当前审批请求并把月度记录重置为 SUBMITTED，对已经处于该状态的月份是幂等的
func (s *Service) Reopen(ctx context.Context, key domain.MonthKey) (*domain.MonthView, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}

	var deleted *int64
	state, err := s.store.UpdateMonth(ctx, key, func(state *domain.MonthState) error {
		if state.Created {
			return domain.ErrNotFound
		}
		if state.Aggregate.Status == domain.AggregateOpen {
			return domain.ErrInvalidTransition
		}

		if state.Request != nil {
			deleted = int64Ptr(state.Request.ID)
		}
		state.Request = nil
		state.Aggregate.Status = domain.AggregateSubmitted
		reconcile.Apply(state)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("撤回 %s 失败: %w", key, err)
	}

	if deleted != nil {
		slog.Info("月度记录已撤回",
			"team_id", key.TeamID,
			"year", key.Year,
			"month", key.Month,
			"deleted_request_id", *deleted,
		)
	}

	return view(withRequestRef(state)), nil
}
