package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/sysu-ecnc-dev/tbm-approval/backend/internal/domain"
)

type Store interface {
	GetMonth(ctx context.Context, key domain.MonthKey) (*domain.MonthState, error)
	UpdateMonth(ctx context.Context, key domain.MonthKey, fn func(*domain.MonthState) error) (*domain.MonthState, error)
	ListMonthKeys(ctx context.Context) ([]domain.MonthKey, error)
}

// AlertSink 是运维告警通道
type AlertSink interface {
	PublishConsistencyAlert(ctx context.Context, report *domain.ConsistencyReport) error
}

type Service struct {
	store  Store
	alerts AlertSink
	now    func() time.Time
}

func NewService(store Store, alerts AlertSink) *Service {
	return &Service{
		store:  store,
		alerts: alerts,
		now:    time.Now,
	}
}

func buildReport(state *domain.MonthState, now time.Time) *domain.ConsistencyReport {
	stored := domain.SnapshotOf(state.Aggregate)
	expected := Expected(state.Aggregate, state.Request)

	report := &domain.ConsistencyReport{
		Key:           state.Aggregate.Key(),
		Stored:        stored,
		Expected:      expected,
		Drift:         Diff(stored, expected),
		CheckedAt:     now,
		CorrelationID: uuid.NewString(),
	}
	if state.Request != nil {
		id := state.Request.ID
		status := state.Request.Status
		report.RequestID = &id
		report.RequestStatus = &status
	}
	return report
}

// Verify 只读地比较月度记录与审批请求，发现漂移时记录日志并通知运维，但不做修复
func (s *Service) Verify(ctx context.Context, key domain.MonthKey) (*domain.ConsistencyReport, error) {
	state, err := s.store.GetMonth(ctx, key)
	if err != nil {
		return nil, err
	}

	report := buildReport(state, s.now())
	if report.Consistent() {
		return report, nil
	}

	slog.Warn("月度记录与审批请求状态不一致",
		"team_id", key.TeamID,
		"year", key.Year,
		"month", key.Month,
		"correlation_id", report.CorrelationID,
		"drift", report.Drift,
	)
	if s.alerts != nil {
		if err := s.alerts.PublishConsistencyAlert(ctx, report); err != nil {
			slog.Error("无法发送状态不一致告警", "error", err, "correlation_id", report.CorrelationID)
		}
	}

	return report, &domain.ConsistencyViolationError{Report: report}
}

// Resync 用审批请求的状态覆盖月度记录，返回修复前的报告，已经一致时不写入任何数据
func (s *Service) Resync(ctx context.Context, key domain.MonthKey) (*domain.ConsistencyReport, error) {
	var report *domain.ConsistencyReport

	_, err := s.store.UpdateMonth(ctx, key, func(state *domain.MonthState) error {
		if state.Created {
			return domain.ErrNotFound
		}
		report = buildReport(state, s.now())
		if report.Consistent() {
			return nil
		}
		Apply(state)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !report.Consistent() {
		slog.Info("已修复月度记录状态",
			"team_id", key.TeamID,
			"year", key.Year,
			"month", key.Month,
			"correlation_id", report.CorrelationID,
			"drift", report.Drift,
		)
	}

	return report, nil
}

// ForceReset 删除关联的审批请求并把月度记录重置为 SUBMITTED，不论当前处于什么状态
func (s *Service) ForceReset(ctx context.Context, key domain.MonthKey) (*domain.MonthState, error) {
	var before domain.AggregateSnapshot
	var requestID *int64

	state, err := s.store.UpdateMonth(ctx, key, func(state *domain.MonthState) error {
		if state.Created {
			return domain.ErrNotFound
		}
		before = domain.SnapshotOf(state.Aggregate)
		if state.Request != nil {
			id := state.Request.ID
			requestID = &id
		}

		state.Request = nil
		state.Aggregate.Status = domain.AggregateSubmitted
		state.Aggregate.ApprovedAt = nil
		state.Aggregate.ApproverID = nil
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.Warn("已强制重置月度记录",
		"team_id", key.TeamID,
		"year", key.Year,
		"month", key.Month,
		"previous_status", before.Status,
		"deleted_request_id", requestID,
	)

	return state, nil
}

// Sweep 检查所有已存储的月度记录，返回存在漂移的报告
func (s *Service) Sweep(ctx context.Context) ([]*domain.ConsistencyReport, error) {
	keys, err := s.store.ListMonthKeys(ctx)
	if err != nil {
		return nil, err
	}

	drifted := make([]*domain.ConsistencyReport, 0)
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return drifted, err
		}

		report, err := s.Verify(ctx, key)
		if err == nil {
			continue
		}
		if !errors.Is(err, domain.ErrConsistencyViolation) {
			return drifted, fmt.Errorf("检查 %s 失败: %w", key, err)
		}
		drifted = append(drifted, report)
	}

	slog.Info("一致性检查完成", "checked", len(keys), "drifted", len(drifted))

	return drifted, nil
}
