package reconcile

import (
	"strconv"
	"time"

	"github.com/sysu-ecnc-dev/tbm-approval/backend/internal/domain"
)

// Expected 根据关联的审批请求推导月度记录应有的审批字段
//
// 没有审批请求时，只有 OPEN 和 SUBMITTED 是合法状态，其余一律视为 SUBMITTED。
func Expected(agg *domain.MonthlyAggregate, req *domain.EscalationRequest) domain.AggregateSnapshot {
	if req == nil {
		status := agg.Status
		if status != domain.AggregateOpen && status != domain.AggregateSubmitted {
			status = domain.AggregateSubmitted
		}
		return domain.AggregateSnapshot{Status: status}
	}

	switch req.Status {
	case domain.EscalationApproved:
		return domain.AggregateSnapshot{
			Status:     domain.AggregateApproved,
			ApprovedAt: req.ApprovedAt,
			ApproverID: req.ApproverID,
		}
	case domain.EscalationRejected:
		return domain.AggregateSnapshot{
			Status:     domain.AggregateRejected,
			ApproverID: req.ApproverID,
		}
	default:
		return domain.AggregateSnapshot{Status: domain.AggregateSubmitted}
	}
}

func Diff(stored, expected domain.AggregateSnapshot) []domain.FieldDrift {
	drift := make([]domain.FieldDrift, 0)
	if stored.Status != expected.Status {
		drift = append(drift, domain.FieldDrift{
			Field:    "status",
			Stored:   string(stored.Status),
			Expected: string(expected.Status),
		})
	}
	if !sameTime(stored.ApprovedAt, expected.ApprovedAt) {
		drift = append(drift, domain.FieldDrift{
			Field:    "approvedAt",
			Stored:   formatTime(stored.ApprovedAt),
			Expected: formatTime(expected.ApprovedAt),
		})
	}
	if !sameID(stored.ApproverID, expected.ApproverID) {
		drift = append(drift, domain.FieldDrift{
			Field:    "approverID",
			Stored:   formatID(stored.ApproverID),
			Expected: formatID(expected.ApproverID),
		})
	}
	return drift
}

// Apply 用推导结果覆盖月度记录的审批字段，所有状态变更都在同一事务内调用它
func Apply(state *domain.MonthState) {
	expected := Expected(state.Aggregate, state.Request)
	state.Aggregate.Status = expected.Status
	state.Aggregate.ApprovedAt = expected.ApprovedAt
	state.Aggregate.ApproverID = expected.ApproverID
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

func formatTime(t *time.Time) string {
	if t == nil {
		return "null"
	}
	return t.Format(time.RFC3339)
}

func formatID(id *int64) string {
	if id == nil {
		return "null"
	}
	return strconv.FormatInt(*id, 10)
}
