package domain

import "time"

// AggregateSnapshot 是对月度记录中审批相关字段的快照
type AggregateSnapshot struct {
	Status     AggregateStatus `json:"status"`
	ApprovedAt *time.Time      `json:"approvedAt"`
	ApproverID *int64          `json:"approverID"`
}

func SnapshotOf(a *MonthlyAggregate) AggregateSnapshot {
	return AggregateSnapshot{
		Status:     a.Status,
		ApprovedAt: a.ApprovedAt,
		ApproverID: a.ApproverID,
	}
}

type FieldDrift struct {
	Field    string `json:"field"`
	Stored   string `json:"stored"`
	Expected string `json:"expected"`
}

type ConsistencyReport struct {
	Key           MonthKey          `json:"key"`
	RequestID     *int64            `json:"requestID"`
	RequestStatus *EscalationStatus `json:"requestStatus"`
	Stored        AggregateSnapshot `json:"stored"`
	Expected      AggregateSnapshot `json:"expected"`
	Drift         []FieldDrift      `json:"drift"`
	CheckedAt     time.Time         `json:"checkedAt"`
	CorrelationID string            `json:"correlationID"`
}

func (r *ConsistencyReport) Consistent() bool {
	return len(r.Drift) == 0
}
