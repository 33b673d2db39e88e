package domain

import "time"

type EscalationStatus string

const (
	EscalationPending  EscalationStatus = "PENDING"
	EscalationApproved EscalationStatus = "APPROVED"
	EscalationRejected EscalationStatus = "REJECTED"
)

type SignatureRole string

const (
	SignatureManager  SignatureRole = "MANAGER"
	SignatureApprover SignatureRole = "APPROVER"
)

// SignaturePhase 是每个审批请求的签名游标
type SignaturePhase string

const (
	PhaseAwaitingManager  SignaturePhase = "AWAITING_MANAGER"
	PhaseAwaitingApprover SignaturePhase = "AWAITING_APPROVER"
	PhaseSigned           SignaturePhase = "SIGNED"
)

type Outcome string

const (
	OutcomeApprove Outcome = "APPROVE"
	OutcomeReject  Outcome = "REJECT"
)

func (o Outcome) Status() EscalationStatus {
	if o == OutcomeApprove {
		return EscalationApproved
	}
	return EscalationRejected
}

type EscalationRequest struct {
	ID                int64            `json:"id"`
	AggregateID       int64            `json:"aggregateID"`
	Status            EscalationStatus `json:"status"`
	Phase             SignaturePhase   `json:"phase"`
	RequestedAt       time.Time        `json:"requestedAt"`
	RequestedBy       int64            `json:"requestedBy"`
	ManagerID         *int64           `json:"managerID"`
	ManagerSignature  string           `json:"managerSignature"`
	ManagerSignedAt   *time.Time       `json:"managerSignedAt"`
	ApproverSignature string           `json:"approverSignature"`
	ApproverSignedAt  *time.Time       `json:"approverSignedAt"`
	ApproverSignedBy  *int64           `json:"approverSignedBy"`
	ApproverID        *int64           `json:"approverID"`
	ApprovedAt        *time.Time       `json:"approvedAt"`
	DecidedAt         *time.Time       `json:"decidedAt"`
	Version           int32            `json:"-"`
}

func NewEscalationRequest(aggregateID int64, requestedBy int64, now time.Time) *EscalationRequest {
	return &EscalationRequest{
		AggregateID: aggregateID,
		Status:      EscalationPending,
		Phase:       PhaseAwaitingManager,
		RequestedAt: now,
		RequestedBy: requestedBy,
	}
}

// Active 表示该请求仍然占用月度记录，不允许重新提交
func (r *EscalationRequest) Active() bool {
	return r.Status == EscalationPending || r.Status == EscalationApproved
}

func (r *EscalationRequest) FullySigned() bool {
	return r.ManagerSignature != "" && r.ApproverSignature != ""
}

// MonthState 是一次事务内读取到的月度记录及其关联的审批请求
type MonthState struct {
	Aggregate *MonthlyAggregate
	Request   *EscalationRequest
	Created   bool // 月度记录在本次事务中才被创建
}

// SignatureURLs 在查询接口中附带签名图片的临时访问地址
type SignatureURLs struct {
	Manager  string `json:"manager,omitempty"`
	Approver string `json:"approver,omitempty"`
}
