package domain

import (
	"fmt"
	"time"
)

// MonthKey 唯一确定一个班组的某个月份
type MonthKey struct {
	TeamID int64 `json:"teamID"`
	Year   int   `json:"year"`
	Month  int   `json:"month"`
}

func (k MonthKey) Validate() error {
	if k.TeamID <= 0 {
		return fmt.Errorf("无效的班组 ID: %d", k.TeamID)
	}
	if k.Year < 2000 || k.Year > 9999 {
		return fmt.Errorf("无效的年份: %d", k.Year)
	}
	if k.Month < 1 || k.Month > 12 {
		return fmt.Errorf("无效的月份: %d", k.Month)
	}
	return nil
}

// Start 返回该月第一天零点
func (k MonthKey) Start(loc *time.Location) time.Time {
	return time.Date(k.Year, time.Month(k.Month), 1, 0, 0, 0, 0, loc)
}

// End 返回该月最后一天零点
func (k MonthKey) End(loc *time.Location) time.Time {
	return k.Start(loc).AddDate(0, 1, -1)
}

func (k MonthKey) String() string {
	return fmt.Sprintf("team %d %04d-%02d", k.TeamID, k.Year, k.Month)
}

type AggregateStatus string

const (
	AggregateOpen      AggregateStatus = "OPEN"
	AggregateSubmitted AggregateStatus = "SUBMITTED"
	AggregateApproved  AggregateStatus = "APPROVED"
	AggregateRejected  AggregateStatus = "REJECTED"
)

type MonthlyAggregate struct {
	ID                  int64           `json:"id"`
	TeamID              int64           `json:"teamID"`
	Year                int             `json:"year"`
	Month               int             `json:"month"`
	Status              AggregateStatus `json:"status"`
	SubmittedAt         *time.Time      `json:"submittedAt"`
	ApprovedAt          *time.Time      `json:"approvedAt"`
	ApproverID          *int64          `json:"approverID"`
	EscalationRequestID *int64          `json:"escalationRequestID"` // 通过关联查询得到，不单独存储
	CreatedAt           time.Time       `json:"createdAt"`
	Version             int32           `json:"-"`
}

func NewMonthlyAggregate(key MonthKey) *MonthlyAggregate {
	return &MonthlyAggregate{
		TeamID: key.TeamID,
		Year:   key.Year,
		Month:  key.Month,
		Status: AggregateOpen,
	}
}

func (a *MonthlyAggregate) Key() MonthKey {
	return MonthKey{TeamID: a.TeamID, Year: a.Year, Month: a.Month}
}

// IsApproved 仪表盘使用的派生字段，只能由月度记录本身的状态得出
func (a *MonthlyAggregate) IsApproved() bool {
	return a.Status == AggregateApproved
}

// MonthView 是对外查询接口返回的结构
type MonthView struct {
	Aggregate *MonthlyAggregate  `json:"aggregate"`
	Request   *EscalationRequest `json:"request"`
	Approved  bool               `json:"approved"`
}
