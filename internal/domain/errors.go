package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrAlreadySubmitted     = errors.New("该月份已存在进行中的审批请求")
	ErrIncompleteMonth      = errors.New("该月份的班前会记录不完整")
	ErrOutOfOrder           = errors.New("签名顺序错误，必须先由管理者签名")
	ErrEmptySignature       = errors.New("签名图片为空")
	ErrNotPending           = errors.New("审批请求不处于待审批状态")
	ErrNotFound             = errors.New("记录不存在")
	ErrConsistencyViolation = errors.New("月度记录与审批请求状态不一致")
	ErrSignaturesIncomplete = errors.New("管理者和审批人签名未全部完成")
	ErrInvalidTransition    = errors.New("当前状态不允许该操作")
)

type MissingDay struct {
	Date      time.Time     `json:"date"`
	NoRecord  bool          `json:"noRecord"` // 当天没有任何班前会记录
	Attendees []AttendeeRef `json:"attendees"`
}

// IncompleteMonthError 携带缺失的日期及人员，方便前端给出具体提示
type IncompleteMonthError struct {
	Key     MonthKey     `json:"key"`
	Missing []MissingDay `json:"missing"`
}

func (e *IncompleteMonthError) Error() string {
	days := make([]string, 0, len(e.Missing))
	for _, m := range e.Missing {
		days = append(days, m.Date.Format("2006-01-02"))
	}
	return fmt.Sprintf("%s 的班前会记录不完整，缺失日期: %s", e.Key, strings.Join(days, ", "))
}

func (e *IncompleteMonthError) Is(target error) bool {
	return target == ErrIncompleteMonth
}

type ConsistencyViolationError struct {
	Report *ConsistencyReport
}

func (e *ConsistencyViolationError) Error() string {
	fields := make([]string, 0, len(e.Report.Drift))
	for _, d := range e.Report.Drift {
		fields = append(fields, fmt.Sprintf("%s(%s != %s)", d.Field, d.Stored, d.Expected))
	}
	return fmt.Sprintf("%s 状态不一致: %s", e.Report.Key, strings.Join(fields, ", "))
}

func (e *ConsistencyViolationError) Is(target error) bool {
	return target == ErrConsistencyViolation
}
