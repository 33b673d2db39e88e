package utils

import (
	"fmt"
	"slices"

	"github.com/sysu-ecnc-dev/tbm-approval/backend/internal/domain"
)

var checkStates = []domain.CheckState{domain.CheckOK, domain.CheckMinorIssue, domain.CheckMajorIssue}

// ValidateDailyRecord 在写入前检查班前会记录的基本约束
func ValidateDailyRecord(record *domain.DailyRecord) error {
	if record.TeamID <= 0 {
		return fmt.Errorf("班前会记录缺少班组")
	}
	if record.Date.IsZero() {
		return fmt.Errorf("班前会记录缺少日期")
	}

	// 检查项不能重复，状态必须合法，有问题的检查项必须附带整改说明
	items := make(map[int64]bool, len(record.Results))
	for _, result := range record.Results {
		if items[result.ItemID] {
			return fmt.Errorf("检查项 %d 重复", result.ItemID)
		}
		items[result.ItemID] = true

		if !slices.Contains(checkStates, result.State) {
			return fmt.Errorf("检查项 %d 的状态 %s 非法", result.ItemID, result.State)
		}
		if result.State == domain.CheckMajorIssue && result.RemediationNote == "" {
			return fmt.Errorf("检查项 %d 存在严重问题，必须填写整改说明", result.ItemID)
		}
	}

	// 每个人只能签名一次
	signed := make(map[domain.AttendeeRef]bool, len(record.Signatures))
	for _, sig := range record.Signatures {
		if sig.Attendee.ID <= 0 {
			return fmt.Errorf("签名人无效")
		}
		if signed[sig.Attendee] {
			return fmt.Errorf("%s 重复签名", sig.Attendee)
		}
		signed[sig.Attendee] = true
	}

	return nil
}

// ValidateAbsence 缺席记录只能覆盖当天在花名册中的成员
func ValidateAbsence(absence *domain.AbsenceEntry, roster []*domain.RosterEntry) error {
	for _, entry := range roster {
		if entry.Attendee == absence.Attendee {
			if !entry.ExpectedOn(absence.Date) {
				return fmt.Errorf("%s 在 %s 不在班组中", absence.Attendee, absence.Date.Format("2006-01-02"))
			}
			return nil
		}
	}
	return fmt.Errorf("%s 不在班组 %d 的花名册中", absence.Attendee, absence.TeamID)
}
