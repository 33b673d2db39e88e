package domain

import "time"

type CheckState string

const (
	CheckOK         CheckState = "OK"
	CheckMinorIssue CheckState = "MINOR_ISSUE"
	CheckMajorIssue CheckState = "MAJOR_ISSUE"
)

type CheckResult struct {
	ItemID          int64      `json:"itemID"`
	State           CheckState `json:"state"`
	RemediationNote string     `json:"remediationNote"`
	EvidenceImages  []string   `json:"evidenceImages"` // 图片句柄，核心逻辑不解析其内容
}

type AttendeeSignature struct {
	Attendee       AttendeeRef `json:"attendee"`
	SignatureImage string      `json:"signatureImage"`
	SignedAt       time.Time   `json:"signedAt"`
}

// DailyRecord 由日报流程写入，本系统只读
type DailyRecord struct {
	ID         int64               `json:"id"`
	TeamID     int64               `json:"teamID"`
	Date       time.Time           `json:"date"`
	Remarks    string              `json:"remarks"`
	Results    []CheckResult       `json:"results"`
	Signatures []AttendeeSignature `json:"signatures"`
	CreatedAt  time.Time           `json:"createdAt"`
}

func (r *DailyRecord) SignedBy(attendee AttendeeRef) bool {
	for _, sig := range r.Signatures {
		if sig.Attendee == attendee && sig.SignatureImage != "" {
			return true
		}
	}
	return false
}

type AbsenceEntry struct {
	ID       int64       `json:"id"`
	TeamID   int64       `json:"teamID"`
	Date     time.Time   `json:"date"`
	Attendee AttendeeRef `json:"attendee"`
	Reason   string      `json:"reason"`
}
