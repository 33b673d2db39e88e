package domain

import (
	"fmt"
	"time"
)

type Team struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

type AttendeeKind string

const (
	AttendeeRegistered AttendeeKind = "registered"  // 拥有登录账号的成员
	AttendeeRosterOnly AttendeeKind = "roster_only" // 仅存在于花名册中的成员
)

// AttendeeRef identifies a checklist attendee regardless of whether the person
// holds an account. Completeness and signature logic compare refs by value.
type AttendeeRef struct {
	Kind AttendeeKind `json:"kind"`
	ID   int64        `json:"id"`
}

func Registered(userID int64) AttendeeRef {
	return AttendeeRef{Kind: AttendeeRegistered, ID: userID}
}

func RosterOnly(memberID int64) AttendeeRef {
	return AttendeeRef{Kind: AttendeeRosterOnly, ID: memberID}
}

func (a AttendeeRef) String() string {
	switch a.Kind {
	case AttendeeRegistered:
		return fmt.Sprintf("user:%d", a.ID)
	case AttendeeRosterOnly:
		return fmt.Sprintf("member:%d", a.ID)
	default:
		return fmt.Sprintf("unknown:%d", a.ID)
	}
}

type RosterEntry struct {
	TeamID   int64       `json:"teamID"`
	Attendee AttendeeRef `json:"attendee"`
	FullName string      `json:"fullName"`
	JoinedOn time.Time   `json:"joinedOn"`
	LeftOn   *time.Time  `json:"leftOn"`
}

// ExpectedOn 判断该成员在 date 当天是否应该参加班前会，按日历日期比较
func (e RosterEntry) ExpectedOn(date time.Time) bool {
	d := CivilDay(date)
	if d < CivilDay(e.JoinedOn) {
		return false
	}
	if e.LeftOn != nil && d > CivilDay(*e.LeftOn) {
		return false
	}
	return true
}

// DateOf 截断到当天零点，保留原有时区
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// CivilDay 把日期编码为 yyyymmdd，便于跨时区比较日历日期
func CivilDay(t time.Time) int {
	y, m, d := t.Date()
	return y*10000 + int(m)*100 + d
}
