package utils

import (
	"strings"
	"testing"
	"time"

	"github.com/sysu-ecnc-dev/tbm-approval/backend/internal/domain"
	"golang.org/x/crypto/bcrypt"
)

func TestGenerateRandomUserRespectsTeam(t *testing.T) {
	teamID := int64(7)
	for i := 0; i < 20; i++ {
		user, err := GenerateRandomUser("secret", "example.com", &teamID)
		if err != nil {
			t.Fatalf("generate: %v", err)
		}
		if user.Role != domain.RoleLeader && user.Role != domain.RoleManager {
			t.Fatalf("team member got role %s", user.Role)
		}
		if user.TeamID == nil || *user.TeamID != teamID {
			t.Fatalf("team member must belong to team %d", teamID)
		}
		if !strings.HasSuffix(user.Email, "@example.com") {
			t.Fatalf("unexpected email %s", user.Email)
		}
	}

	user, err := GenerateRandomUser("secret", "example.com", nil)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if user.Role != domain.RoleApprover || user.TeamID != nil {
		t.Fatalf("user without team must be a teamless approver, got %s %v", user.Role, user.TeamID)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte("secret")); err != nil {
		t.Fatalf("password hash mismatch: %v", err)
	}
}

func TestGenerateRandomOTPAndPassword(t *testing.T) {
	if otp := GenerateRandomOTP(); len(otp) != 6 {
		t.Fatalf("otp must have 6 digits, got %q", otp)
	}
	if pw := GenerateRandomPassword(12); len([]rune(pw)) != 12 {
		t.Fatalf("password length mismatch: %q", pw)
	}
}

func TestGenerateRandomCheckResults(t *testing.T) {
	results := GenerateRandomCheckResults(8)
	if len(results) != 8 {
		t.Fatalf("expected 8 results, got %d", len(results))
	}
	record := &domain.DailyRecord{TeamID: 7, Date: time.Date(2025, 11, 6, 0, 0, 0, 0, time.UTC), Results: results}
	if err := ValidateDailyRecord(record); err != nil {
		t.Fatalf("generated results must validate: %v", err)
	}
}

func TestValidateDailyRecord(t *testing.T) {
	date := time.Date(2025, 11, 6, 0, 0, 0, 0, time.UTC)
	sig := func(id int64) domain.AttendeeSignature {
		return domain.AttendeeSignature{Attendee: domain.Registered(id), SignatureImage: "sig", SignedAt: date}
	}

	tests := []struct {
		name    string
		record  domain.DailyRecord
		wantErr bool
	}{
		{"valid", domain.DailyRecord{TeamID: 7, Date: date, Signatures: []domain.AttendeeSignature{sig(1), sig(2)}}, false},
		{"missing team", domain.DailyRecord{Date: date}, true},
		{"missing date", domain.DailyRecord{TeamID: 7}, true},
		{"duplicate item", domain.DailyRecord{TeamID: 7, Date: date, Results: []domain.CheckResult{
			{ItemID: 1, State: domain.CheckOK}, {ItemID: 1, State: domain.CheckOK},
		}}, true},
		{"bad state", domain.DailyRecord{TeamID: 7, Date: date, Results: []domain.CheckResult{{ItemID: 1, State: "BROKEN"}}}, true},
		{"major issue without note", domain.DailyRecord{TeamID: 7, Date: date, Results: []domain.CheckResult{
			{ItemID: 1, State: domain.CheckMajorIssue},
		}}, true},
		{"duplicate signature", domain.DailyRecord{TeamID: 7, Date: date, Signatures: []domain.AttendeeSignature{sig(1), sig(1)}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateDailyRecord(&tt.record)
			if (err != nil) != tt.wantErr {
				t.Fatalf("wantErr=%v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestValidateAbsence(t *testing.T) {
	left := time.Date(2025, 11, 20, 0, 0, 0, 0, time.UTC)
	roster := []*domain.RosterEntry{
		{TeamID: 7, Attendee: domain.Registered(1), JoinedOn: time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC)},
		{TeamID: 7, Attendee: domain.RosterOnly(2), JoinedOn: time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC), LeftOn: &left},
	}

	ok := &domain.AbsenceEntry{TeamID: 7, Attendee: domain.Registered(1), Date: time.Date(2025, 11, 3, 0, 0, 0, 0, time.UTC)}
	if err := ValidateAbsence(ok, roster); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	afterLeaving := &domain.AbsenceEntry{TeamID: 7, Attendee: domain.RosterOnly(2), Date: time.Date(2025, 11, 25, 0, 0, 0, 0, time.UTC)}
	if err := ValidateAbsence(afterLeaving, roster); err == nil {
		t.Fatalf("absence after leaving must be rejected")
	}

	stranger := &domain.AbsenceEntry{TeamID: 7, Attendee: domain.Registered(9), Date: ok.Date}
	if err := ValidateAbsence(stranger, roster); err == nil {
		t.Fatalf("absence of non-member must be rejected")
	}
}
