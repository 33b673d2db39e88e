package seed

import (
	"context"
	_ "embed"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/sysu-ecnc-dev/tbm-approval/backend/internal/domain"
	"github.com/sysu-ecnc-dev/tbm-approval/backend/internal/utils"
	"golang.org/x/crypto/bcrypt"
)

//go:embed data/team7_roster.csv
var teamSevenRoster string

const (
	TeamSevenName  = "七班"
	ApproverName   = "王强"
	ApproverUser   = "wangqiang"
	checklistItems = 8
)

// 七班 2025 年 11 月的场景：6 日到 30 日每天都有全员签名的记录，1 日到 5 日没有记录
var (
	TeamSevenCreatedAt = time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC)
	ScenarioYear       = 2025
	ScenarioMonth      = time.November
	firstRecordDay     = 6
	lastRecordDay      = 30
)

// Writer 是 seed 需要的写接口，由 repository.Repository 实现
type Writer interface {
	CreateTeam(ctx context.Context, team *domain.Team) error
	CreateUser(ctx context.Context, user *domain.User) error
	GetUserByUsername(ctx context.Context, username string) (*domain.User, error)
	CreateRosterMember(ctx context.Context, teamID int64, fullName string, joinedOn time.Time) (domain.AttendeeRef, error)
	CreateRosterEntry(ctx context.Context, entry *domain.RosterEntry) error
	GetRoster(ctx context.Context, teamID int64) ([]*domain.RosterEntry, error)
	CreateDailyRecord(ctx context.Context, record *domain.DailyRecord) error
	CreateAbsence(ctx context.Context, absence *domain.AbsenceEntry) error
}

type RosterRow struct {
	FullName string
	Username string // 为空表示没有账号，只存在于花名册中
	Role     domain.Role
	JoinedOn time.Time
}

// ReadRoster 解析花名册 CSV，表头为 姓名,账号,角色,入组日期
func ReadRoster(r io.Reader) ([]RosterRow, error) {
	reader := csv.NewReader(r)

	// 读取表头
	headers, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("读取表头失败: %w", err)
	}
	columns := map[string]int{}
	for i, header := range headers {
		columns[strings.TrimSpace(header)] = i
	}
	for _, name := range []string{"姓名", "账号", "角色", "入组日期"} {
		if _, ok := columns[name]; !ok {
			return nil, fmt.Errorf("没有找到 %s 列", name)
		}
	}

	// 读取数据
	rows := make([]RosterRow, 0)
	for {
		record, err := reader.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("读取文件失败: %w", err)
		}

		row := RosterRow{
			FullName: strings.TrimSpace(record[columns["姓名"]]),
			Username: strings.TrimSpace(record[columns["账号"]]),
			Role:     domain.Role(strings.TrimSpace(record[columns["角色"]])),
		}
		if row.FullName == "" {
			return nil, fmt.Errorf("第 %d 行缺少姓名", len(rows)+2)
		}
		if row.Username != "" && row.Role != domain.RoleLeader && row.Role != domain.RoleManager {
			return nil, fmt.Errorf("%s 的角色 %q 非法", row.FullName, row.Role)
		}

		row.JoinedOn, err = time.Parse(time.DateOnly, strings.TrimSpace(record[columns["入组日期"]]))
		if err != nil {
			return nil, fmt.Errorf("%s 的入组日期非法: %w", row.FullName, err)
		}
		rows = append(rows, row)
	}

	return rows, nil
}

// SeedTeamSeven 插入七班、成员账号、审批人以及 11 月 6 日到 30 日的班前会记录，返回班组 ID
func SeedTeamSeven(ctx context.Context, w Writer, password, emailDomain string) (int64, error) {
	rows, err := ReadRoster(strings.NewReader(teamSevenRoster))
	if err != nil {
		return 0, err
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return 0, err
	}

	team := &domain.Team{Name: TeamSevenName, CreatedAt: TeamSevenCreatedAt}
	if err := w.CreateTeam(ctx, team); err != nil {
		return 0, fmt.Errorf("无法创建班组: %w", err)
	}
	slog.Info("插入班组成功", "id", team.ID, "name", team.Name)

	// 插入花名册
	for _, row := range rows {
		if row.Username == "" {
			if _, err := w.CreateRosterMember(ctx, team.ID, row.FullName, row.JoinedOn); err != nil {
				return 0, fmt.Errorf("无法插入成员 %s: %w", row.FullName, err)
			}
			continue
		}

		user := &domain.User{
			Username:     row.Username,
			PasswordHash: string(passwordHash),
			FullName:     row.FullName,
			Email:        row.Username + "@" + emailDomain,
			Role:         row.Role,
			TeamID:       &team.ID,
		}
		if err := w.CreateUser(ctx, user); err != nil {
			return 0, fmt.Errorf("无法插入用户 %s: %w", row.Username, err)
		}
		entry := &domain.RosterEntry{TeamID: team.ID, Attendee: domain.Registered(user.ID), JoinedOn: row.JoinedOn}
		if err := w.CreateRosterEntry(ctx, entry); err != nil {
			return 0, fmt.Errorf("无法插入花名册 %s: %w", row.Username, err)
		}
	}

	// 审批人不隶属于任何班组，已存在时沿用
	if _, err := w.GetUserByUsername(ctx, ApproverUser); err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			return 0, err
		}
		approver := &domain.User{
			Username:     ApproverUser,
			PasswordHash: string(passwordHash),
			FullName:     ApproverName,
			Email:        ApproverUser + "@" + emailDomain,
			Role:         domain.RoleApprover,
		}
		if err := w.CreateUser(ctx, approver); err != nil {
			return 0, fmt.Errorf("无法插入审批人: %w", err)
		}
	}

	roster, err := w.GetRoster(ctx, team.ID)
	if err != nil {
		return 0, err
	}

	cnt := 0
	for day := firstRecordDay; day <= lastRecordDay; day++ {
		date := time.Date(ScenarioYear, ScenarioMonth, day, 0, 0, 0, 0, time.UTC)
		record := &domain.DailyRecord{
			TeamID:     team.ID,
			Date:       date,
			Remarks:    "班前会正常召开",
			Results:    utils.GenerateRandomCheckResults(checklistItems),
			Signatures: make([]domain.AttendeeSignature, 0, len(roster)),
		}
		for _, entry := range roster {
			if !entry.ExpectedOn(date) {
				continue
			}
			record.Signatures = append(record.Signatures, domain.AttendeeSignature{
				Attendee:       entry.Attendee,
				SignatureImage: fmt.Sprintf("seed/%s/%s.png", date.Format(time.DateOnly), entry.Attendee),
				SignedAt:       date.Add(8 * time.Hour),
			})
		}

		if err := utils.ValidateDailyRecord(record); err != nil {
			return 0, err
		}
		if err := w.CreateDailyRecord(ctx, record); err != nil {
			return 0, fmt.Errorf("无法插入 %s 的记录: %w", date.Format(time.DateOnly), err)
		}
		cnt++
	}
	slog.Info("插入班前会记录成功", slog.Int("count", cnt))

	return team.ID, nil
}

// SeedAbsences 把 11 月 1 日到 5 日登记为全员缺勤，插入后该月份记录完整
func SeedAbsences(ctx context.Context, w Writer, teamID int64, reason string) (int, error) {
	roster, err := w.GetRoster(ctx, teamID)
	if err != nil {
		return 0, err
	}

	cnt := 0
	for day := 1; day < firstRecordDay; day++ {
		date := time.Date(ScenarioYear, ScenarioMonth, day, 0, 0, 0, 0, time.UTC)
		for _, entry := range roster {
			if !entry.ExpectedOn(date) {
				continue
			}
			absence := &domain.AbsenceEntry{TeamID: teamID, Date: date, Attendee: entry.Attendee, Reason: reason}
			if err := utils.ValidateAbsence(absence, roster); err != nil {
				return cnt, err
			}
			if err := w.CreateAbsence(ctx, absence); err != nil {
				return cnt, fmt.Errorf("无法插入缺勤记录: %w", err)
			}
			cnt++
		}
	}

	return cnt, nil
}
