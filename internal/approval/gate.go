package approval

import (
	"context"

	"github.com/sysu-ecnc-dev/tbm-approval/backend/internal/domain"
)

// evaluate 检查 [月初, 月末] ∩ [班组创建日期, 今天] 内的每一天，
// 每位应到成员要么在当天的记录上签了名，要么有对应的缺勤登记
func (s *Service) evaluate(ctx context.Context, key domain.MonthKey) ([]domain.MissingDay, error) {
	team, err := s.reader.GetTeam(ctx, key.TeamID)
	if err != nil {
		return nil, err
	}

	from := key.Start(s.loc)
	to := key.End(s.loc)
	if created := domain.DateOf(team.CreatedAt.In(s.loc)); created.After(from) {
		from = created
	}
	if today := domain.DateOf(s.now().In(s.loc)); today.Before(to) {
		to = today
	}
	if from.After(to) {
		return nil, nil
	}

	roster, err := s.reader.GetRoster(ctx, key.TeamID)
	if err != nil {
		return nil, err
	}
	records, err := s.reader.GetDailyRecords(ctx, key.TeamID, from, to)
	if err != nil {
		return nil, err
	}
	absences, err := s.reader.GetAbsences(ctx, key.TeamID, from, to)
	if err != nil {
		return nil, err
	}

	recordByDay := make(map[int]*domain.DailyRecord, len(records))
	for _, record := range records {
		recordByDay[domain.CivilDay(record.Date)] = record
	}

	type absenceKey struct {
		day      int
		attendee domain.AttendeeRef
	}
	absent := make(map[absenceKey]struct{}, len(absences))
	for _, absence := range absences {
		absent[absenceKey{day: domain.CivilDay(absence.Date), attendee: absence.Attendee}] = struct{}{}
	}

	missing := make([]domain.MissingDay, 0)
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		day := domain.CivilDay(d)
		record := recordByDay[day]

		attendees := make([]domain.AttendeeRef, 0)
		for _, entry := range roster {
			if !entry.ExpectedOn(d) {
				continue
			}
			if record != nil && record.SignedBy(entry.Attendee) {
				continue
			}
			if _, ok := absent[absenceKey{day: day, attendee: entry.Attendee}]; ok {
				continue
			}
			attendees = append(attendees, entry.Attendee)
		}

		if len(attendees) > 0 {
			missing = append(missing, domain.MissingDay{
				Date:      d,
				NoRecord:  record == nil,
				Attendees: attendees,
			})
		}
	}

	return missing, nil
}

// CheckCompleteness 只做检查不提交，月份完整时返回 nil
func (s *Service) CheckCompleteness(ctx context.Context, key domain.MonthKey) error {
	if err := key.Validate(); err != nil {
		return err
	}

	missing, err := s.evaluate(ctx, key)
	if err != nil {
		return err
	}
	if len(missing) > 0 {
		return &domain.IncompleteMonthError{Key: key, Missing: missing}
	}
	return nil
}
