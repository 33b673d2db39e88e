package memstore

import (
	"context"
	"sort"
	"time"

	"github.com/sysu-ecnc-dev/tbm-approval/backend/internal/domain"
)

func (s *Store) AddTeam(team *domain.Team) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if team.ID == 0 {
		s.nextID++
		team.ID = s.nextID
	}
	t := *team
	s.teams[team.ID] = &t
}

func (s *Store) AddUser(user *domain.User) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if user.ID == 0 {
		s.nextID++
		user.ID = s.nextID
	}
	u := *user
	s.users[user.ID] = &u
}

func (s *Store) AddRosterEntry(entry *domain.RosterEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := *entry
	s.roster[entry.TeamID] = append(s.roster[entry.TeamID], &e)
}

func (s *Store) AddDailyRecord(record *domain.DailyRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	record.ID = s.nextID
	r := *record
	s.records[record.TeamID] = append(s.records[record.TeamID], &r)
}

func (s *Store) AddAbsence(absence *domain.AbsenceEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	absence.ID = s.nextID
	a := *absence
	s.absences[absence.TeamID] = append(s.absences[absence.TeamID], &a)
}

func (s *Store) GetTeam(ctx context.Context, teamID int64) (*domain.Team, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	team, ok := s.teams[teamID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	t := *team
	return &t, nil
}

func (s *Store) GetAllTeams(ctx context.Context) ([]*domain.Team, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.sortedTeams(), nil
}

func (s *Store) sortedTeams() []*domain.Team {
	teams := make([]*domain.Team, 0, len(s.teams))
	for _, team := range s.teams {
		t := *team
		teams = append(teams, &t)
	}
	sort.Slice(teams, func(i, j int) bool { return teams[i].ID < teams[j].ID })
	return teams
}

func (s *Store) GetRoster(ctx context.Context, teamID int64) ([]*domain.RosterEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := make([]*domain.RosterEntry, 0, len(s.roster[teamID]))
	for _, entry := range s.roster[teamID] {
		e := *entry
		entries = append(entries, &e)
	}
	return entries, nil
}

func inRange(d, from, to time.Time) bool {
	day := domain.CivilDay(d)
	return day >= domain.CivilDay(from) && day <= domain.CivilDay(to)
}

func (s *Store) GetDailyRecords(ctx context.Context, teamID int64, from, to time.Time) ([]*domain.DailyRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records := make([]*domain.DailyRecord, 0)
	for _, record := range s.records[teamID] {
		if inRange(record.Date, from, to) {
			r := *record
			records = append(records, &r)
		}
	}
	return records, nil
}

func (s *Store) GetAbsences(ctx context.Context, teamID int64, from, to time.Time) ([]*domain.AbsenceEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	absences := make([]*domain.AbsenceEntry, 0)
	for _, absence := range s.absences[teamID] {
		if inRange(absence.Date, from, to) {
			a := *absence
			absences = append(absences, &a)
		}
	}
	return absences, nil
}
