package memstore

import (
	"context"
	"sort"
	"time"

	"github.com/sysu-ecnc-dev/tbm-approval/backend/internal/domain"
	"github.com/sysu-ecnc-dev/tbm-approval/backend/internal/scheduler"
)

func (s *Store) Snapshot(ctx context.Context) (*scheduler.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := &scheduler.Snapshot{
		TakenAt:        s.now(),
		Teams:          s.sortedTeams(),
		Months:         make([]*domain.MonthState, 0),
		ApprovedMonths: make(map[domain.MonthKey]bool),
		LastRecords:    make(map[int64]time.Time),
	}

	for _, state := range s.months {
		if state.Aggregate.Status == domain.AggregateApproved {
			snap.ApprovedMonths[state.Aggregate.Key()] = true
			continue
		}
		snap.Months = append(snap.Months, cloneState(state))
	}
	sort.Slice(snap.Months, func(i, j int) bool {
		return snap.Months[i].Aggregate.ID < snap.Months[j].Aggregate.ID
	})

	for teamID, records := range s.records {
		for _, record := range records {
			if last, ok := snap.LastRecords[teamID]; !ok || record.Date.After(last) {
				snap.LastRecords[teamID] = record.Date
			}
		}
	}

	return snap, nil
}

func (s *Store) Recipients(ctx context.Context, teamID int64, rule scheduler.RecipientRule) ([]domain.Recipient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var role domain.Role
	teamScoped := true
	switch rule {
	case scheduler.RecipientTeamApprovers:
		role = domain.RoleApprover
	case scheduler.RecipientTeamLeaders:
		role = domain.RoleLeader
	case scheduler.RecipientTeamManagers:
		role = domain.RoleManager
	case scheduler.RecipientAdmins:
		role = domain.RoleAdmin
		teamScoped = false
	}

	recipients := make([]domain.Recipient, 0)
	for _, user := range s.users {
		if !user.IsActive || user.Role != role {
			continue
		}
		// 审批人可以不隶属于任何班组，此时负责所有班组
		if teamScoped && user.TeamID != nil && *user.TeamID != teamID {
			continue
		}
		if teamScoped && user.TeamID == nil && role != domain.RoleApprover {
			continue
		}
		recipients = append(recipients, domain.Recipient{
			UserID:   user.ID,
			FullName: user.FullName,
			Email:    user.Email,
		})
	}
	sort.Slice(recipients, func(i, j int) bool { return recipients[i].UserID < recipients[j].UserID })

	return recipients, nil
}

func (s *Store) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if expiry, ok := s.claims[key]; ok && (expiry.IsZero() || now.Before(expiry)) {
		return false, nil
	}
	if ttl > 0 {
		s.claims[key] = now.Add(ttl)
	} else {
		s.claims[key] = time.Time{}
	}
	return true, nil
}

func (s *Store) Release(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.claims, key)
	return nil
}
