// Package memstore keeps every record in memory behind the same contracts the
// PostgreSQL repository satisfies. Units of work run on a private copy of the
// month and are committed only when the callback succeeds.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sysu-ecnc-dev/tbm-approval/backend/internal/domain"
)

type Store struct {
	mu       sync.Mutex
	locks    map[domain.MonthKey]*sync.Mutex
	teams    map[int64]*domain.Team
	users    map[int64]*domain.User
	roster   map[int64][]*domain.RosterEntry
	records  map[int64][]*domain.DailyRecord
	absences map[int64][]*domain.AbsenceEntry
	months   map[domain.MonthKey]*domain.MonthState
	claims   map[string]time.Time

	nextAggregateID int64
	nextRequestID   int64
	nextID          int64

	now func() time.Time
}

func New() *Store {
	return &Store{
		locks:    make(map[domain.MonthKey]*sync.Mutex),
		teams:    make(map[int64]*domain.Team),
		users:    make(map[int64]*domain.User),
		roster:   make(map[int64][]*domain.RosterEntry),
		records:  make(map[int64][]*domain.DailyRecord),
		absences: make(map[int64][]*domain.AbsenceEntry),
		months:   make(map[domain.MonthKey]*domain.MonthState),
		claims:   make(map[string]time.Time),
		now:      time.Now,
	}
}

func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func cloneState(state *domain.MonthState) *domain.MonthState {
	agg := *state.Aggregate
	out := &domain.MonthState{Aggregate: &agg}
	if state.Request != nil {
		req := *state.Request
		out.Request = &req
	}
	return out
}

func (s *Store) keyLock(key domain.MonthKey) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.locks[key]
	if !ok {
		l = &sync.Mutex{}
		s.locks[key] = l
	}
	return l
}

func (s *Store) GetMonth(ctx context.Context, key domain.MonthKey) (*domain.MonthState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.months[key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneState(state), nil
}

func (s *Store) GetMonthByRequest(ctx context.Context, requestID int64) (*domain.MonthState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, state := range s.months {
		if state.Request != nil && state.Request.ID == requestID {
			return cloneState(state), nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s *Store) ListMonths(ctx context.Context, year, month int) ([]*domain.MonthState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	states := make([]*domain.MonthState, 0)
	for key, state := range s.months {
		if key.Year == year && key.Month == month {
			states = append(states, cloneState(state))
		}
	}
	sort.Slice(states, func(i, j int) bool {
		return states[i].Aggregate.TeamID < states[j].Aggregate.TeamID
	})
	return states, nil
}

func (s *Store) ListMonthKeys(ctx context.Context) ([]domain.MonthKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]domain.MonthKey, 0, len(s.months))
	for key := range s.months {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].TeamID != keys[j].TeamID {
			return keys[i].TeamID < keys[j].TeamID
		}
		if keys[i].Year != keys[j].Year {
			return keys[i].Year < keys[j].Year
		}
		return keys[i].Month < keys[j].Month
	})
	return keys, nil
}

func (s *Store) UpdateMonth(ctx context.Context, key domain.MonthKey, fn func(*domain.MonthState) error) (*domain.MonthState, error) {
	l := s.keyLock(key)
	l.Lock()
	defer l.Unlock()

	s.mu.Lock()
	if _, ok := s.teams[key.TeamID]; !ok {
		s.mu.Unlock()
		return nil, domain.ErrNotFound
	}
	var work *domain.MonthState
	current, exists := s.months[key]
	if exists {
		work = cloneState(current)
	} else {
		s.nextAggregateID++
		agg := domain.NewMonthlyAggregate(key)
		agg.ID = s.nextAggregateID
		agg.CreatedAt = s.now()
		work = &domain.MonthState{Aggregate: agg, Created: true}
	}
	s.mu.Unlock()

	if err := fn(work); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if work.Request != nil {
		if work.Request.ID == 0 {
			s.nextRequestID++
			work.Request.ID = s.nextRequestID
			work.Request.AggregateID = work.Aggregate.ID
		}
		work.Request.Version++
	}
	work.Aggregate.Version++
	work.Created = false
	s.months[key] = cloneState(work)

	return work, nil
}

// TamperRequest 绕过状态机直接修改审批请求，用于复现历史上的状态漂移
func (s *Store) TamperRequest(requestID int64, fn func(*domain.EscalationRequest)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, state := range s.months {
		if state.Request != nil && state.Request.ID == requestID {
			fn(state.Request)
			return true
		}
	}
	return false
}

// TamperAggregate 绕过状态机直接修改月度记录
func (s *Store) TamperAggregate(key domain.MonthKey, fn func(*domain.MonthlyAggregate)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.months[key]
	if !ok {
		return false
	}
	fn(state.Aggregate)
	return true
}
