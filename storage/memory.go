package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/minus-twelve/roster/types"
)

type MemoryStore struct {
	records     map[int64]types.Record
	emails      map[string]int64
	mutex       sync.RWMutex
	initialized bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Initialize(ctx context.Context) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.initialized {
		return nil
	}
	s.records = make(map[int64]types.Record)
	s.emails = make(map[string]int64)
	s.initialized = true
	return nil
}

func (s *MemoryStore) Add(ctx context.Context, rec types.Record) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if err := s.ready(); err != nil {
		return err
	}
	if _, exists := s.records[rec.ID]; exists {
		return types.ErrDuplicateKey
	}
	if key := rec.EmailKey(); key != "" {
		if _, taken := s.emails[key]; taken {
			return types.ErrDuplicateKey
		}
		s.emails[key] = rec.ID
	}
	s.records[rec.ID] = cloneRecord(rec)
	return nil
}

func (s *MemoryStore) Update(ctx context.Context, rec types.Record) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if err := s.ready(); err != nil {
		return err
	}
	old, exists := s.records[rec.ID]
	if !exists {
		return types.ErrNotFound
	}
	key := rec.EmailKey()
	if key != "" {
		if owner, taken := s.emails[key]; taken && owner != rec.ID {
			return types.ErrDuplicateKey
		}
	}

	if oldKey := old.EmailKey(); oldKey != "" {
		delete(s.emails, oldKey)
	}
	if key != "" {
		s.emails[key] = rec.ID
	}
	s.records[rec.ID] = cloneRecord(rec)
	return nil
}

func (s *MemoryStore) Remove(ctx context.Context, id int64) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if err := s.ready(); err != nil {
		return err
	}
	if rec, exists := s.records[id]; exists {
		if key := rec.EmailKey(); key != "" {
			delete(s.emails, key)
		}
		delete(s.records, id)
	}
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id int64) (types.Record, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if err := s.ready(); err != nil {
		return types.Record{}, err
	}
	rec, exists := s.records[id]
	if !exists {
		return types.Record{}, types.ErrNotFound
	}
	return cloneRecord(rec), nil
}

func (s *MemoryStore) GetAll(ctx context.Context) ([]types.Record, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if err := s.ready(); err != nil {
		return nil, err
	}
	out := make([]types.Record, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, cloneRecord(rec))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) Close() error {
	return nil
}

func (s *MemoryStore) ready() error {
	if !s.initialized {
		return types.ErrStorageUnavailable
	}
	return nil
}

func cloneRecord(rec types.Record) types.Record {
	if rec.Employee != nil {
		e := *rec.Employee
		rec.Employee = &e
	}
	if rec.Project != nil {
		p := *rec.Project
		rec.Project = &p
	}
	return rec
}

type MemorySessionStore struct {
	session *types.Session
	mutex   sync.RWMutex
}

func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{}
}

func (s *MemorySessionStore) Load(ctx context.Context) (types.Session, bool, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if s.session == nil {
		return types.Session{}, false, nil
	}
	return cloneSession(*s.session), true, nil
}

func (s *MemorySessionStore) Save(ctx context.Context, session types.Session) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	c := cloneSession(session)
	s.session = &c
	return nil
}

func (s *MemorySessionStore) Clear(ctx context.Context) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.session = nil
	return nil
}

func cloneSession(session types.Session) types.Session {
	if session.User != nil {
		u := *session.User
		session.User = &u
	}
	return session
}
