package auth

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"csebu.org/internal/asset"
	"csebu.org/internal/ids"
)

var _ UserStore = (*MemoryStore)(nil)

// MemoryStore implements UserStore in process memory. It backs development
// servers without DATABASE_URL and handler tests.
type MemoryStore struct {
	mu      sync.RWMutex
	byID    map[string]*User
	byEmail map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:    make(map[string]*User),
		byEmail: make(map[string]string),
	}
}

func (s *MemoryStore) Create(ctx context.Context, u *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.byEmail[u.Email]; taken {
		return ErrConflict
	}
	if u.ID == "" {
		u.ID = ids.New()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
		u.UpdatedAt = u.CreatedAt
	}
	stored := cloneUser(u)
	s.byID[u.ID] = stored
	s.byEmail[u.Email] = u.ID
	return nil
}

func (s *MemoryStore) Find(ctx context.Context, id string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneUser(u), nil
}

func (s *MemoryStore) FindByEmail(ctx context.Context, email string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byEmail[email]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneUser(s.byID[id]), nil
}

func (s *MemoryStore) List(ctx context.Context, f UserFilter) ([]User, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	q := strings.ToLower(f.Query)
	var matched []User
	for _, u := range s.byID {
		if f.Role != "" && u.Role != f.Role {
			continue
		}
		if f.Status != "" && u.Status != f.Status {
			continue
		}
		if q != "" && !matchesQuery(u, q) {
			continue
		}
		matched = append(matched, *cloneUser(u))
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	if f.Offset >= total {
		return []User{}, total, nil
	}
	matched = matched[f.Offset:]
	if f.Limit > 0 && len(matched) > f.Limit {
		matched = matched[:f.Limit]
	}
	return matched, total, nil
}

func matchesQuery(u *User, q string) bool {
	for _, field := range []string{u.Name, u.Email, u.Roll, u.RegNo} {
		if strings.Contains(strings.ToLower(field), q) {
			return true
		}
	}
	return false
}

func (s *MemoryStore) UpdateProfile(ctx context.Context, id string, upd ProfileUpdate) (*User, error) {
	return s.mutate(id, func(u *User) {
		if upd.Name != nil {
			u.Name = *upd.Name
		}
		if upd.Roll != nil {
			u.Roll = *upd.Roll
		}
		if upd.RegNo != nil {
			u.RegNo = *upd.RegNo
		}
		if upd.Session != nil {
			u.Session = *upd.Session
		}
		if upd.Semester != nil {
			u.Semester = *upd.Semester
		}
		if upd.Phone != nil {
			u.Phone = *upd.Phone
		}
		if upd.CGPAHistory != nil {
			u.CGPAHistory = append([]CGPARecord(nil), (*upd.CGPAHistory)...)
		}
	})
}

func (s *MemoryStore) SetAvatar(ctx context.Context, id string, a asset.Asset) (*User, error) {
	return s.mutate(id, func(u *User) { u.Avatar = &a })
}

func (s *MemoryStore) SetRole(ctx context.Context, id string, role Role) (*User, error) {
	return s.mutate(id, func(u *User) { u.Role = role })
}

func (s *MemoryStore) SetStatus(ctx context.Context, id string, st StatusChange) (*User, error) {
	return s.mutate(id, func(u *User) {
		u.Status = st.Status
		u.ApprovedAt = st.ApprovedAt
		u.RejectionReason = st.RejectionReason
	})
}

func (s *MemoryStore) SetPassword(ctx context.Context, id, passwordHash string) error {
	_, err := s.mutate(id, func(u *User) { u.PasswordHash = passwordHash })
	return err
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	delete(s.byEmail, u.Email)
	delete(s.byID, id)
	return nil
}

func (s *MemoryStore) mutate(id string, fn func(*User)) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	fn(u)
	u.UpdatedAt = time.Now().UTC()
	return cloneUser(u), nil
}

func cloneUser(u *User) *User {
	out := *u
	out.CGPAHistory = append([]CGPARecord{}, u.CGPAHistory...)
	if u.Avatar != nil {
		a := *u.Avatar
		out.Avatar = &a
	}
	if u.ApprovedAt != nil {
		t := *u.ApprovedAt
		out.ApprovedAt = &t
	}
	return &out
}
