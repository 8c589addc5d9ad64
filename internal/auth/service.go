package auth

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"csebu.org/internal/asset"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
	maxCGPA         = 4.0
)

// Service implements account lifecycle, sessions and profile rules on top of
// a UserStore.
type Service struct {
	users  UserStore
	tokens *TokenService
	now    func() time.Time
}

func NewService(users UserStore, tokens *TokenService) *Service {
	return &Service{users: users, tokens: tokens, now: tokens.Now}
}

// Tokens exposes the token service used for issuance.
func (s *Service) Tokens() *TokenService { return s.tokens }

type RegisterInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

type LoginInput struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Remember bool   `json:"remember"`
}

// Session is a freshly issued token together with the account it belongs to.
type Session struct {
	Token     string
	ExpiresAt time.Time
	TTL       time.Duration
	User      *User
}

// UserPage is one page of a directory listing.
type UserPage struct {
	Items []User `json:"items"`
	Total int    `json:"total"`
	Page  int    `json:"page"`
	Pages int    `json:"pages"`
}

// NormalizeEmail lowercases and trims an address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Register creates a student account awaiting approval.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*User, error) {
	email := NormalizeEmail(in.Email)
	if email == "" || !strings.Contains(email, "@") {
		return nil, fmt.Errorf("%w: valid email is required", ErrInvalidInput)
	}
	if in.Password == "" {
		return nil, fmt.Errorf("%w: password is required", ErrInvalidInput)
	}
	hash, err := HashPassword(in.Password)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	u := &User{
		Email:        email,
		PasswordHash: hash,
		Name:         strings.TrimSpace(in.Name),
		Role:         RoleStudent,
		Status:       StatusPending,
		CGPAHistory:  []CGPARecord{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.users.Create(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// Login checks credentials and issues a session. Unknown accounts and wrong
// passwords are indistinguishable. Approval is not required to log in.
func (s *Service) Login(ctx context.Context, in LoginInput) (Session, error) {
	email := NormalizeEmail(in.Email)
	if email == "" || in.Password == "" {
		return Session{}, ErrUnauthenticated
	}
	u, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			CheckPassword("", in.Password)
			return Session{}, ErrUnauthenticated
		}
		return Session{}, err
	}
	if !CheckPassword(u.PasswordHash, in.Password) {
		return Session{}, ErrUnauthenticated
	}
	ttl := SessionTTL
	if in.Remember {
		ttl = RememberTTL
	}
	return s.issue(u, ttl)
}

// Refresh re-issues a session for the caller with a fresh TTL, reloading the
// account so role and status changes take effect. A session that was issued
// with the long-lived policy keeps it.
func (s *Service) Refresh(ctx context.Context, claims Claims) (Session, error) {
	u, err := s.users.Find(ctx, claims.ID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Session{}, ErrUnauthenticated
		}
		return Session{}, err
	}
	ttl := SessionTTL
	if claims.Remaining(s.now()) > SessionTTL {
		ttl = RememberTTL
	}
	return s.issue(u, ttl)
}

func (s *Service) issue(u *User, ttl time.Duration) (Session, error) {
	token, exp, err := s.tokens.Issue(u.Identity(), ttl)
	if err != nil {
		return Session{}, err
	}
	return Session{Token: token, ExpiresAt: exp, TTL: ttl, User: u}, nil
}

func (s *Service) Get(ctx context.Context, id string) (*User, error) {
	if strings.TrimSpace(id) == "" {
		return nil, ErrNotFound
	}
	return s.users.Find(ctx, id)
}

// List returns a page of the directory. page is 1-based.
func (s *Service) List(ctx context.Context, f UserFilter, page, limit int) (UserPage, error) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	if page < 1 {
		page = 1
	}
	f.Query = strings.TrimSpace(f.Query)
	f.Limit = limit
	f.Offset = (page - 1) * limit
	items, total, err := s.users.List(ctx, f)
	if err != nil {
		return UserPage{}, err
	}
	if items == nil {
		items = []User{}
	}
	pages := int(math.Ceil(float64(total) / float64(limit)))
	if pages < 1 {
		pages = 1
	}
	return UserPage{Items: items, Total: total, Page: page, Pages: pages}, nil
}

// ListByStatus returns every account, newest first, optionally filtered by status.
func (s *Service) ListByStatus(ctx context.Context, status Status) ([]User, error) {
	items, _, err := s.users.List(ctx, UserFilter{Status: status})
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []User{}
	}
	return items, nil
}

// UpdateProfile applies owner-editable fields. The cumulative GPA history
// must hold exactly one record per completed semester.
func (s *Service) UpdateProfile(ctx context.Context, id string, upd ProfileUpdate) (*User, error) {
	cur, err := s.users.Find(ctx, id)
	if err != nil {
		return nil, err
	}
	upd, err = normalizeProfile(cur, upd)
	if err != nil {
		return nil, err
	}
	return s.users.UpdateProfile(ctx, id, upd)
}

func normalizeProfile(cur *User, upd ProfileUpdate) (ProfileUpdate, error) {
	trim := func(p *string) *string {
		if p == nil {
			return nil
		}
		v := strings.TrimSpace(*p)
		return &v
	}
	upd.Name = trim(upd.Name)
	upd.Roll = trim(upd.Roll)
	upd.RegNo = trim(upd.RegNo)
	upd.Session = trim(upd.Session)
	upd.Phone = trim(upd.Phone)
	if upd.Name != nil && *upd.Name == "" {
		return upd, fmt.Errorf("%w: name cannot be blank", ErrInvalidInput)
	}

	semester := cur.Semester
	if upd.Semester != nil {
		if *upd.Semester < 1 {
			return upd, fmt.Errorf("%w: invalid semester", ErrInvalidInput)
		}
		semester = *upd.Semester
	}
	want := completedSemesters(semester)

	if upd.CGPAHistory == nil {
		// Moving semesters must not strand an existing history of the wrong length.
		if upd.Semester != nil && len(cur.CGPAHistory) > 0 && len(cur.CGPAHistory) != want {
			return upd, fmt.Errorf("%w: cgpaHistory length must be %d for semester %d", ErrInvalidInput, want, semester)
		}
		return upd, nil
	}

	history := *upd.CGPAHistory
	if len(history) != want {
		return upd, fmt.Errorf("%w: cgpaHistory length must be %d for semester %d", ErrInvalidInput, want, semester)
	}
	out := make([]CGPARecord, len(history))
	for i, rec := range history {
		if math.IsNaN(rec.CGPA) || rec.CGPA < 0 || rec.CGPA > maxCGPA {
			return upd, fmt.Errorf("%w: cgpa values must be in [0, 4.0]", ErrInvalidInput)
		}
		out[i] = CGPARecord{Semester: i + 1, CGPA: rec.CGPA}
	}
	upd.CGPAHistory = &out
	return upd, nil
}

func completedSemesters(semester int) int {
	if semester <= 1 {
		return 0
	}
	return semester - 1
}

// SetAvatar attaches an uploaded image record to the account.
func (s *Service) SetAvatar(ctx context.Context, id string, a asset.Asset) (*User, error) {
	if err := a.Validate(asset.KindImage); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return s.users.SetAvatar(ctx, id, a)
}

func (s *Service) SetRole(ctx context.Context, id string, role Role) (*User, error) {
	if !role.Valid() {
		return nil, fmt.Errorf("%w: unknown role %q", ErrInvalidInput, role)
	}
	return s.users.SetRole(ctx, id, role)
}

// Approve marks the account approved and clears any rejection reason.
func (s *Service) Approve(ctx context.Context, id string) (*User, error) {
	now := s.now().UTC()
	return s.users.SetStatus(ctx, id, StatusChange{Status: StatusApproved, ApprovedAt: &now})
}

// Reject marks the account rejected. A non-blank reason is required.
func (s *Service) Reject(ctx context.Context, id, reason string) (*User, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, fmt.Errorf("%w: rejection reason is required", ErrInvalidInput)
	}
	return s.users.SetStatus(ctx, id, StatusChange{Status: StatusRejected, RejectionReason: reason})
}

func (s *Service) Delete(ctx context.Context, id string) error {
	return s.users.Delete(ctx, id)
}

// EnsureAdmin creates an approved admin account or resets an existing one to
// admin/approved with the given password. It reports whether a row was created.
func (s *Service) EnsureAdmin(ctx context.Context, email, password, name string) (*User, bool, error) {
	email = NormalizeEmail(email)
	if email == "" || password == "" {
		return nil, false, fmt.Errorf("%w: email and password are required", ErrInvalidInput)
	}
	hash, err := HashPassword(password)
	if err != nil {
		return nil, false, err
	}
	now := s.now().UTC()

	u, err := s.users.FindByEmail(ctx, email)
	switch {
	case errors.Is(err, ErrNotFound):
		if strings.TrimSpace(name) == "" {
			name = "Site Admin"
		}
		u = &User{
			Email:        email,
			PasswordHash: hash,
			Name:         strings.TrimSpace(name),
			Role:         RoleAdmin,
			Status:       StatusApproved,
			ApprovedAt:   &now,
			CGPAHistory:  []CGPARecord{},
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := s.users.Create(ctx, u); err != nil {
			return nil, false, err
		}
		return u, true, nil
	case err != nil:
		return nil, false, err
	}

	if err := s.users.SetPassword(ctx, u.ID, hash); err != nil {
		return nil, false, err
	}
	if _, err := s.users.SetRole(ctx, u.ID, RoleAdmin); err != nil {
		return nil, false, err
	}
	u, err = s.users.SetStatus(ctx, u.ID, StatusChange{Status: StatusApproved, ApprovedAt: &now})
	if err != nil {
		return nil, false, err
	}
	return u, false, nil
}
