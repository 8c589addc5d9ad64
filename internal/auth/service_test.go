package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"csebu.org/internal/asset"
)

func newTestService(t *testing.T) (*Service, *MemoryStore) {
	t.Helper()
	tokens, err := NewTokenService("test-secret")
	require.NoError(t, err)
	store := NewMemoryStore()
	return NewService(store, tokens), store
}

func intp(v int) *int { return &v }

func TestRegisterStartsPending(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	u, err := svc.Register(ctx, RegisterInput{Email: " A@B.edu ", Password: "pw123", Name: "Alice"})
	require.NoError(t, err)
	assert.Equal(t, "a@b.edu", u.Email)
	assert.Equal(t, RoleStudent, u.Role)
	assert.Equal(t, StatusPending, u.Status)
	assert.NotEqual(t, "pw123", u.PasswordHash)

	_, err = svc.Register(ctx, RegisterInput{Email: "a@b.edu", Password: "other"})
	assert.ErrorIs(t, err, ErrConflict)

	_, err = svc.Register(ctx, RegisterInput{Email: "", Password: "pw"})
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = svc.Register(ctx, RegisterInput{Email: "c@d.edu"})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestLoginDoesNotRequireApproval(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	_, err := svc.Register(ctx, RegisterInput{Email: "a@b.edu", Password: "pw123", Name: "Alice"})
	require.NoError(t, err)

	sess, err := svc.Login(ctx, LoginInput{Email: "a@b.edu", Password: "pw123"})
	require.NoError(t, err)
	assert.Equal(t, SessionTTL, sess.TTL)
	claims, err := svc.Tokens().Verify(sess.Token)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, claims.Status)
	assert.Equal(t, RoleStudent, claims.Role)

	remembered, err := svc.Login(ctx, LoginInput{Email: "A@B.EDU", Password: "pw123", Remember: true})
	require.NoError(t, err)
	assert.Equal(t, RememberTTL, remembered.TTL)
}

func TestLoginFailuresAreIndistinguishable(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	_, err := svc.Register(ctx, RegisterInput{Email: "a@b.edu", Password: "pw123"})
	require.NoError(t, err)

	_, errWrong := svc.Login(ctx, LoginInput{Email: "a@b.edu", Password: "nope"})
	_, errMissing := svc.Login(ctx, LoginInput{Email: "ghost@b.edu", Password: "pw123"})
	assert.ErrorIs(t, errWrong, ErrUnauthenticated)
	assert.Equal(t, errWrong, errMissing)
}

func TestRefreshKeepsPolicyAndReloadsAccount(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	u, err := svc.Register(ctx, RegisterInput{Email: "a@b.edu", Password: "pw123"})
	require.NoError(t, err)

	sess, err := svc.Login(ctx, LoginInput{Email: "a@b.edu", Password: "pw123", Remember: true})
	require.NoError(t, err)
	claims, err := svc.Tokens().Verify(sess.Token)
	require.NoError(t, err)

	_, err = svc.Approve(ctx, u.ID)
	require.NoError(t, err)

	refreshed, err := svc.Refresh(ctx, claims)
	require.NoError(t, err)
	assert.Equal(t, RememberTTL, refreshed.TTL)
	fresh, err := svc.Tokens().Verify(refreshed.Token)
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, fresh.Status)

	require.NoError(t, svc.Delete(ctx, u.ID))
	_, err = svc.Refresh(ctx, claims)
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestApprovalFlow(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	u, err := svc.Register(ctx, RegisterInput{Email: "a@b.edu", Password: "pw123"})
	require.NoError(t, err)
	assert.False(t, u.Identity().Approved())

	rejected, err := svc.Reject(ctx, u.ID, "  missing documents ")
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, rejected.Status)
	assert.Equal(t, "missing documents", rejected.RejectionReason)
	assert.Nil(t, rejected.ApprovedAt)

	_, err = svc.Reject(ctx, u.ID, "   ")
	assert.ErrorIs(t, err, ErrInvalidInput)

	approved, err := svc.Approve(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, approved.Status)
	assert.Empty(t, approved.RejectionReason)
	require.NotNil(t, approved.ApprovedAt)
	assert.True(t, approved.Identity().Approved())

	_, err = svc.Approve(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAdminIsAlwaysApproved(t *testing.T) {
	for _, st := range []Status{StatusPending, StatusRejected, StatusApproved} {
		assert.True(t, Identity{ID: "a", Role: RoleAdmin, Status: st}.Approved())
	}
	assert.False(t, Identity{ID: "s", Role: RoleStaff, Status: StatusPending}.Approved())
	assert.False(t, Identity{ID: "x", Role: "root", Status: StatusApproved}.Approved())
}

func TestCGPAHistoryLengthRule(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	u, err := svc.Register(ctx, RegisterInput{Email: "a@b.edu", Password: "pw123"})
	require.NoError(t, err)

	history := func(vals ...float64) *[]CGPARecord {
		out := make([]CGPARecord, len(vals))
		for i, v := range vals {
			out[i] = CGPARecord{CGPA: v}
		}
		return &out
	}

	updated, err := svc.UpdateProfile(ctx, u.ID, ProfileUpdate{Semester: intp(3), CGPAHistory: history(3.5, 3.7)})
	require.NoError(t, err)
	assert.Equal(t, 3, updated.Semester)
	assert.Equal(t, []CGPARecord{{Semester: 1, CGPA: 3.5}, {Semester: 2, CGPA: 3.7}}, updated.CGPAHistory)

	for _, bad := range []*[]CGPARecord{history(3.5), history(3.5, 3.6, 3.7)} {
		_, err := svc.UpdateProfile(ctx, u.ID, ProfileUpdate{Semester: intp(3), CGPAHistory: bad})
		assert.ErrorIs(t, err, ErrInvalidInput)
	}

	// stored semester is used when the update omits it
	_, err = svc.UpdateProfile(ctx, u.ID, ProfileUpdate{CGPAHistory: history(3.1)})
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = svc.UpdateProfile(ctx, u.ID, ProfileUpdate{CGPAHistory: history(3.1, 3.2)})
	assert.NoError(t, err)

	_, err = svc.UpdateProfile(ctx, u.ID, ProfileUpdate{Semester: intp(3), CGPAHistory: history(3.1, 4.2)})
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = svc.UpdateProfile(ctx, u.ID, ProfileUpdate{Semester: intp(0)})
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = svc.UpdateProfile(ctx, u.ID, ProfileUpdate{Semester: intp(5)})
	assert.ErrorIs(t, err, ErrInvalidInput)

	first, err := svc.UpdateProfile(ctx, u.ID, ProfileUpdate{Semester: intp(1), CGPAHistory: history()})
	require.NoError(t, err)
	assert.Empty(t, first.CGPAHistory)
}

func TestListPagesAndFilters(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	for _, email := range []string{"a@b.edu", "b@b.edu", "c@b.edu"} {
		_, err := svc.Register(ctx, RegisterInput{Email: email, Password: "pw", Name: email})
		require.NoError(t, err)
		time.Sleep(time.Millisecond)
	}
	page, err := svc.List(ctx, UserFilter{}, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, page.Total)
	assert.Equal(t, 2, page.Pages)
	require.Len(t, page.Items, 2)
	assert.Equal(t, "c@b.edu", page.Items[0].Email)

	page, err = svc.List(ctx, UserFilter{Query: "B@B"}, 1, 500)
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "b@b.edu", page.Items[0].Email)

	none, err := svc.ListByStatus(ctx, StatusApproved)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestSetAvatarRequiresImage(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	u, err := svc.Register(ctx, RegisterInput{Email: "a@b.edu", Password: "pw"})
	require.NoError(t, err)

	_, err = svc.SetAvatar(ctx, u.ID, asset.Asset{URL: "http://cdn/x.pdf", Kind: asset.KindPDF})
	assert.ErrorIs(t, err, ErrInvalidInput)

	updated, err := svc.SetAvatar(ctx, u.ID, asset.Asset{URL: "http://cdn/a.png", SecureURL: "https://cdn/a.png", Kind: asset.KindImage})
	require.NoError(t, err)
	assert.Equal(t, "https://cdn/a.png", updated.Snapshot().Avatar)
}

func TestEnsureAdminCreatesThenResets(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	u, created, err := svc.EnsureAdmin(ctx, "Admin@BU.ac.bd", "first", "")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, RoleAdmin, u.Role)
	assert.Equal(t, "Site Admin", u.Name)

	_, err = svc.SetRole(ctx, u.ID, RoleStudent)
	require.NoError(t, err)

	u, created, err = svc.EnsureAdmin(ctx, "admin@bu.ac.bd", "second", "")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, RoleAdmin, u.Role)
	assert.Equal(t, StatusApproved, u.Status)

	_, err = svc.Login(ctx, LoginInput{Email: "admin@bu.ac.bd", Password: "second"})
	assert.NoError(t, err)
	_, err = svc.Login(ctx, LoginInput{Email: "admin@bu.ac.bd", Password: "first"})
	assert.ErrorIs(t, err, ErrUnauthenticated)
}
