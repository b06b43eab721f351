package user

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Salad109/medical-office-manager/internal/apperr"
	"github.com/Salad109/medical-office-manager/internal/audit"
	"github.com/Salad109/medical-office-manager/internal/audit/audittest"
	"github.com/Salad109/medical-office-manager/internal/db/dbtest"
	"github.com/Salad109/medical-office-manager/internal/identity"
)

type memRepo struct {
	mu     sync.Mutex
	users  map[int64]User
	nextID int64
	saved  map[int64]User
	savedN int64
}

func newMemRepo() *memRepo {
	return &memRepo{users: map[int64]User{}}
}

func (m *memRepo) Checkpoint() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved = make(map[int64]User, len(m.users))
	for k, v := range m.users {
		m.saved[k] = v
	}
	m.savedN = m.nextID
}

func (m *memRepo) Rollback() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users = m.saved
	m.nextID = m.savedN
}

func (m *memRepo) GetUserByID(_ context.Context, id int64) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	return &u, nil
}

func (m *memRepo) GetUserByUsername(_ context.Context, username string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Username == username {
			return &u, nil
		}
	}
	return nil, ErrUserNotFound
}

func (m *memRepo) LockUser(ctx context.Context, id int64) (*User, error) {
	return m.GetUserByID(ctx, id)
}

func (m *memRepo) UsernameExists(_ context.Context, username string, excludeID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Username == username && u.ID != excludeID {
			return true, nil
		}
	}
	return false, nil
}

func (m *memRepo) PhoneExists(_ context.Context, phone string, excludeID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Phone == phone && u.ID != excludeID {
			return true, nil
		}
	}
	return false, nil
}

func (m *memRepo) CreateUser(_ context.Context, u User) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	u.ID = m.nextID
	u.CreatedAt = time.Now()
	u.UpdatedAt = u.CreatedAt
	m.users[u.ID] = u
	return &u, nil
}

func (m *memRepo) UpdateUser(_ context.Context, u User) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[u.ID]; !ok {
		return nil, ErrUserNotFound
	}
	u.UpdatedAt = time.Now()
	m.users[u.ID] = u
	return &u, nil
}

func (m *memRepo) SearchUsers(_ context.Context, query string, role identity.Role, limit, offset int) ([]User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q := strings.ToLower(query)
	var out []User
	for id := int64(1); id <= m.nextID; id++ {
		u, ok := m.users[id]
		if !ok || (role != "" && u.Role != role) {
			continue
		}
		if strings.Contains(strings.ToLower(u.FirstName+" "+u.LastName+" "+u.Username), q) {
			out = append(out, u)
		}
	}
	return out, nil
}

// plainHasher keeps tests fast; bcrypt itself is covered in package auth.
type plainHasher struct{}

func (plainHasher) Hash(p string) (string, error) { return "hashed:" + p, nil }
func (plainHasher) Compare(hash, p string) error {
	if hash != "hashed:"+p {
		return assert.AnError
	}
	return nil
}

type fixture struct {
	svc   *Service
	repo  *memRepo
	audit *audittest.Store
	tx    *dbtest.Tx
}

func newFixture() *fixture {
	repo := newMemRepo()
	store := audittest.NewStore()
	tx := dbtest.NewTx(repo, store)
	svc := NewService(tx, repo, audit.NewRecorder(store), plainHasher{}, "PL", zerolog.Nop())
	return &fixture{svc: svc, repo: repo, audit: store, tx: tx}
}

func patientInput(username, phone string) RegisterInput {
	return RegisterInput{
		Username:  username,
		Password:  "secret123",
		Role:      identity.RolePatient,
		FirstName: "Anna",
		LastName:  "Nowak",
		Phone:     phone,
		PESEL:     "90010112345",
	}
}

func staffCtx(id int64) context.Context {
	return audit.WithPrincipal(context.Background(), identity.Principal{UserID: id, Role: identity.RoleStaff})
}

func TestRegisterPatientAnonymously(t *testing.T) {
	f := newFixture()

	u, err := f.svc.Register(context.Background(), patientInput("anowak", "601 234 567"))
	require.NoError(t, err)

	assert.Equal(t, int64(1), u.ID)
	assert.Equal(t, "+48601234567", u.Phone)
	require.NotNil(t, u.PESEL)
	assert.Equal(t, "hashed:secret123", u.PasswordHash)

	entries := f.audit.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, audit.ActionCreate, entries[0].Action)
	assert.Equal(t, "User", entries[0].EntityType)
	assert.Nil(t, entries[0].ActorID, "registration precedes authentication")
	assert.NotContains(t, string(entries[0].NewValues), "hashed:", "password hash must not be snapshotted")
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	f := newFixture()
	_, err := f.svc.Register(context.Background(), patientInput("anowak", "601234567"))
	require.NoError(t, err)

	_, err = f.svc.Register(context.Background(), patientInput("anowak", "691234567"))
	assert.ErrorIs(t, err, ErrUsernameTaken)
	assert.ErrorIs(t, err, apperr.ErrConflict)

	_, err = f.svc.Register(context.Background(), patientInput("other", "+48 601 234 567"))
	assert.ErrorIs(t, err, ErrPhoneTaken)

	assert.Len(t, f.audit.Entries(), 1)
}

func TestRegisterValidation(t *testing.T) {
	f := newFixture()

	in := patientInput("p1", "601234567")
	in.PESEL = ""
	_, err := f.svc.Register(context.Background(), in)
	assert.ErrorIs(t, err, ErrPESELRequired)

	in.PESEL = "12345"
	_, err = f.svc.Register(context.Background(), in)
	assert.ErrorIs(t, err, ErrInvalidPESEL)

	in = patientInput("p1", "12")
	_, err = f.svc.Register(context.Background(), in)
	assert.ErrorIs(t, err, ErrInvalidPhone)

	in = patientInput("p1", "601234567")
	in.Role = "NURSE"
	_, err = f.svc.Register(context.Background(), in)
	assert.ErrorIs(t, err, ErrInvalidRole)
}

func TestRegisterDoctorRequiresStaff(t *testing.T) {
	f := newFixture()

	in := patientInput("drhouse", "601234567")
	in.Role = identity.RoleDoctor
	in.PESEL = "90010112345"

	_, err := f.svc.Register(context.Background(), in)
	assert.ErrorIs(t, err, ErrRegistrationDenied)

	u, err := f.svc.Register(staffCtx(99), in)
	require.NoError(t, err)
	assert.Nil(t, u.PESEL, "only patients keep a PESEL")

	entries := f.audit.Entries()
	require.Len(t, entries, 1)
	require.NotNil(t, entries[0].ActorID)
	assert.Equal(t, int64(99), *entries[0].ActorID)
}

func TestProvisionSkipsPrincipalCheck(t *testing.T) {
	f := newFixture()

	in := patientInput("admin", "691234567")
	in.Role = identity.RoleStaff

	u, err := f.svc.Provision(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, identity.RoleStaff, u.Role)

	entries := f.audit.Entries()
	require.Len(t, entries, 1)
	assert.Nil(t, entries[0].ActorID)

	in.Role = "ADMIN"
	_, err = f.svc.Provision(context.Background(), in)
	assert.ErrorIs(t, err, ErrInvalidRole)
}

func TestUpdateProfileAuditsOldAndNew(t *testing.T) {
	f := newFixture()
	u, err := f.svc.Register(context.Background(), patientInput("anowak", "601234567"))
	require.NoError(t, err)

	self := audit.WithPrincipal(context.Background(), u.Principal())
	updated, err := f.svc.UpdateProfile(self, u.ID, ProfileInput{
		Username:  "anowak",
		FirstName: "Anna",
		LastName:  "Kowalska",
		Phone:     "691234567",
		PESEL:     "90010112345",
	})
	require.NoError(t, err)
	assert.Equal(t, "Kowalska", updated.LastName)
	assert.Equal(t, "hashed:secret123", updated.PasswordHash, "empty password keeps the old one")

	entries := f.audit.Entries()
	require.Len(t, entries, 2)
	upd := entries[1]
	assert.Equal(t, audit.ActionUpdate, upd.Action)
	require.NotNil(t, upd.ActorID)
	assert.Equal(t, u.ID, *upd.ActorID)

	var before, after map[string]any
	require.NoError(t, json.Unmarshal(upd.OldValues, &before))
	require.NoError(t, json.Unmarshal(upd.NewValues, &after))
	assert.Equal(t, "Nowak", before["last_name"])
	assert.Equal(t, "Kowalska", after["last_name"])
	assert.Equal(t, "+48691234567", after["phone_number"])
}

func TestUpdateProfileOfSomeoneElse(t *testing.T) {
	f := newFixture()
	a, err := f.svc.Register(context.Background(), patientInput("a", "601234567"))
	require.NoError(t, err)
	b, err := f.svc.Register(context.Background(), patientInput("b", "691234567"))
	require.NoError(t, err)

	ctx := audit.WithPrincipal(context.Background(), a.Principal())
	_, err = f.svc.UpdateProfile(ctx, b.ID, ProfileInput{Username: "b", Phone: "691234567", PESEL: "90010112345"})
	assert.ErrorIs(t, err, ErrProfileEditDenied)

	_, err = f.svc.UpdateProfile(staffCtx(1000), b.ID, ProfileInput{Username: "a", Phone: "691234567", PESEL: "90010112345"})
	assert.ErrorIs(t, err, ErrUsernameTaken)

	_, err = f.svc.UpdateProfile(staffCtx(1000), 404, ProfileInput{Username: "x", Phone: "721234567"})
	assert.ErrorIs(t, err, ErrUserNotFound)

	assert.Len(t, f.audit.Entries(), 2, "failed updates leave no audit trace")
}

func TestSearch(t *testing.T) {
	f := newFixture()
	_, err := f.svc.Register(context.Background(), patientInput("anowak", "601234567"))
	require.NoError(t, err)

	got, err := f.svc.Search(context.Background(), "no", "", 0, 0)
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = f.svc.Search(context.Background(), "nowa", "", 0, 0)
	require.NoError(t, err)
	assert.Len(t, got, 1)

	got, err = f.svc.Search(context.Background(), "nowa", identity.RoleDoctor, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestAuthenticate(t *testing.T) {
	f := newFixture()
	_, err := f.svc.Register(context.Background(), patientInput("anowak", "601234567"))
	require.NoError(t, err)

	u, err := f.svc.Authenticate(context.Background(), "anowak", "secret123")
	require.NoError(t, err)
	assert.Equal(t, "anowak", u.Username)

	_, err = f.svc.Authenticate(context.Background(), "anowak", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = f.svc.Authenticate(context.Background(), "ghost", "secret123")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestRequireRole(t *testing.T) {
	f := newFixture()
	u, err := f.svc.Register(context.Background(), patientInput("anowak", "601234567"))
	require.NoError(t, err)

	notDoctor := apperr.NotFound("doctor_not_found", "doctor not found")

	_, err = f.svc.RequireRole(context.Background(), u.ID, identity.RoleDoctor, notDoctor)
	assert.ErrorIs(t, err, notDoctor)

	_, err = f.svc.RequireRole(context.Background(), 404, identity.RoleDoctor, notDoctor)
	assert.ErrorIs(t, err, notDoctor)

	got, err := f.svc.RequireRole(context.Background(), u.ID, identity.RolePatient, notDoctor)
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)
}
