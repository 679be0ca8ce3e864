package pwdauth

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/dpup/authcore/errors"
	"github.com/dpup/authcore/eventbus"
	"github.com/dpup/authcore/storage"
	"github.com/dpup/authcore/storage/memstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
)

type recorder struct {
	topics []string
	data   []any
}

func (r *recorder) Publish(topic string, data any) {
	r.topics = append(r.topics, topic)
	r.data = append(r.data, data)
}

func newTestService(t *testing.T) (*Service, *memstore.Store, *recorder) {
	t.Helper()
	store := memstore.New()
	rec := &recorder{}
	return NewService(store, WithHasher(TestHasher), WithPublisher(rec)), store, rec
}

func TestRegister(t *testing.T) {
	ctx := context.Background()
	s, store, rec := newTestService(t)

	user, err := s.Register(ctx, Registration{Email: " Ada@Example.com ", Password: "correct horse", Name: "Ada Lovelace"})
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", user.Email)
	assert.NotEqual(t, "correct horse", user.PasswordHash)

	profile, err := store.FindProfile(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "Ada", profile.FirstName)
	assert.Equal(t, "Lovelace", profile.LastName)

	require.Equal(t, []string{eventbus.TopicLogin}, rec.topics)
	ev := rec.data[0].(eventbus.LoginEvent)
	assert.True(t, ev.NewUser)
	assert.Equal(t, ProviderName, ev.Provider)
}

func TestRegister_DuplicateEmail(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newTestService(t)

	_, err := s.Register(ctx, Registration{Email: "ada@example.com", Password: "password1"})
	require.NoError(t, err)

	_, err = s.Register(ctx, Registration{Email: "ADA@example.com", Password: "password2"})
	assert.ErrorIs(t, err, ErrEmailTaken)
	assert.Equal(t, codes.AlreadyExists, errors.Code(err))
}

func TestRegister_InvalidInput(t *testing.T) {
	ctx := context.Background()
	s, _, rec := newTestService(t)

	tests := []struct {
		name string
		reg  Registration
	}{
		{"empty email", Registration{Password: "password1"}},
		{"display name", Registration{Email: "Ada <ada@example.com>", Password: "password1"}},
		{"not an email", Registration{Email: "ada", Password: "password1"}},
		{"short password", Registration{Email: "ada@example.com", Password: "short"}},
		{"long password", Registration{Email: "ada@example.com", Password: strings.Repeat("x", 73)}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := s.Register(ctx, tc.reg)
			assert.ErrorIs(t, err, ErrInvalidInput)
			assert.Equal(t, codes.InvalidArgument, errors.Code(err))
		})
	}
	assert.Empty(t, rec.topics)
}

func TestLogin(t *testing.T) {
	ctx := context.Background()
	s, _, rec := newTestService(t)

	registered, err := s.Register(ctx, Registration{Email: "ada@example.com", Password: "password1"})
	require.NoError(t, err)

	user, err := s.Login(ctx, "Ada@Example.com", "password1")
	require.NoError(t, err)
	assert.Equal(t, registered.ID, user.ID)

	require.Len(t, rec.data, 2)
	assert.False(t, rec.data[1].(eventbus.LoginEvent).NewUser)
}

func TestLogin_Failures(t *testing.T) {
	ctx := context.Background()
	s, store, _ := newTestService(t)

	_, err := s.Register(ctx, Registration{Email: "ada@example.com", Password: "password1"})
	require.NoError(t, err)

	now := time.Now().UTC()
	require.NoError(t, store.CreateUser(ctx, &storage.User{
		ID: "oauth-only", Email: "bob@example.com", CreatedAt: now, UpdatedAt: now,
	}, &storage.Profile{ID: "p-bob"}, nil))

	for _, tc := range []struct{ email, password string }{
		{"ada@example.com", "wrong-password"},
		{"nobody@example.com", "password1"},
		{"bob@example.com", "password1"},
	} {
		_, err := s.Login(ctx, tc.email, tc.password)
		assert.ErrorIs(t, err, ErrInvalidCredentials, tc.email)
		assert.Equal(t, "invalid email or password", errors.PublicMessage(err, ""), tc.email)
	}
}
