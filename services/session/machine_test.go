package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/AleutianAI/AleutianDrive/services/identity"
	"github.com/AleutianAI/AleutianDrive/services/profile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeProvider delivers pushes synchronously so tests observe transitions
// deterministically.
type fakeProvider struct {
	cb      identity.SessionCallback
	current *identity.AuthSession

	signInSess  *identity.AuthSession
	signInErr   error
	signInDelay time.Duration

	signUpSess *identity.AuthSession
	signUpErr  error

	signOutErr error
}

func (f *fakeProvider) CurrentSession(context.Context) (*identity.AuthSession, error) {
	return f.current, nil
}

func (f *fakeProvider) Subscribe(cb identity.SessionCallback) func() {
	f.cb = cb
	cb(f.current)
	return func() { f.cb = nil }
}

// Push simulates an unsolicited provider notification.
func (f *fakeProvider) Push(sess *identity.AuthSession) {
	f.current = sess
	if f.cb != nil {
		f.cb(sess)
	}
}

func (f *fakeProvider) SignInWithPassword(ctx context.Context, email, password string) (*identity.AuthSession, error) {
	if f.signInDelay > 0 {
		select {
		case <-time.After(f.signInDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.signInErr != nil {
		return nil, f.signInErr
	}
	f.current = f.signInSess
	return f.signInSess, nil
}

func (f *fakeProvider) SignUp(ctx context.Context, email, password string, metadata map[string]any) (*identity.AuthSession, error) {
	if f.signUpErr != nil {
		return nil, f.signUpErr
	}
	f.current = f.signUpSess
	return f.signUpSess, nil
}

func (f *fakeProvider) SignOut(ctx context.Context) error {
	f.current = nil
	return f.signOutErr
}

func (f *fakeProvider) ResetPassword(ctx context.Context, email string) error { return nil }

func adaSession() *identity.AuthSession {
	return &identity.AuthSession{
		Identity: &identity.Identity{
			ID:       "user-1",
			Email:    "ada@example.com",
			Metadata: map[string]any{"name": "Ada"},
		},
		AccessToken: "tok-123",
	}
}

func newTestMachine(t *testing.T, p *fakeProvider) (*Machine, profile.Store) {
	t.Helper()
	store, err := profile.OpenBadger(profile.InMemoryBadgerConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	m := NewMachine(p, profile.NewResolver(store), store)
	return m, store
}

func TestStartWithoutSessionGoesAnonymous(t *testing.T) {
	m, _ := newTestMachine(t, &fakeProvider{})
	assert.Equal(t, StateInitializing, m.Current().State)

	m.Start()
	defer m.Stop()

	snap := m.Current()
	assert.Equal(t, StateAnonymous, snap.State)
	assert.False(t, snap.Authenticated())
}

func TestStartWithSessionResolvesProfile(t *testing.T) {
	p := &fakeProvider{current: adaSession()}
	m, _ := newTestMachine(t, p)
	m.Start()
	defer m.Stop()

	snap := m.Current()
	assert.Equal(t, StateAuthenticated, snap.State)
	require.NotNil(t, snap.Profile)
	assert.Equal(t, profile.TierBasic, snap.Profile.Tier)
	assert.Equal(t, "Ada", snap.Profile.Name)
}

// Duplicate delivery of the same session (explicit call result followed
// by the provider's own push of the same change) must be a no-op in
// effect.
func TestDuplicateApplicationIsIdempotent(t *testing.T) {
	p := &fakeProvider{current: adaSession()}
	m, _ := newTestMachine(t, p)
	m.Start()
	defer m.Stop()

	first := m.Current()
	p.Push(adaSession())
	second := m.Current()

	assert.Equal(t, first.State, second.State)
	assert.Equal(t, first.Identity.ID, second.Identity.ID)
	assert.Equal(t, first.Profile.ID, second.Profile.ID)
	assert.Equal(t, first.Profile.MessagesUsed, second.Profile.MessagesUsed)
}

func TestSignInSuccess(t *testing.T) {
	p := &fakeProvider{signInSess: adaSession()}
	m, _ := newTestMachine(t, p)
	m.Start()
	defer m.Stop()

	require.NoError(t, m.SignIn(context.Background(), "ada@example.com", "pw"))

	snap := m.Current()
	assert.Equal(t, StateAuthenticated, snap.State)
	assert.False(t, snap.Loading)
}

// A failed sign-in while already authenticated must not sign the user
// out: the previous identity and profile survive the transient error.
func TestFailedSignInPreservesEstablishedSession(t *testing.T) {
	p := &fakeProvider{current: adaSession()}
	m, _ := newTestMachine(t, p)
	m.Start()
	defer m.Stop()

	p.signInErr = errors.New("provider rejected")
	err := m.SignIn(context.Background(), "other@example.com", "pw")
	require.Error(t, err)

	snap := m.Current()
	assert.Equal(t, StateTransientError, snap.State)
	require.NotNil(t, snap.Identity)
	assert.Equal(t, "user-1", snap.Identity.ID)
	assert.NotNil(t, snap.Profile)
	assert.Contains(t, snap.Err, "provider rejected")
}

// A sign-in that outlives its deadline fails locally, but the remote call
// may still complete and push later; the machine applies the late push
// like any other.
func TestSignInTimeoutThenLatePush(t *testing.T) {
	p := &fakeProvider{signInSess: adaSession(), signInDelay: 200 * time.Millisecond}

	store, err := profile.OpenBadger(profile.InMemoryBadgerConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	m := NewMachine(p, profile.NewResolver(store), store, WithSignInTimeout(20*time.Millisecond))
	m.Start()
	defer m.Stop()

	err = m.SignIn(context.Background(), "ada@example.com", "pw")
	require.Error(t, err)
	assert.Equal(t, StateTransientError, m.Current().State)

	p.Push(adaSession())
	assert.Equal(t, StateAuthenticated, m.Current().State)
}

func TestSignOutGoesAnonymous(t *testing.T) {
	p := &fakeProvider{current: adaSession()}
	m, _ := newTestMachine(t, p)
	m.Start()
	defer m.Stop()

	require.NoError(t, m.SignOut(context.Background()))
	snap := m.Current()
	assert.Equal(t, StateAnonymous, snap.State)
	assert.Nil(t, snap.Identity)
}

func TestSignUpPendingConfirmationStaysAnonymous(t *testing.T) {
	p := &fakeProvider{} // signUpSess nil: confirmation e-mail pending
	m, _ := newTestMachine(t, p)
	m.Start()
	defer m.Stop()

	require.NoError(t, m.SignUp(context.Background(), "new@example.com", "pw", "New"))
	assert.Equal(t, StateAnonymous, m.Current().State)

	// Confirmation completes in another tab: the push signs us in.
	p.Push(adaSession())
	assert.Equal(t, StateAuthenticated, m.Current().State)
}

// Push saying the session vanished (token revoked) drops an authenticated
// machine back to Anonymous.
func TestRevocationPushClearsSession(t *testing.T) {
	p := &fakeProvider{current: adaSession()}
	m, _ := newTestMachine(t, p)
	m.Start()
	defer m.Stop()

	p.Push(nil)
	assert.Equal(t, StateAnonymous, m.Current().State)
}

// failingUpdateStore delegates everything but Update to a real store.
type failingUpdateStore struct {
	profile.Store
}

func (s *failingUpdateStore) Update(ctx context.Context, id string, patch profile.Patch) error {
	return errors.New("update rejected")
}

func TestUpdateProfileFailureKeepsSession(t *testing.T) {
	p := &fakeProvider{current: adaSession()}

	inner, err := profile.OpenBadger(profile.InMemoryBadgerConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = inner.Close() })

	store := &failingUpdateStore{Store: inner}
	m := NewMachine(p, profile.NewResolver(inner), store)
	m.Start()
	defer m.Stop()

	name := "Grace"
	err = m.UpdateProfile(context.Background(), profile.Patch{Name: &name})
	require.Error(t, err)

	snap := m.Current()
	require.NotNil(t, snap.Identity)
	assert.Equal(t, "user-1", snap.Identity.ID)
	assert.NotNil(t, snap.Profile)
}
