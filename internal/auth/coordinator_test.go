package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/keyfold/keyfold/internal/credentials"
	"github.com/keyfold/keyfold/internal/transport"
	"github.com/keyfold/keyfold/pkg/apierror"
)

// fakeExec is a transport.Executor double driven by a handler func.
type fakeExec struct {
	calls   atomic.Int32
	handler func(req transport.Request) (*transport.Response, error)
}

func (f *fakeExec) Execute(_ context.Context, req transport.Request) (*transport.Response, error) {
	f.calls.Add(1)
	return f.handler(req)
}

func tokenOK(access, refresh string) *transport.Response {
	body, _ := json.Marshal(map[string]any{
		"access_token":  access,
		"refresh_token": refresh,
		"expires_in":    3600,
	})
	return &transport.Response{Status: http.StatusOK, Header: http.Header{}, Body: body}
}

func newCoordinator(store credentials.Store, exec transport.Executor) *Coordinator {
	identity := NewIdentityClient(zap.NewNop(), exec, "https://vault.example.com/identity")
	return NewCoordinator(zap.NewNop(), store, identity)
}

func TestRefreshSuccessPersistsBeforeReturning(t *testing.T) {
	store := credentials.NewMemoryStore(&credentials.Credentials{AccessToken: "old", RefreshToken: "rt-0"})
	exec := &fakeExec{handler: func(transport.Request) (*transport.Response, error) {
		return tokenOK("new", "rt-1"), nil
	}}
	coord := newCoordinator(store, exec)

	fresh, err := coord.Refresh(context.Background(), "old")
	require.NoError(t, err)
	assert.Equal(t, "new", fresh.AccessToken)
	assert.Equal(t, "rt-1", fresh.RefreshToken)

	stored, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "new", stored.AccessToken, "fresh pair must be saved before Refresh returns")
}

func TestRefreshSendsGrantForm(t *testing.T) {
	store := credentials.NewMemoryStore(&credentials.Credentials{AccessToken: "old", RefreshToken: "rt-0"})
	var got transport.Request
	exec := &fakeExec{handler: func(req transport.Request) (*transport.Response, error) {
		got = req
		return tokenOK("new", "rt-1"), nil
	}}
	coord := newCoordinator(store, exec)

	_, err := coord.Refresh(context.Background(), "old")
	require.NoError(t, err)

	assert.Equal(t, http.MethodPost, got.Method)
	assert.Equal(t, "https://vault.example.com/identity/connect/token", got.URL)
	assert.Equal(t, "application/x-www-form-urlencoded", got.ContentType)

	form, err := url.ParseQuery(string(got.Body))
	require.NoError(t, err)
	assert.Equal(t, "refresh_token", form.Get("grant_type"))
	assert.Equal(t, "rt-0", form.Get("refresh_token"))
	assert.Equal(t, "cli", form.Get("client_id"))
}

// Single-flight invariant: N concurrent callers, exactly one network call,
// every caller observes the same outcome.
func TestRefreshSingleFlight(t *testing.T) {
	store := credentials.NewMemoryStore(&credentials.Credentials{AccessToken: "old", RefreshToken: "rt-0"})
	exec := &fakeExec{handler: func(transport.Request) (*transport.Response, error) {
		time.Sleep(50 * time.Millisecond)
		return tokenOK("new", "rt-1"), nil
	}}
	coord := newCoordinator(store, exec)

	const n = 50
	var wg sync.WaitGroup
	results := make([]string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			fresh, err := coord.Refresh(context.Background(), "old")
			if assert.NoError(t, err) {
				results[i] = fresh.AccessToken
			}
		}(i)
	}
	wg.Wait()

	assert.EqualValues(t, 1, exec.calls.Load(), "exactly one refresh network call")
	for i := 0; i < n; i++ {
		assert.Equal(t, "new", results[i])
	}
	assert.Equal(t, 1, store.Saves(), "exactly one store write")
}

// Idempotent failure: a rejected refresh leaves stored credentials untouched
// and fails every waiter.
func TestRefreshFailureLeavesStoreUntouched(t *testing.T) {
	store := credentials.NewMemoryStore(&credentials.Credentials{AccessToken: "old", RefreshToken: "rt-0"})
	exec := &fakeExec{handler: func(transport.Request) (*transport.Response, error) {
		time.Sleep(20 * time.Millisecond)
		return &transport.Response{Status: http.StatusBadRequest, Header: http.Header{}, Body: []byte(`{"error":"invalid_grant"}`)}, nil
	}}
	coord := newCoordinator(store, exec)

	const n = 10
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = coord.Refresh(context.Background(), "old")
		}(i)
	}
	wg.Wait()

	assert.EqualValues(t, 1, exec.calls.Load())
	for i := 0; i < n; i++ {
		require.Error(t, errs[i])
		assert.ErrorIs(t, errs[i], &apierror.Error{Kind: apierror.KindAuthentication})
	}

	assert.Equal(t, 0, store.Saves(), "no destructive write on failure")
	stored, _ := store.Load(context.Background())
	assert.Equal(t, "old", stored.AccessToken)
	assert.Equal(t, "rt-0", stored.RefreshToken)
}

func TestRefreshWithoutStoredCredentials(t *testing.T) {
	store := credentials.NewMemoryStore(nil)
	exec := &fakeExec{handler: func(transport.Request) (*transport.Response, error) {
		t.Error("no network call expected")
		return nil, nil
	}}
	coord := newCoordinator(store, exec)

	_, err := coord.Refresh(context.Background(), "old")
	require.Error(t, err)
	assert.ErrorIs(t, err, &apierror.Error{Kind: apierror.KindAuthentication})
	assert.EqualValues(t, 0, exec.calls.Load())
}

// A caller whose stale token was already replaced by an earlier flight gets
// the stored pair back with no network call.
func TestRefreshSkipsWhenAlreadyRotated(t *testing.T) {
	store := credentials.NewMemoryStore(&credentials.Credentials{AccessToken: "new", RefreshToken: "rt-1"})
	exec := &fakeExec{handler: func(transport.Request) (*transport.Response, error) {
		t.Error("no network call expected")
		return nil, nil
	}}
	coord := newCoordinator(store, exec)

	fresh, err := coord.Refresh(context.Background(), "old")
	require.NoError(t, err)
	assert.Equal(t, "new", fresh.AccessToken)
	assert.EqualValues(t, 0, exec.calls.Load())
}

// Canceling a waiter aborts only that waiter's wait; the flight's outcome
// still reaches the others.
func TestRefreshWaiterCancellation(t *testing.T) {
	store := credentials.NewMemoryStore(&credentials.Credentials{AccessToken: "old", RefreshToken: "rt-0"})
	release := make(chan struct{})
	exec := &fakeExec{handler: func(transport.Request) (*transport.Response, error) {
		<-release
		return tokenOK("new", "rt-1"), nil
	}}
	coord := newCoordinator(store, exec)

	firstDone := make(chan error, 1)
	go func() {
		_, err := coord.Refresh(context.Background(), "old")
		firstDone <- err
	}()
	time.Sleep(10 * time.Millisecond) // let the first flight claim

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := coord.Refresh(ctx, "old")
		done <- err
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()

	err := <-done
	require.ErrorIs(t, err, context.Canceled)

	close(release)
	require.NoError(t, <-firstDone)
	assert.Equal(t, 1, store.Saves(), "the flight must still complete and persist after a waiter cancels")
}

// Canceling the initiator must not orphan the waiters: the refresh runs to
// completion and its result is published.
func TestRefreshInitiatorCancellationDoesNotOrphanWaiters(t *testing.T) {
	store := credentials.NewMemoryStore(&credentials.Credentials{AccessToken: "old", RefreshToken: "rt-0"})
	release := make(chan struct{})
	exec := &fakeExec{handler: func(transport.Request) (*transport.Response, error) {
		<-release
		return tokenOK("new", "rt-1"), nil
	}}
	coord := newCoordinator(store, exec)

	initiatorCtx, cancelInitiator := context.WithCancel(context.Background())
	initiatorDone := make(chan error, 1)
	go func() {
		_, err := coord.Refresh(initiatorCtx, "old")
		initiatorDone <- err
	}()
	time.Sleep(10 * time.Millisecond) // initiator holds the flight

	waiterDone := make(chan error, 1)
	var waiterCreds *credentials.Credentials
	go func() {
		fresh, err := coord.Refresh(context.Background(), "old")
		waiterCreds = fresh
		waiterDone <- err
	}()
	time.Sleep(10 * time.Millisecond)

	cancelInitiator()
	require.ErrorIs(t, <-initiatorDone, context.Canceled)

	close(release)
	require.NoError(t, <-waiterDone)
	assert.Equal(t, "new", waiterCreds.AccessToken)
	assert.EqualValues(t, 1, exec.calls.Load())
}

func TestRefreshSaveFailureFailsTheFlight(t *testing.T) {
	store := credentials.NewMemoryStore(&credentials.Credentials{AccessToken: "old", RefreshToken: "rt-0"})
	store.SaveErr = errors.New("disk full")
	exec := &fakeExec{handler: func(transport.Request) (*transport.Response, error) {
		return tokenOK("new", "rt-1"), nil
	}}
	coord := newCoordinator(store, exec)

	_, err := coord.Refresh(context.Background(), "old")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "save credentials")
}

func TestIdentityClientKeepsOldRefreshTokenWhenOmitted(t *testing.T) {
	exec := &fakeExec{handler: func(transport.Request) (*transport.Response, error) {
		body, _ := json.Marshal(map[string]any{"access_token": "new", "expires_in": 60})
		return &transport.Response{Status: http.StatusOK, Header: http.Header{}, Body: body}, nil
	}}
	identity := NewIdentityClient(zap.NewNop(), exec, "https://vault.example.com/identity")

	creds, err := identity.Refresh(context.Background(), "rt-old")
	require.NoError(t, err)
	assert.Equal(t, "rt-old", creds.RefreshToken)
	assert.False(t, creds.ExpiresAt.IsZero())
}

func TestIdentityClientDecodeFailure(t *testing.T) {
	exec := &fakeExec{handler: func(transport.Request) (*transport.Response, error) {
		return &transport.Response{Status: http.StatusOK, Header: http.Header{}, Body: []byte("<html>")}, nil
	}}
	identity := NewIdentityClient(zap.NewNop(), exec, "https://vault.example.com/identity")

	_, err := identity.Refresh(context.Background(), "rt-old")
	require.Error(t, err)
	assert.ErrorIs(t, err, &apierror.Error{Kind: apierror.KindSerialization})
}
