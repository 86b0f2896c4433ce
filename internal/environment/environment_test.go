package environment

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keyfold/keyfold/pkg/apierror"
)

func TestResolveDerivesServiceURLs(t *testing.T) {
	env, err := Resolve("https://vault.example.com/")
	require.NoError(t, err)

	assert.Equal(t, "https://vault.example.com", env.Base())
	assert.Equal(t, "https://vault.example.com/api", env.API())
	assert.Equal(t, "https://vault.example.com/identity", env.Identity())
	assert.Equal(t, "https://vault.example.com", env.Web())
	assert.Equal(t, "https://vault.example.com/icons", env.Icons())
	assert.Equal(t, "https://vault.example.com/notifications", env.Notifications())
}

func TestResolveStripsTrailingSlashes(t *testing.T) {
	env, err := Resolve("https://vault.example.com/sub/path///")
	require.NoError(t, err)
	assert.Equal(t, "https://vault.example.com/sub/path", env.Base())
	assert.Equal(t, "https://vault.example.com/sub/path/api", env.API())
}

func TestResolveRejectsPlainHTTP(t *testing.T) {
	_, err := Resolve("http://vault.example.com")
	require.Error(t, err)

	var apiErr *apierror.Error
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, apierror.KindConfiguration, apiErr.Kind)
}

func TestResolveAllowsLoopbackHTTP(t *testing.T) {
	for _, base := range []string{
		"http://localhost:8080",
		"http://127.0.0.1:8080",
		"http://[::1]:8080",
	} {
		env, err := Resolve(base)
		require.NoError(t, err, base)
		assert.Equal(t, base+"/api", env.API())
	}
}

func TestResolveRejectsGarbage(t *testing.T) {
	for _, base := range []string{
		"",
		"not a url",
		"ftp://vault.example.com",
		"https://",
	} {
		_, err := Resolve(base)
		assert.Error(t, err, "base %q", base)
	}
}

func TestNewAppliesOverrides(t *testing.T) {
	env, err := New(Options{
		Base: "https://vault.example.com",
		API:  "https://api.example.com/",
	})
	require.NoError(t, err)
	assert.Equal(t, "https://api.example.com", env.API())
	assert.Equal(t, "https://vault.example.com/identity", env.Identity())
}

func TestNewValidatesEachOverride(t *testing.T) {
	_, err := New(Options{
		Base:  "https://vault.example.com",
		Icons: "http://icons.example.com",
	})
	require.Error(t, err)
}

func TestNewWithoutBaseRequiresAPIAndIdentity(t *testing.T) {
	_, err := New(Options{API: "https://api.example.com"})
	require.Error(t, err)

	env, err := New(Options{
		API:      "https://api.example.com",
		Identity: "https://id.example.com",
	})
	require.NoError(t, err)
	assert.Equal(t, "https://id.example.com", env.Identity())
	assert.Empty(t, env.Base())
}
