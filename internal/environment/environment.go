// Package environment resolves the set of vault service URLs from a single
// configured base URL.
package environment

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/keyfold/keyfold/pkg/apierror"
)

// Environment holds the validated service URLs derived from one base URL.
// It is immutable after construction and safe to share across goroutines.
type Environment struct {
	base          string
	api           string
	identity      string
	web           string
	icons         string
	notifications string
}

// Options overrides any subset of the five service URLs. Empty fields fall
// back to the derivation from Base.
type Options struct {
	Base          string
	API           string
	Identity      string
	Web           string
	Icons         string
	Notifications string
}

// Resolve derives all service URLs from a single base URL.
func Resolve(base string) (*Environment, error) {
	return New(Options{Base: base})
}

// New builds an Environment from explicit options, validating each URL
// independently.
func New(opts Options) (*Environment, error) {
	if opts.Base == "" && (opts.API == "" || opts.Identity == "") {
		return nil, apierror.Configuration("a base URL or explicit api and identity URLs are required")
	}

	env := &Environment{}

	if opts.Base != "" {
		base, err := validate(opts.Base)
		if err != nil {
			return nil, err
		}
		env.base = base
		env.api = base + "/api"
		env.identity = base + "/identity"
		env.web = base
		env.icons = base + "/icons"
		env.notifications = base + "/notifications"
	}

	for _, o := range []struct {
		value  string
		target *string
	}{
		{opts.API, &env.api},
		{opts.Identity, &env.identity},
		{opts.Web, &env.web},
		{opts.Icons, &env.icons},
		{opts.Notifications, &env.notifications},
	} {
		if o.value == "" {
			continue
		}
		u, err := validate(o.value)
		if err != nil {
			return nil, err
		}
		*o.target = u
	}

	return env, nil
}

// validate parses raw, enforces the HTTPS-except-loopback policy and strips
// any trailing slash.
func validate(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return "", apierror.Configuration(fmt.Sprintf("invalid server URL %q", raw))
	}
	if u.Scheme == "http" && !isLoopback(u.Hostname()) {
		return "", apierror.Configuration(fmt.Sprintf("server URL %q must use https", raw))
	}
	u.Path = strings.TrimRight(u.Path, "/")
	u.Fragment = ""
	return strings.TrimRight(u.String(), "/"), nil
}

func isLoopback(host string) bool {
	switch host {
	case "localhost", "127.0.0.1", "::1":
		return true
	}
	return false
}

// Base returns the configured base URL, empty when the Environment was built
// from explicit per-service URLs only.
func (e *Environment) Base() string { return e.base }

// API returns the resource API service URL.
func (e *Environment) API() string { return e.api }

// Identity returns the identity (token) service URL.
func (e *Environment) Identity() string { return e.identity }

// Web returns the web vault URL.
func (e *Environment) Web() string { return e.web }

// Icons returns the icon service URL.
func (e *Environment) Icons() string { return e.icons }

// Notifications returns the notifications service URL.
func (e *Environment) Notifications() string { return e.notifications }
