// Package api implements the authenticated request pipeline of the vault
// client: build, authorize, execute, classify, and on a single 401 drive one
// refresh-then-retry cycle through the auth coordinator.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/keyfold/keyfold/internal/auth"
	"github.com/keyfold/keyfold/internal/credentials"
	"github.com/keyfold/keyfold/internal/environment"
	"github.com/keyfold/keyfold/internal/transport"
	"github.com/keyfold/keyfold/pkg/apierror"
)

// Client is the vault API client. Safe for concurrent use; requests that do
// not need a refresh proceed fully in parallel.
type Client struct {
	logger *zap.Logger
	env    *environment.Environment
	store  credentials.Store
	exec   transport.Executor
	coord  *auth.Coordinator
}

// New wires the pipeline over the given environment, credential store and
// executor. The refresh coordinator is owned by this instance.
func New(logger *zap.Logger, env *environment.Environment, store credentials.Store, exec transport.Executor) *Client {
	identity := auth.NewIdentityClient(logger, exec, env.Identity())
	return &Client{
		logger: logger,
		env:    env,
		store:  store,
		exec:   exec,
		coord:  auth.NewCoordinator(logger, store, identity),
	}
}

// Do executes spec and returns the response for any 2xx status. Every other
// outcome is a *apierror.Error.
func (c *Client) Do(ctx context.Context, spec *RequestSpec) (*Response, error) {
	var bearer string
	if spec.Auth == AuthBearer {
		creds, err := c.store.Load(ctx)
		if err != nil {
			return nil, apierror.Wrap(apierror.KindConfiguration, spec.Method, spec.Path, err)
		}
		if creds == nil || creds.AccessToken == "" {
			// No network call without credentials.
			return nil, apierror.Authentication(spec.Method, spec.Path, "not authenticated")
		}
		bearer = creds.AccessToken
	}

	var body []byte
	if spec.Body != nil {
		var err error
		if body, err = json.Marshal(spec.Body); err != nil {
			return nil, apierror.FromDecode(spec.Method, spec.Path, err)
		}
	}

	req := transport.Request{
		Method: spec.Method,
		URL:    c.serviceURL(spec.Service) + spec.Path,
		Path:   spec.Path,
		Body:   body,
		Bearer: bearer,
	}

	resp, err := c.exec.Execute(ctx, req)
	if err != nil {
		return nil, err
	}

	if resp.Status == http.StatusUnauthorized && spec.Auth == AuthBearer {
		fresh, refreshErr := c.coord.Refresh(ctx, bearer)
		if refreshErr != nil {
			c.logger.Warn("api.refresh_failed",
				zap.String("method", spec.Method),
				zap.String("path", spec.Path),
				zap.Error(refreshErr))
			return nil, apierror.Wrap(apierror.KindAuthentication, spec.Method, spec.Path, refreshErr)
		}

		// Exactly one retry; a second 401 falls through to the
		// classifier and is surfaced as an authentication failure.
		req.Bearer = fresh.AccessToken
		if resp, err = c.exec.Execute(ctx, req); err != nil {
			return nil, err
		}
	}

	if resp.Status < 200 || resp.Status >= 300 {
		return nil, apierror.FromStatus(spec.Method, spec.Path, resp.Status, resp.Header.Get("Retry-After"))
	}

	return &Response{Status: resp.Status, Header: resp.Header, Body: resp.Body}, nil
}

// DoJSON executes spec and decodes a JSON response body into out. A 204 or
// empty body leaves out untouched. out may be nil to discard the body.
func (c *Client) DoJSON(ctx context.Context, spec *RequestSpec, out any) error {
	resp, err := c.Do(ctx, spec)
	if err != nil {
		return err
	}
	if out == nil || resp.Status == http.StatusNoContent || len(resp.Body) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return apierror.FromDecode(spec.Method, spec.Path, err)
	}
	return nil
}

// Get performs an authenticated GET against the api service.
func (c *Client) Get(ctx context.Context, path string, out any) error {
	return c.DoJSON(ctx, &RequestSpec{Method: http.MethodGet, Path: path, Auth: AuthBearer}, out)
}

// Post performs an authenticated POST with a JSON body against the api
// service.
func (c *Client) Post(ctx context.Context, path string, body, out any) error {
	return c.DoJSON(ctx, &RequestSpec{Method: http.MethodPost, Path: path, Body: body, Auth: AuthBearer}, out)
}

// Put performs an authenticated PUT with a JSON body against the api
// service.
func (c *Client) Put(ctx context.Context, path string, body, out any) error {
	return c.DoJSON(ctx, &RequestSpec{Method: http.MethodPut, Path: path, Body: body, Auth: AuthBearer}, out)
}

// Delete performs an authenticated DELETE against the api service.
func (c *Client) Delete(ctx context.Context, path string) error {
	return c.DoJSON(ctx, &RequestSpec{Method: http.MethodDelete, Path: path, Auth: AuthBearer}, nil)
}

// Environment returns the resolved service URLs this client talks to.
func (c *Client) Environment() *environment.Environment { return c.env }

func (c *Client) serviceURL(s Service) string {
	switch s {
	case ServiceIdentity:
		return c.env.Identity()
	case ServiceWeb:
		return c.env.Web()
	case ServiceIcons:
		return c.env.Icons()
	case ServiceNotifications:
		return c.env.Notifications()
	default:
		return c.env.API()
	}
}
