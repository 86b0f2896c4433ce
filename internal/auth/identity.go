// Package auth owns the token refresh lifecycle against the identity
// service, serialized per client instance so concurrent callers share a
// single network refresh.
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/keyfold/keyfold/internal/credentials"
	"github.com/keyfold/keyfold/internal/transport"
	"github.com/keyfold/keyfold/pkg/apierror"
)

const tokenPath = "/connect/token"

// clientID identifies the CLI to the identity service's token endpoint.
const clientID = "cli"

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

// IdentityClient exchanges refresh tokens for new token pairs at the
// identity service.
type IdentityClient struct {
	logger   *zap.Logger
	exec     transport.Executor
	tokenURL string
}

// NewIdentityClient creates a client for the identity service at identityURL.
func NewIdentityClient(logger *zap.Logger, exec transport.Executor, identityURL string) *IdentityClient {
	return &IdentityClient{
		logger:   logger,
		exec:     exec,
		tokenURL: identityURL + tokenPath,
	}
}

// Refresh posts the refresh token grant and returns the new pair. Any
// non-200 from the identity service means the grant was rejected.
func (c *IdentityClient) Refresh(ctx context.Context, refreshToken string) (*credentials.Credentials, error) {
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
		"client_id":     {clientID},
	}

	resp, err := c.exec.Execute(ctx, transport.Request{
		Method:      http.MethodPost,
		URL:         c.tokenURL,
		Path:        tokenPath,
		Body:        []byte(form.Encode()),
		ContentType: "application/x-www-form-urlencoded",
	})
	if err != nil {
		return nil, err
	}
	if resp.Status != http.StatusOK {
		// Any non-200 from the token endpoint means the grant was rejected.
		c.logger.Warn("auth.refresh_rejected", zap.Int("status", resp.Status))
		e := apierror.Authentication(http.MethodPost, tokenPath, "refresh token rejected; please re-authenticate")
		e.Status = resp.Status
		return nil, e
	}

	var tr tokenResponse
	if err := json.Unmarshal(resp.Body, &tr); err != nil {
		return nil, apierror.FromDecode(http.MethodPost, tokenPath, err)
	}
	if tr.AccessToken == "" {
		return nil, apierror.FromDecode(http.MethodPost, tokenPath, fmt.Errorf("identity service returned empty access_token"))
	}
	// Some servers omit the refresh token when it is still valid.
	if tr.RefreshToken == "" {
		tr.RefreshToken = refreshToken
	}

	creds := &credentials.Credentials{
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
	}
	if tr.ExpiresIn > 0 {
		creds.ExpiresAt = time.Now().Add(time.Duration(tr.ExpiresIn) * time.Second)
	}

	c.logger.Info("auth.refresh_success", zap.Int64("expires_in_sec", tr.ExpiresIn))
	return creds, nil
}
