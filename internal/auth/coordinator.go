package auth

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/keyfold/keyfold/internal/credentials"
	"github.com/keyfold/keyfold/internal/metrics"
	"github.com/keyfold/keyfold/pkg/apierror"
)

// refreshKey is the singleflight key: one flight per Coordinator instance.
const refreshKey = "refresh"

// Coordinator serializes token refreshes for one client instance. Under
// concurrent callers at most one refresh network call is in flight; every
// caller that needed a refresh observes that single call's outcome. Owned by
// the API client, never process-wide, so clients pointing at different
// servers cannot cross-contaminate.
type Coordinator struct {
	logger   *zap.Logger
	store    credentials.Store
	identity *IdentityClient
	group    singleflight.Group
}

// NewCoordinator builds a Coordinator over the given store and identity
// client.
func NewCoordinator(logger *zap.Logger, store credentials.Store, identity *IdentityClient) *Coordinator {
	return &Coordinator{logger: logger, store: store, identity: identity}
}

// Refresh obtains fresh credentials, joining an in-flight refresh when one
// exists. staleAccess is the access token the caller saw rejected; when the
// store already holds a different one, a previous flight rotated the pair
// and the stored credentials are returned without a network call.
//
// ctx cancellation aborts only this caller's wait. The refresh itself runs
// on a detached context bounded by the transport's own timeout, so a
// canceled initiator never orphans the waiters.
func (c *Coordinator) Refresh(ctx context.Context, staleAccess string) (*credentials.Credentials, error) {
	ch := c.group.DoChan(refreshKey, func() (any, error) {
		return c.doRefresh(context.WithoutCancel(ctx), staleAccess)
	})

	select {
	case res := <-ch:
		if res.Shared {
			metrics.RefreshWaitersTotal.Inc()
		}
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*credentials.Credentials), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// doRefresh is the single flight body: load, refresh, persist. New
// credentials are saved before the flight completes so any caller resuming
// afterwards reads the fresh token if it re-loads. On failure the stored
// pair is left untouched.
func (c *Coordinator) doRefresh(ctx context.Context, staleAccess string) (*credentials.Credentials, error) {
	stored, err := c.store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load credentials: %w", err)
	}
	if stored == nil || stored.RefreshToken == "" {
		return nil, apierror.Authentication("", "", "not authenticated")
	}
	if staleAccess != "" && stored.AccessToken != staleAccess {
		c.logger.Debug("auth.refresh_skipped_already_rotated")
		return stored, nil
	}

	fresh, err := c.identity.Refresh(ctx, stored.RefreshToken)
	metrics.IncRefresh(err)
	if err != nil {
		c.logger.Warn("auth.refresh_failed", zap.Error(err))
		return nil, err
	}

	if err := c.store.Save(ctx, fresh); err != nil {
		return nil, fmt.Errorf("save credentials: %w", err)
	}
	return fresh, nil
}
