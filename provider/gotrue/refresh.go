package gotrue

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/goliatone/go-authstate"
)

// refresh exchanges refreshToken for a new session. Concurrent callers with
// the same token share one request. A rejected refresh token signs the
// client out.
func (c *Client) refresh(ctx context.Context, refreshToken string) (*authstate.Session, error) {
	v, err, shared := c.refreshGroup.Do(refreshToken, func() (any, error) {
		var resp tokenResponse
		err := c.do(ctx, http.MethodPost, "/token", url.Values{"grant_type": {"refresh_token"}}, "", map[string]any{
			"refresh_token": refreshToken,
		}, &resp)
		if err != nil {
			if status := statusOf(err); status >= http.StatusBadRequest && status < http.StatusInternalServerError {
				c.logger.Warn("refresh token rejected, signing out: %v", err)
				if rmErr := c.storage.Remove(ctx); rmErr != nil {
					c.logger.Error("remove stored session: %v", rmErr)
				}
				c.emit(authstate.ChangeSignedOut, nil, nil)
			}
			return nil, err
		}

		session := resp.session(c.now())
		if session == nil || session.User == nil {
			return nil, authstate.ErrMissingSession.Clone()
		}

		if err := c.saveSession(ctx, session); err != nil {
			return nil, err
		}
		c.emit(authstate.ChangeTokenRefreshed, session.User, session)

		return session, nil
	})
	if shared {
		c.logger.Debug("joined in flight token refresh")
	}
	if err != nil {
		return nil, err
	}

	session, _ := v.(*authstate.Session)
	return session, nil
}

// RefreshSession forces a refresh of the stored session.
func (c *Client) RefreshSession(ctx context.Context) (*authstate.Session, error) {
	session, err := c.storage.Load(ctx)
	if err != nil {
		return nil, authstate.NewBackendError("failed to load session", 0, err)
	}
	if session == nil || session.RefreshToken == "" {
		missing := authstate.ErrMissingSession.Clone()
		missing.Message = "auth session missing"
		return nil, missing
	}
	return c.refresh(ctx, session.RefreshToken)
}

// Start runs the auto refresh loop when it is enabled in the config.
func (c *Client) Start(ctx context.Context) {
	if c.config.AutoRefresh {
		c.StartAutoRefresh(ctx)
	}
}

// StartAutoRefresh checks the stored session every tick and refreshes it
// once it is within the refresh margin. Calling it while a loop is running
// is a no-op.
func (c *Client) StartAutoRefresh(ctx context.Context) {
	c.loopMu.Lock()
	defer c.loopMu.Unlock()

	if c.cancelLoop != nil {
		return
	}

	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	c.cancelLoop = cancel
	c.loopDone = done

	go func() {
		defer close(done)

		ticker := time.NewTicker(c.config.TickInterval)
		defer ticker.Stop()

		c.autoRefreshTick(loopCtx)
		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				c.autoRefreshTick(loopCtx)
			}
		}
	}()
}

// StopAutoRefresh stops the loop and waits for it to exit.
func (c *Client) StopAutoRefresh() {
	c.loopMu.Lock()
	cancel, done := c.cancelLoop, c.loopDone
	c.cancelLoop, c.loopDone = nil, nil
	c.loopMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Close stops background work.
func (c *Client) Close() error {
	c.StopAutoRefresh()
	return nil
}

func (c *Client) autoRefreshTick(ctx context.Context) {
	session, err := c.storage.Load(ctx)
	if err != nil {
		c.logger.Error("auto refresh: load session: %v", err)
		return
	}
	if session == nil || session.RefreshToken == "" {
		return
	}
	if !session.ExpiresWithin(c.now(), c.config.RefreshMargin) {
		return
	}
	if _, err := c.refresh(ctx, session.RefreshToken); err != nil {
		c.logger.Warn("auto refresh failed: %v", err)
	}
}
