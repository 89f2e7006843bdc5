package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/rryowa/vidauth/internal/models"
)

// Session is a logged-in client. It is safe for concurrent use.
type Session struct {
	baseURL string
	http    *http.Client
	coord   *Coordinator
	user    models.Profile
	log     *zap.SugaredLogger
}

// User is the profile returned at login.
func (s *Session) User() models.Profile {
	return s.user
}

// NewRequest builds a request against the API base URL with body encoded as
// JSON.
func (s *Session) NewRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	return newJSONRequest(ctx, method, s.baseURL+path, body)
}

// Do sends req with the session cookies. When the server answers 401 on any
// endpoint other than login and refresh-token, Do waits for the session's
// single refresh flight and then sends an identical copy of req once. A 401
// that arrives after a flight already settled is replayed without another
// refresh. The replay's response is returned as is, 401 included.
func (s *Session) Do(req *http.Request) (*http.Response, error) {
	if err := bufferBody(req); err != nil {
		return nil, err
	}
	// the client adds jar cookies to req's header in place; keep the
	// caller's headers so the replay carries the refreshed cookies only
	header := req.Header.Clone()
	seen := s.coord.Generation()

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized || !refreshable(req) {
		return resp, nil
	}
	discard(resp)

	s.log.Debugw("Access token rejected, refreshing", "method", req.Method, "path", req.URL.Path)
	if err := s.coord.RefreshAfter(req.Context(), seen); err != nil {
		return nil, err
	}

	replay, err := cloneRequest(req, header)
	if err != nil {
		return nil, err
	}
	return s.http.Do(replay)
}

func (s *Session) CurrentUser(ctx context.Context) (*models.Profile, error) {
	var profile models.Profile
	if err := s.call(ctx, http.MethodGet, "/users/current-user", nil, &profile); err != nil {
		return nil, err
	}
	return &profile, nil
}

func (s *Session) ChangePassword(ctx context.Context, oldPassword, newPassword string) error {
	return s.call(ctx, http.MethodPost, "/users/change-password",
		models.ChangePasswordRequest{OldPassword: oldPassword, NewPassword: newPassword}, nil)
}

func (s *Session) UpdateAccount(ctx context.Context, req models.UpdateAccountRequest) (*models.Profile, error) {
	var profile models.Profile
	if err := s.call(ctx, http.MethodPatch, "/users/update-account", req, &profile); err != nil {
		return nil, err
	}
	return &profile, nil
}

// Logout closes the refresh Coordinator, lets any running refresh finish so
// the server clears the newest token, then logs out on the server. The
// session is unusable afterwards.
func (s *Session) Logout(ctx context.Context) error {
	s.coord.Close()
	if err := s.coord.Wait(ctx); err != nil {
		return err
	}

	req, err := s.NewRequest(ctx, http.MethodPost, "/users/logout", nil)
	if err != nil {
		return err
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	err = decodeResponse(resp, nil)

	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized {
		s.log.Debugw("Logout with expired access token")
		return nil
	}
	return err
}

func (s *Session) call(ctx context.Context, method, path string, body, out any) error {
	req, err := s.NewRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	resp, err := s.Do(req)
	if err != nil {
		return err
	}
	return decodeResponse(resp, out)
}

// refreshTokens is the Coordinator's RefreshFunc. The refresh cookie travels
// in the jar, and the rotated pair comes back the same way.
func (s *Session) refreshTokens(ctx context.Context) error {
	req, err := s.NewRequest(ctx, http.MethodPost, models.RefreshTokenPath, nil)
	if err != nil {
		return err
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("refresh: %w", err)
	}
	defer discard(resp)

	if resp.StatusCode != http.StatusOK {
		s.log.Infow("Refresh rejected", "status", resp.StatusCode)
		return fmt.Errorf("%w: status %d", ErrRefreshRejected, resp.StatusCode)
	}
	return nil
}

func refreshable(req *http.Request) bool {
	path := req.URL.Path
	return !strings.HasSuffix(path, models.LoginPath) && !strings.HasSuffix(path, models.RefreshTokenPath)
}

// bufferBody makes req.Body replayable through GetBody.
func bufferBody(req *http.Request) error {
	if req.Body == nil || req.Body == http.NoBody || req.GetBody != nil {
		return nil
	}
	payload, err := io.ReadAll(req.Body)
	_ = req.Body.Close()
	if err != nil {
		return fmt.Errorf("buffer request body: %w", err)
	}

	req.Body = io.NopCloser(bytes.NewReader(payload))
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(payload)), nil
	}
	req.ContentLength = int64(len(payload))
	return nil
}

func cloneRequest(req *http.Request, header http.Header) (*http.Request, error) {
	replay := req.Clone(req.Context())
	replay.Header = header
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, fmt.Errorf("replay body: %w", err)
		}
		replay.Body = body
	}
	return replay, nil
}

func discard(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}
