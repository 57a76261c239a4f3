package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/minus-twelve/roster/types"
)

func (c *Client) Login(ctx context.Context, creds types.Credentials) (*types.AuthResult, error) {
	env, err := c.doWithToken(ctx, http.MethodPost, "/auth/login", nil, creds, "")
	if err != nil {
		var apiErr *types.APIError
		if errors.As(err, &apiErr) && (apiErr.Status == http.StatusUnauthorized || apiErr.Status == http.StatusBadRequest) {
			return nil, fmt.Errorf("%w: %s", types.ErrInvalidCredentials, apiErr.Message)
		}
		return nil, err
	}

	var res types.AuthResult
	if err := decode(env, &res); err != nil {
		return nil, err
	}
	if res.Token == "" {
		return nil, errors.New("login response carried no token")
	}
	fillExpiry(&res, time.Now())
	return &res, nil
}

func (c *Client) Refresh(ctx context.Context, token string) (*types.AuthResult, error) {
	env, err := c.doWithToken(ctx, http.MethodPost, "/auth/refresh-token", nil, nil, token)
	if err != nil {
		return nil, err
	}

	var res types.AuthResult
	if err := decode(env, &res); err != nil {
		return nil, err
	}
	if res.Token == "" {
		return nil, errors.New("refresh response carried no token")
	}
	fillExpiry(&res, time.Now())
	return &res, nil
}

// Logout invalidates token server-side. It bypasses the refresh/logout
// policy since the local session is already gone when it is called.
func (c *Client) Logout(ctx context.Context, token string) error {
	resp, err := c.send(ctx, http.MethodPost, "/auth/logout", nil, nil, token)
	if err != nil {
		return err
	}
	if !resp.ok() {
		return resp.err()
	}
	return nil
}

func (c *Client) Register(ctx context.Context, reg types.Registration) (string, error) {
	env, err := c.doWithToken(ctx, http.MethodPost, "/auth/register", nil, reg, "")
	if err != nil {
		return "", err
	}
	return env.Message, nil
}

func (c *Client) CurrentUser(ctx context.Context) (types.User, error) {
	var u types.User
	env, err := c.do(ctx, http.MethodGet, "/auth/current-user", nil, nil)
	if err != nil {
		return u, err
	}
	if err := decode(env, &u); err != nil {
		return u, err
	}
	return u, nil
}

func (c *Client) PendingUsers(ctx context.Context) ([]types.User, error) {
	var users []types.User
	env, err := c.do(ctx, http.MethodGet, "/auth/pending-users", nil, nil)
	if err != nil {
		return nil, err
	}
	if err := decode(env, &users); err != nil {
		return users, err
	}
	return users, nil
}

func (c *Client) ApproveUser(ctx context.Context, id string) error {
	_, err := c.do(ctx, http.MethodPut, "/auth/approve-user/"+id, nil, nil)
	return err
}

func (c *Client) RejectUser(ctx context.Context, id string) error {
	_, err := c.do(ctx, http.MethodPut, "/auth/reject-user/"+id, nil, nil)
	return err
}

func (c *Client) Users(ctx context.Context) ([]types.User, error) {
	var users []types.User
	env, err := c.do(ctx, http.MethodGet, "/auth/users", nil, nil)
	if err != nil {
		return nil, err
	}
	if err := decode(env, &users); err != nil {
		return users, err
	}
	return users, nil
}

func (c *Client) SetUserSession(ctx context.Context, id string, active bool) error {
	body := map[string]bool{"sessionActive": active}
	_, err := c.do(ctx, http.MethodPut, "/auth/users/"+id+"/session", nil, body)
	return err
}

func (c *Client) SetUserStatus(ctx context.Context, id, status string) error {
	body := map[string]string{"status": status}
	_, err := c.do(ctx, http.MethodPut, "/auth/users/"+id+"/status", nil, body)
	return err
}

func (c *Client) DeleteUser(ctx context.Context, id string) error {
	_, err := c.do(ctx, http.MethodDelete, "/auth/users/"+id, nil, nil)
	return err
}

// fillExpiry derives ExpiresIn from the token's exp claim when the server
// left it out. The signature is not checked; only the server can do that.
func fillExpiry(res *types.AuthResult, now time.Time) {
	if res.ExpiresIn > 0 {
		return
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(res.Token, claims); err != nil {
		return
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return
	}
	if secs := int64(exp.Time.Sub(now) / time.Second); secs > 0 {
		res.ExpiresIn = secs
	}
}
