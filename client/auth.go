package client

import (
	"context"
	"net/http"

	stackflow "github.com/goliatone/go-stackflow"
)

// Credentials log a user in.
type Credentials struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// Registration creates a user.
type Registration struct {
	Email    string `json:"email" validate:"required,email"`
	Username string `json:"username" validate:"required,min=3,max=50"`
	Password string `json:"password" validate:"required,min=8"`
}

type User struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	Username string `json:"username"`
	IsActive bool   `json:"is_active"`
}

// TokenResponse is returned by login and register.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	User        *User  `json:"user,omitempty"`
}

type tokenSetter interface {
	Set(token string)
}

// Login authenticates and, when the token source is a TokenStore, stores the
// issued bearer token.
func (c *Client) Login(ctx context.Context, email, password string) (TokenResponse, error) {
	return c.authenticate(ctx, "/api/auth/login", &Credentials{Email: email, Password: password})
}

// Register creates a user and stores its token like Login.
func (c *Client) Register(ctx context.Context, r Registration) (TokenResponse, error) {
	return c.authenticate(ctx, "/api/auth/register", &r)
}

func (c *Client) authenticate(ctx context.Context, path string, in any) (TokenResponse, error) {
	if err := stackflow.ValidateMessage(in); err != nil {
		return TokenResponse{}, err
	}
	var out TokenResponse
	cl, err := jsonCall(http.MethodPost, path, in, &out)
	if err != nil {
		return TokenResponse{}, err
	}
	cl.anonymous = true
	if err := c.send(ctx, cl); err != nil {
		return TokenResponse{}, err
	}
	if out.AccessToken == "" {
		return TokenResponse{}, stackflow.NewError(stackflow.ErrUnauthorized, "no access token issued", nil, nil)
	}
	if setter, ok := c.tokens.(tokenSetter); ok {
		setter.Set(out.AccessToken)
	}
	return out, nil
}

// Me returns the authenticated user.
func (c *Client) Me(ctx context.Context) (User, error) {
	var out User
	cl, _ := jsonCall(http.MethodGet, "/api/auth/me", nil, &out)
	if err := c.send(ctx, cl); err != nil {
		return User{}, err
	}
	return out, nil
}
