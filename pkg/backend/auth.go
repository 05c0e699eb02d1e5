package backend

import (
	"context"
	"fmt"
	"net/http"
	"net/mail"
	"strings"
)

// Session is the identity returned by a successful OTP verification.
type Session struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	Token  string `json:"token"`
}

// RequestCode asks the backend to email a one-time login code.
func (c *Client) RequestCode(ctx context.Context, email string) error {
	email = strings.TrimSpace(email)
	if _, err := mail.ParseAddress(email); err != nil {
		return fmt.Errorf("invalid email %q: %w", email, err)
	}
	payload := map[string]string{"email": email}
	return c.doJSON(ctx, http.MethodPost, "/v1/auth/otp/request", nil, payload, nil)
}

// VerifyCode exchanges the emailed code for a session. On success the session
// token is installed on the client for subsequent requests.
func (c *Client) VerifyCode(ctx context.Context, email, code string) (*Session, error) {
	email = strings.TrimSpace(email)
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, fmt.Errorf("empty verification code")
	}
	payload := map[string]string{"email": email, "code": code}
	var session Session
	if err := c.doJSON(ctx, http.MethodPost, "/v1/auth/otp/verify", nil, payload, &session); err != nil {
		return nil, err
	}
	if session.Token == "" {
		return nil, fmt.Errorf("backend returned empty session token")
	}
	c.SetSessionToken(session.Token)
	return &session, nil
}
