package http

import (
	"context"
	stderrors "errors"
	"net/http"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var loginLog = logrus.WithField("component", "login")

// ErrLoginFailed reports that no session token could be obtained.
var ErrLoginFailed = stderrors.New("login failed")

type loginRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

type loginResponse struct {
	Code string `json:"code"`
	SSID string `json:"ssid"`
}

// LoginClient exchanges credentials for a session token.
type LoginClient struct {
	http     *Client
	url      string
	email    string
	password string
}

// NewLoginClient posts to loginURL, an absolute endpoint.
func NewLoginClient(loginURL, email, password string, cfg ClientConfig) *LoginClient {
	return &LoginClient{
		http:     NewClientWithConfig("", cfg),
		url:      loginURL,
		email:    email,
		password: password,
	}
}

// Login returns the ssid issued for the configured credentials.
func (l *LoginClient) Login(ctx context.Context) (string, error) {
	if l.email == "" || l.password == "" {
		return "", errors.Wrap(ErrLoginFailed, "email and password are required")
	}

	var out loginResponse
	resp, err := l.http.PostJSON(ctx, l.url, loginRequest{Identifier: l.email, Password: l.password}, &out)
	if _, perr := ParseHTTPError(resp, err); perr != nil {
		loginLog.Warnf("login request failed: %v", perr)
		return "", errors.Wrapf(ErrLoginFailed, "%v", perr)
	}
	if resp.StatusCode() != http.StatusOK {
		return "", errors.Wrapf(ErrLoginFailed, "unexpected status %d", resp.StatusCode())
	}
	if out.SSID == "" {
		return "", errors.Wrapf(ErrLoginFailed, "no ssid in response (code %q)", out.Code)
	}
	loginLog.Info("session token obtained")
	return out.SSID, nil
}
