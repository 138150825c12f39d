package ddf

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/hashicorp/go-retryablehttp"
)

// Credentials identify this proxy to the DDF identity provider.
type Credentials struct {
	TokenURL     *url.URL
	ClientID     string
	ClientSecret string
	Scope        string
}

// TokenClient performs the OAuth2 client-credentials grant. Tokens are not
// cached; every call asks the identity provider again.
type TokenClient struct {
	creds Credentials
	http  *retryablehttp.Client
}

func NewTokenClient(creds Credentials, opts Options) *TokenClient {
	return &TokenClient{creds: creds, http: newHTTPClient(opts)}
}

// Token returns a bearer token or an *AuthenticationError.
func (t *TokenClient) Token(ctx context.Context) (string, error) {
	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", t.creds.ClientID)
	form.Set("client_secret", t.creds.ClientSecret)
	if t.creds.Scope != "" {
		form.Set("scope", t.creds.Scope)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, t.creds.TokenURL.String(), strings.NewReader(form.Encode()))
	if err != nil {
		return "", &AuthenticationError{Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := t.http.Do(req)
	if err != nil {
		return "", &AuthenticationError{Err: fmt.Errorf("token request: %w", err)}
	}
	defer resp.Body.Close()

	body, err := ioReadAllLimit(resp.Body, 64<<10)
	if err != nil {
		return "", &AuthenticationError{Status: resp.StatusCode, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &AuthenticationError{Status: resp.StatusCode, Body: truncate(body)}
	}

	var tok tokenResponse
	if err := json.Unmarshal(body, &tok); err != nil {
		return "", &AuthenticationError{Status: resp.StatusCode, Err: fmt.Errorf("decode token: %w", err)}
	}
	if tok.AccessToken == "" {
		return "", &AuthenticationError{Status: resp.StatusCode, Err: ErrMissingToken}
	}
	return tok.AccessToken, nil
}
