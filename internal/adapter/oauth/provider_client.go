// Package oauth holds the outbound HTTP client for upstream token refresh.
package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/smallbiznis/returnwatch/internal/retry"
)

// ProviderConfig identifies the upstream token endpoint and client identity.
type ProviderConfig struct {
	Name         string
	TokenURL     string
	ClientID     string
	ClientSecret string
}

// TokenResponse models the upstream token endpoint response.
type TokenResponse struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    int64
	Scope        string
	TokenType    string
}

// RefreshRejectedError marks a refresh token the upstream considers invalid or
// revoked. It is permanent: the only way forward is user reauthorization.
type RefreshRejectedError struct {
	Status int
	Code   string
}

func (e *RefreshRejectedError) Error() string {
	return fmt.Sprintf("refresh token rejected: status=%d code=%s", e.Status, e.Code)
}

// ProviderClient performs the refresh-token grant against an upstream IdP.
type ProviderClient interface {
	RefreshToken(ctx context.Context, provider ProviderConfig, refreshToken string) (*TokenResponse, error)
}

// HTTPProviderClient is the default HTTP implementation.
type HTTPProviderClient struct {
	httpClient *http.Client
}

// NewHTTPProviderClient constructs the default ProviderClient.
func NewHTTPProviderClient(client *http.Client) *HTTPProviderClient {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPProviderClient{httpClient: client}
}

// RefreshToken exchanges a refresh token for a new access token. Transient
// upstream failures surface as *retry.StatusError so the retry executor can
// classify them; an invalid_grant-class rejection surfaces as
// *RefreshRejectedError and must not be retried.
func (c *HTTPProviderClient) RefreshToken(ctx context.Context, provider ProviderConfig, refreshToken string) (*TokenResponse, error) {
	if strings.TrimSpace(provider.TokenURL) == "" {
		return nil, fmt.Errorf("token url missing")
	}
	data := url.Values{}
	data.Set("grant_type", "refresh_token")
	data.Set("refresh_token", refreshToken)
	data.Set("client_id", provider.ClientID)
	if provider.ClientSecret != "" {
		data.Set("client_secret", provider.ClientSecret)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, provider.TokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("refresh request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read refresh response: %w", err)
	}
	if resp.StatusCode >= 300 {
		if code, ok := rejectionCode(resp.StatusCode, body); ok {
			return nil, &RefreshRejectedError{Status: resp.StatusCode, Code: code}
		}
		return nil, &retry.StatusError{Status: resp.StatusCode, Body: truncate(string(body), 256)}
	}

	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode refresh response: %w", err)
	}

	token := &TokenResponse{
		AccessToken:  stringValue(raw["access_token"]),
		RefreshToken: stringValue(raw["refresh_token"]),
		TokenType:    stringValue(raw["token_type"]),
		Scope:        stringValue(raw["scope"]),
	}
	if exp := raw["expires_in"]; exp != nil {
		token.ExpiresIn = int64Value(exp)
	}
	if token.AccessToken == "" {
		return nil, fmt.Errorf("refresh response missing access_token")
	}
	return token, nil
}

// rejectionCode detects RFC 6749 error responses that mean the refresh token
// itself is dead. Providers return these with 400 or 401.
func rejectionCode(status int, body []byte) (string, bool) {
	if status != http.StatusBadRequest && status != http.StatusUnauthorized {
		return "", false
	}
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", status == http.StatusUnauthorized
	}
	switch payload.Error {
	case "invalid_grant", "invalid_token", "unauthorized_client":
		return payload.Error, true
	}
	return "", status == http.StatusUnauthorized
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func stringValue(input any) string {
	switch v := input.(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	default:
		return ""
	}
}

func int64Value(input any) int64 {
	switch v := input.(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	case json.Number:
		n, _ := v.Int64()
		return n
	case string:
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return 0
}
