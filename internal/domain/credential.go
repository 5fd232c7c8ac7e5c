package domain

import "time"

// CredentialStatus is the lifecycle state of a stored upstream credential.
type CredentialStatus string

const (
	CredentialActive         CredentialStatus = "active"
	CredentialReauthRequired CredentialStatus = "reauth_required"
)

// Credential holds the OAuth tokens for one (user, provider) pair.
//
// Invariants: a non-nil access token always carries a non-nil expiry, and a
// credential in reauth_required state never holds an access token. The named
// transition helpers below are the only places these fields change together,
// so the invariants cannot drift apart.
type Credential struct {
	UserID        string
	Provider      string
	RefreshToken  *string
	AccessToken   *string
	AccessExpiry  *time.Time
	GrantedScopes []string
	Status        CredentialStatus
	UpdatedAt     time.Time
}

// Refreshed returns a copy carrying the newly granted access token.
func (c Credential) Refreshed(accessToken string, expiry time.Time, scopes []string, now time.Time) Credential {
	c.AccessToken = &accessToken
	c.AccessExpiry = &expiry
	if len(scopes) > 0 {
		c.GrantedScopes = append([]string{}, scopes...)
	}
	c.Status = CredentialActive
	c.UpdatedAt = now
	return c
}

// ReauthRequired returns a copy with the access token cleared and the status
// flipped. The refresh token is preserved so an in-flight reauthorization
// callback can still overwrite it.
func (c Credential) ReauthRequired(now time.Time) Credential {
	c.AccessToken = nil
	c.AccessExpiry = nil
	c.Status = CredentialReauthRequired
	c.UpdatedAt = now
	return c
}
