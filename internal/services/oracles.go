package services

import (
	"context"
	"crypto/sha1"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog"
)

// BreachOracle screens a candidate password against a corpus of known
// compromised passwords.
type BreachOracle interface {
	// IsBreached reports whether the password appears in a known breach.
	// An error means the oracle itself is unreachable; callers fail open.
	IsBreached(ctx context.Context, password string) (bool, error)
}

// MXOracle reports whether an email domain can receive mail.
type MXOracle interface {
	HasMX(ctx context.Context, domain string) bool
}

// CaptchaOracle verifies a CAPTCHA response token.
type CaptchaOracle interface {
	Verify(ctx context.Context, token string) bool
}

const pwnedRangeURL = "https://api.pwnedpasswords.com/range/"

// PwnedPasswordChecker queries the Pwned Passwords k-anonymity range API.
// Only the first five hex characters of the SHA-1 ever leave the process.
type PwnedPasswordChecker struct {
	enabled bool
	client  *http.Client
	logger  zerolog.Logger
}

func NewPwnedPasswordChecker(enabled bool, logger zerolog.Logger) *PwnedPasswordChecker {
	return &PwnedPasswordChecker{
		enabled: enabled,
		client:  &http.Client{},
		logger:  logger.With().Str("component", "pwned_passwords").Logger(),
	}
}

func (c *PwnedPasswordChecker) IsBreached(ctx context.Context, password string) (bool, error) {
	if !c.enabled {
		return false, nil
	}

	sum := fmt.Sprintf("%X", sha1.Sum([]byte(password)))
	prefix, suffix := sum[:5], sum[5:]

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pwnedRangeURL+prefix, nil)
	if err != nil {
		return false, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("pwned passwords range query returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return false, err
	}
	for _, line := range strings.Split(string(body), "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), suffix) {
			return true, nil
		}
	}
	return false, nil
}

// MXChecker resolves MX records for the email domain. Resolver outages fail
// open so DNS trouble never blocks registration; a definitive "no such
// domain" answer does not.
type MXChecker struct {
	enabled bool
	logger  zerolog.Logger
}

func NewMXChecker(enabled bool, logger zerolog.Logger) *MXChecker {
	return &MXChecker{enabled: enabled, logger: logger.With().Str("component", "mx_check").Logger()}
}

func (c *MXChecker) HasMX(ctx context.Context, domain string) bool {
	if !c.enabled {
		return true
	}
	if domain == "" {
		return false
	}

	records, err := net.DefaultResolver.LookupMX(ctx, domain)
	if err != nil {
		var dnsErr *net.DNSError
		if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
			c.logger.Warn().Str("domain", domain).Msg("no mx records for domain")
			return false
		}
		c.logger.Error().Err(err).Str("domain", domain).Msg("mx lookup failed, failing open")
		return true
	}
	return len(records) > 0
}

// RecaptchaVerifier verifies tokens against the reCAPTCHA siteverify API.
// With no secret configured every token passes.
type RecaptchaVerifier struct {
	secret string
	client *http.Client
	logger zerolog.Logger
}

const recaptchaVerifyURL = "https://www.google.com/recaptcha/api/siteverify"

func NewRecaptchaVerifier(secret string, logger zerolog.Logger) *RecaptchaVerifier {
	return &RecaptchaVerifier{
		secret: secret,
		client: &http.Client{},
		logger: logger.With().Str("component", "captcha").Logger(),
	}
}

func (v *RecaptchaVerifier) Verify(ctx context.Context, token string) bool {
	if v.secret == "" {
		return true
	}

	form := url.Values{"secret": {v.secret}, "response": {token}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, recaptchaVerifyURL, strings.NewReader(form.Encode()))
	if err != nil {
		return false
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := v.client.Do(req)
	if err != nil {
		v.logger.Error().Err(err).Msg("captcha verification failed")
		return false
	}
	defer resp.Body.Close()

	var result struct {
		Success bool `json:"success"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return false
	}
	return result.Success
}
