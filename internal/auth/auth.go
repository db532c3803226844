// Package auth loads provider API credentials and applies them to websocket
// and REST requests.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
)

// TokenHeader carries the API key on REST requests and websocket handshakes.
const TokenHeader = "X-Finnhub-Token"

// TokenParam carries the API key in the websocket URL query.
const TokenParam = "token"

// ErrNoKey is returned when neither an inline key nor a key file is configured.
var ErrNoKey = errors.New("api key is required")

// Credentials holds the provider API key.
type Credentials struct {
	APIKey string
}

// LoadCredentials returns credentials from an inline key, or from keyPath when
// the inline key is empty. The key file holds the key on its first line.
func LoadCredentials(apiKey, keyPath string) (*Credentials, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey != "" {
		return &Credentials{APIKey: apiKey}, nil
	}
	if keyPath == "" {
		return nil, ErrNoKey
	}

	key, err := LoadKeyFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("load key file: %w", err)
	}

	return &Credentials{APIKey: key}, nil
}

// LoadKeyFile reads an API key from the first non-empty line of path.
func LoadKeyFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read key file: %w", err)
	}

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		return line, nil
	}

	return "", fmt.Errorf("key file %s: %w", path, ErrNoKey)
}

// ApplyHeader sets the token header. Nil credentials leave h untouched.
func (c *Credentials) ApplyHeader(h http.Header) {
	if c == nil || c.APIKey == "" {
		return
	}
	h.Set(TokenHeader, c.APIKey)
}

// ApplyURL returns rawURL with the token query parameter set.
func (c *Credentials) ApplyURL(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if c == nil || c.APIKey == "" {
		return u.String(), nil
	}

	q := u.Query()
	q.Set(TokenParam, c.APIKey)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Redacted returns the key with all but the last four characters masked, for logs.
func (c *Credentials) Redacted() string {
	if c == nil || c.APIKey == "" {
		return ""
	}
	if len(c.APIKey) <= 4 {
		return "****"
	}
	return strings.Repeat("*", len(c.APIKey)-4) + c.APIKey[len(c.APIKey)-4:]
}

// RedactURL masks the token query parameter in rawURL.
func RedactURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	q := u.Query()
	if q.Get(TokenParam) == "" {
		return rawURL
	}
	q.Set(TokenParam, "REDACTED")
	u.RawQuery = q.Encode()
	return u.String()
}
