package gcal

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
)

// OAuthConfig builds the oauth2 config for the Google Calendar scope.
func OAuthConfig(clientID, clientSecret string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     google.Endpoint,
		RedirectURL:  "urn:ietf:wg:oauth:2.0:oob",
		Scopes:       []string{calendar.CalendarScope},
	}
}

// DefaultTokenPath returns the default path for the persisted OAuth token:
// ~/.local/share/caldav2google/google-token.json
func DefaultTokenPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".local", "share", "caldav2google", "google-token.json"), nil
}

// SaveToken writes the OAuth token as JSON with owner-only permissions.
func SaveToken(path string, token *oauth2.Token) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating token directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("creating token file: %w", err)
	}
	defer func() { _ = f.Close() }()

	if err := json.NewEncoder(f).Encode(token); err != nil {
		return fmt.Errorf("encoding token: %w", err)
	}
	return nil
}

// LoadToken reads a previously saved OAuth token.
func LoadToken(path string) (*oauth2.Token, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening token file: %w", err)
	}
	defer func() { _ = f.Close() }()

	var token oauth2.Token
	if err := json.NewDecoder(f).Decode(&token); err != nil {
		return nil, fmt.Errorf("decoding token file %q: %w", path, err)
	}
	return &token, nil
}

// Authorize runs the interactive out-of-band OAuth flow: it prints the
// consent URL, reads the authorization code from stdin, exchanges it for a
// token, and persists the token at tokenPath.
func Authorize(ctx context.Context, cfg *oauth2.Config, tokenPath string) error {
	authURL := cfg.AuthCodeURL("state-token", oauth2.AccessTypeOffline)
	fmt.Printf("Open the following link in your browser, then paste the authorization code:\n%s\n> ", authURL)

	var authCode string
	if _, err := fmt.Scan(&authCode); err != nil {
		return fmt.Errorf("reading authorization code: %w", err)
	}

	token, err := cfg.Exchange(ctx, authCode)
	if err != nil {
		return fmt.Errorf("exchanging authorization code: %w", err)
	}

	if err := SaveToken(tokenPath, token); err != nil {
		return fmt.Errorf("saving token: %w", err)
	}
	return nil
}

// persistingTokenSource wraps a refreshing token source and writes every
// refreshed token back to disk, so the next run starts with a valid token.
type persistingTokenSource struct {
	src  oauth2.TokenSource
	path string
	last *oauth2.Token
}

func (s *persistingTokenSource) Token() (*oauth2.Token, error) {
	token, err := s.src.Token()
	if err != nil {
		return nil, err
	}
	if s.last == nil || token.AccessToken != s.last.AccessToken {
		if err := SaveToken(s.path, token); err != nil {
			return nil, fmt.Errorf("persisting refreshed token: %w", err)
		}
		s.last = token
	}
	return token, nil
}

// TokenSource returns an auto-refreshing token source seeded from the token
// file at tokenPath. Refreshed tokens are persisted back to the same file.
func TokenSource(ctx context.Context, cfg *oauth2.Config, tokenPath string) (oauth2.TokenSource, error) {
	token, err := LoadToken(tokenPath)
	if err != nil {
		return nil, fmt.Errorf("no stored Google token (run the auth command first): %w", err)
	}
	return &persistingTokenSource{
		src:  cfg.TokenSource(ctx, token),
		path: tokenPath,
		last: token,
	}, nil
}
