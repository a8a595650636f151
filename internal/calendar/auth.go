package calendar

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// authorizedUserToken is the refreshable token format understood by
// tokenSourceFromFile.
type authorizedUserToken struct {
	Type         string `json:"type"`
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	RefreshToken string `json:"refresh_token"`
}

// RunAuthFlow performs the one-time OAuth consent exchange for the
// Calendar API and writes a refreshable token file. The authorization
// code is read from stdin after the user visits the printed URL.
func RunAuthFlow(ctx context.Context, clientSecretPath, tokenPath string) error {
	secret, err := os.ReadFile(clientSecretPath)
	if err != nil {
		return fmt.Errorf("reading client secret %s: %w", clientSecretPath, err)
	}
	cfg, err := google.ConfigFromJSON(secret, Scope)
	if err != nil {
		return fmt.Errorf("parsing client secret: %w", err)
	}
	cfg.RedirectURL = "urn:ietf:wg:oauth:2.0:oob"

	authURL := cfg.AuthCodeURL("state-token", oauth2.AccessTypeOffline)
	fmt.Printf("Open the following link in a browser, then paste the authorization code:\n%s\n> ", authURL)

	var code string
	if _, err := fmt.Scan(&code); err != nil {
		return fmt.Errorf("reading authorization code: %w", err)
	}

	tok, err := cfg.Exchange(ctx, code)
	if err != nil {
		return fmt.Errorf("exchanging authorization code: %w", err)
	}
	if tok.RefreshToken == "" {
		return fmt.Errorf("authorization produced no refresh token, revoke access and retry")
	}

	saved := authorizedUserToken{
		Type:         "authorized_user",
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RefreshToken: tok.RefreshToken,
	}
	data, err := json.MarshalIndent(saved, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding token: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(tokenPath), 0o700); err != nil {
		return fmt.Errorf("creating token directory: %w", err)
	}
	if err := os.WriteFile(tokenPath, data, 0o600); err != nil {
		return fmt.Errorf("writing token %s: %w", tokenPath, err)
	}
	fmt.Printf("Token saved to %s\n", tokenPath)
	return nil
}
