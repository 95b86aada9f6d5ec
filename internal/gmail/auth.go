package gmail

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"jobmail/internal/classifier"
	"jobmail/internal/config"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
)

// loadOAuthConfig reads the OAuth client secret downloaded from the Google
// Cloud console. Labeling and archiving need the modify scope.
func loadOAuthConfig(credentialsFile string) (*oauth2.Config, error) {
	b, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, classifier.NewConfigError("unable to read Gmail client secret file %s: %v", credentialsFile, err)
	}
	oauthConfig, err := google.ConfigFromJSON(b, gmail.GmailModifyScope)
	if err != nil {
		return nil, classifier.NewConfigError("unable to parse Gmail client secret file: %v", err)
	}
	return oauthConfig, nil
}

// Authorize runs the one-time consent flow: it prints the consent URL to out,
// reads the authorization code from in and saves the token.
func Authorize(ctx context.Context, cfg *config.Config, in io.Reader, out io.Writer) error {
	oauthConfig, err := loadOAuthConfig(cfg.GmailCredentialsFile)
	if err != nil {
		return err
	}

	authURL := oauthConfig.AuthCodeURL("state-token", oauth2.AccessTypeOffline)
	fmt.Fprintf(out, "Go to the following link in your browser then type the authorization code:\n%v\n", authURL)

	code, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && code == "" {
		return fmt.Errorf("unable to read authorization code: %w", err)
	}

	tok, err := oauthConfig.Exchange(ctx, strings.TrimSpace(code))
	if err != nil {
		return fmt.Errorf("unable to retrieve token from web: %w", err)
	}
	if err := saveToken(cfg.GmailTokenFile, tok); err != nil {
		return err
	}
	fmt.Fprintf(out, "Saved token to %s\n", cfg.GmailTokenFile)
	return nil
}

func tokenFromFile(file string) (*oauth2.Token, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	tok := &oauth2.Token{}
	err = json.NewDecoder(f).Decode(tok)
	return tok, err
}

func saveToken(path string, token *oauth2.Token) error {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("unable to save oauth token: %w", err)
	}
	defer f.Close()
	if err := json.NewEncoder(f).Encode(token); err != nil {
		return fmt.Errorf("unable to encode oauth token: %w", err)
	}
	return nil
}
