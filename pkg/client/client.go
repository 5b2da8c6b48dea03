// Package client builds the authenticated Google HTTP client shared by the
// Gmail, Drive and Sheets services. First use runs a desktop OAuth flow
// through a local callback server and caches the token on disk; later runs
// reuse the cached token and refresh it silently.
package client

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	driveapi "google.golang.org/api/drive/v3"
	gmailapi "google.golang.org/api/gmail/v1"
	sheetsapi "google.golang.org/api/sheets/v4"
)

const (
	// callbackPort is the fixed port the OAuth redirect lands on. It must
	// match the redirect URI registered on the credentials.
	callbackPort = 8085
	callbackPath = "/callback"
	// flowTimeout bounds how long we wait for the user to finish the
	// browser consent screen.
	flowTimeout = 5 * time.Minute
)

// DefaultTokenFile is where the exchanged token is cached when Config leaves
// TokenFile empty.
const DefaultTokenFile = "data/token.json"

// DefaultScopes covers the full receipt pipeline: mailbox read/modify for
// ingestion, labeling and archiving, Drive file access for receipt storage,
// and Sheets for exports.
func DefaultScopes() []string {
	return []string{
		gmailapi.GmailModifyScope,
		driveapi.DriveFileScope,
		sheetsapi.SpreadsheetsScope,
	}
}

// Config holds OAuth client settings.
type Config struct {
	// SecretsFile is the path to the desktop-app credentials JSON
	// downloaded from the Google Cloud console.
	SecretsFile string
	// TokenFile is where the exchanged token is cached between runs.
	// Defaults to DefaultTokenFile.
	TokenFile string
	// Scopes limits what the client may touch. Defaults to DefaultScopes.
	Scopes []string
}

func (c *Config) applyDefaults() {
	if c.TokenFile == "" {
		c.TokenFile = DefaultTokenFile
	}
	if len(c.Scopes) == 0 {
		c.Scopes = DefaultScopes()
	}
}

// New returns an authenticated HTTP client, running the OAuth flow if no
// cached token exists.
func New(cfg Config) (*http.Client, error) {
	cfg.applyDefaults()

	b, err := os.ReadFile(cfg.SecretsFile)
	if err != nil {
		return nil, fmt.Errorf("reading client secret file: %w", err)
	}

	oauthCfg, err := google.ConfigFromJSON(b, cfg.Scopes...)
	if err != nil {
		return nil, fmt.Errorf("parsing client secret: %w", err)
	}

	tok, err := tokenFromFile(cfg.TokenFile)
	if err != nil {
		slog.Info("no cached token, starting OAuth flow", "token_file", cfg.TokenFile)
		tok, err = runAuthFlow(oauthCfg)
		if err != nil {
			return nil, fmt.Errorf("oauth flow: %w", err)
		}
		if err := saveToken(cfg.TokenFile, tok); err != nil {
			slog.Error("failed to cache token", "error", err)
		}
	}

	return oauthCfg.Client(context.Background(), tok), nil
}

// runAuthFlow opens the consent screen in a browser and waits for the
// authorization code on the local callback server.
func runAuthFlow(oauthCfg *oauth2.Config) (*oauth2.Token, error) {
	ctx := context.Background()

	oauthCfg.RedirectURL = fmt.Sprintf("http://localhost:%d%s", callbackPort, callbackPath)

	// Random state token ties the callback to this flow.
	state, err := generateState()
	if err != nil {
		return nil, fmt.Errorf("generating state token: %w", err)
	}

	codeChan := make(chan string, 1)
	errChan := make(chan error, 1)

	server, err := startCallbackServer(ctx, state, codeChan, errChan)
	if err != nil {
		return nil, fmt.Errorf("starting callback server: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			slog.Warn("error shutting down callback server", "error", err)
		}
	}()

	authURL := oauthCfg.AuthCodeURL(state, oauth2.AccessTypeOffline)

	fmt.Printf("\nOpening browser for Google authentication...\n")
	fmt.Printf("If the browser doesn't open automatically, visit this URL:\n%s\n\n", authURL)

	if err := openBrowser(authURL); err != nil {
		slog.Warn("failed to open browser automatically", "error", err)
	}

	select {
	case code := <-codeChan:
		tok, err := oauthCfg.Exchange(context.Background(), code)
		if err != nil {
			return nil, fmt.Errorf("exchanging authorization code: %w", err)
		}
		fmt.Println("Authentication successful!")
		return tok, nil
	case err := <-errChan:
		return nil, fmt.Errorf("oauth callback: %w", err)
	case <-time.After(flowTimeout):
		return nil, fmt.Errorf("oauth flow timed out after %v", flowTimeout)
	}
}

// callbackHandler validates the redirect from the consent screen and hands
// the authorization code to the waiting flow.
func callbackHandler(expectedState string, codeChan chan<- string, errChan chan<- error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if state := r.URL.Query().Get("state"); state != expectedState {
			errChan <- fmt.Errorf("invalid state parameter")
			http.Error(w, "Invalid state parameter", http.StatusBadRequest)
			return
		}

		if errMsg := r.URL.Query().Get("error"); errMsg != "" {
			errDesc := r.URL.Query().Get("error_description")
			errChan <- fmt.Errorf("%s: %s", errMsg, errDesc)
			http.Error(w, fmt.Sprintf("Authentication failed: %s", errMsg), http.StatusBadRequest)
			return
		}

		code := r.URL.Query().Get("code")
		if code == "" {
			errChan <- fmt.Errorf("no authorization code received")
			http.Error(w, "No authorization code received", http.StatusBadRequest)
			return
		}

		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<!DOCTYPE html>
<html>
<head><title>Receipts: signed in</title></head>
<body style="font-family: sans-serif; text-align: center; margin-top: 20vh;">
<h1>Signed in</h1>
<p>Receipt processing is now authorized. You can close this window.</p>
</body>
</html>`)

		codeChan <- code
	}
}

func startCallbackServer(ctx context.Context, expectedState string, codeChan chan<- string, errChan chan<- error) (*http.Server, error) {
	mux := http.NewServeMux()
	mux.HandleFunc(callbackPath, callbackHandler(expectedState, codeChan, errChan))

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", callbackPort),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Listen first so a busy port fails the flow up front instead of
	// leaving the browser redirect hanging.
	lc := net.ListenConfig{}
	listener, err := lc.Listen(ctx, "tcp", server.Addr)
	if err != nil {
		return nil, fmt.Errorf("port %d unavailable: %w", callbackPort, err)
	}

	go func() {
		slog.Debug("starting OAuth callback server", "port", callbackPort)
		if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
			slog.Error("callback server error", "error", err)
			errChan <- err
		}
	}()

	return server, nil
}

func openBrowser(url string) error {
	ctx := context.Background()
	var cmd *exec.Cmd

	switch runtime.GOOS {
	case "darwin":
		cmd = exec.CommandContext(ctx, "open", url)
	case "linux":
		cmd = exec.CommandContext(ctx, "xdg-open", url)
	case "windows":
		cmd = exec.CommandContext(ctx, "cmd", "/c", "start", url)
	default:
		return fmt.Errorf("unsupported platform: %s", runtime.GOOS)
	}

	return cmd.Start()
}

func generateState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
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
	slog.Info("caching token", "path", path)

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating token directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("creating token file: %w", err)
	}
	defer f.Close()

	if err := json.NewEncoder(f).Encode(token); err != nil {
		return fmt.Errorf("encoding token: %w", err)
	}
	return nil
}
