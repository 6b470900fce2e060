package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	drivev3 "google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
)

// DefaultScopes grants full Drive access, which moving and creating folders requires
var DefaultScopes = []string{drivev3.DriveScope}

const (
	defaultCallbackAddr = "localhost:8080"
	authorizationWait   = 5 * time.Minute
)

// OAuth2Config holds OAuth2 configuration
type OAuth2Config struct {
	CredentialsPath string
	TokenPath       string
	Scopes          []string
	// CallbackAddr is where the local redirect listener binds
	CallbackAddr string
	// Out receives the interactive authorization instructions
	Out io.Writer
}

// NewOAuth2Config creates a new OAuth2 configuration
func NewOAuth2Config(credentialsPath string, tokenPath string, scopes ...string) *OAuth2Config {
	return &OAuth2Config{
		CredentialsPath: credentialsPath,
		TokenPath:       tokenPath,
		Scopes:          scopes,
		CallbackAddr:    defaultCallbackAddr,
		Out:             os.Stderr,
	}
}

// LoadCredentials loads OAuth2 client credentials from file
func (c *OAuth2Config) LoadCredentials() (*oauth2.Config, error) {
	data, err := os.ReadFile(c.CredentialsPath)
	if err != nil {
		return nil, fmt.Errorf("could not read credentials file: %w", err)
	}

	scopes := c.Scopes
	if len(scopes) == 0 {
		scopes = DefaultScopes
	}
	config, err := google.ConfigFromJSON(data, scopes...)
	if err != nil {
		return nil, fmt.Errorf("could not parse credentials file: %w", err)
	}
	return config, nil
}

// LoadToken loads the cached token from file
func (c *OAuth2Config) LoadToken() (*oauth2.Token, error) {
	f, err := os.Open(c.TokenPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	token := &oauth2.Token{}
	if err := json.NewDecoder(f).Decode(token); err != nil {
		return nil, fmt.Errorf("could not decode token file: %w", err)
	}
	return token, nil
}

// SaveToken writes the token with owner-only permissions
func (c *OAuth2Config) SaveToken(token *oauth2.Token) error {
	if token == nil {
		return errors.New("nil token")
	}
	if err := os.MkdirAll(filepath.Dir(c.TokenPath), 0o700); err != nil {
		return err
	}
	f, err := os.OpenFile(c.TokenPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("could not save OAuth token: %w", err)
	}
	defer f.Close()
	return json.NewEncoder(f).Encode(token)
}

// GetToken returns a valid token, refreshing or re-authorizing as needed.
// The resulting token is cached back to TokenPath.
func (c *OAuth2Config) GetToken(ctx context.Context) (*oauth2.Token, error) {
	config, err := c.LoadCredentials()
	if err != nil {
		return nil, err
	}
	return c.tokenFor(ctx, config)
}

func (c *OAuth2Config) tokenFor(ctx context.Context, config *oauth2.Config) (*oauth2.Token, error) {
	token, err := c.LoadToken()
	if err != nil {
		token, err = c.authenticate(ctx, config)
		if err != nil {
			return nil, err
		}
	}

	if !token.Valid() {
		refreshed, err := config.TokenSource(ctx, token).Token()
		switch {
		case err == nil:
			token = refreshed
		case isRevoked(err):
			c.printf("\nDrive access has expired or been revoked. Re-authorization is required.\n")
			token, err = c.authenticate(ctx, config)
			if err != nil {
				return nil, fmt.Errorf("re-authentication failed: %w", err)
			}
		default:
			return nil, fmt.Errorf("token refresh failed: %w", err)
		}
	}

	if err := c.SaveToken(token); err != nil {
		return nil, err
	}
	return token, nil
}

func isRevoked(err error) bool {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.ErrorCode == "invalid_grant" {
		return true
	}
	return strings.Contains(err.Error(), "invalid_grant") ||
		strings.Contains(err.Error(), "Token has been expired or revoked")
}

// authenticate runs the browser flow with a local redirect listener
func (c *OAuth2Config) authenticate(ctx context.Context, config *oauth2.Config) (*oauth2.Token, error) {
	addr := c.CallbackAddr
	if addr == "" {
		addr = defaultCallbackAddr
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("could not start callback listener: %w", err)
	}

	state := uuid.NewString()
	codeChan := make(chan string, 1)
	errorChan := make(chan error, 1)
	server := &http.Server{
		ReadHeaderTimeout: 10 * time.Second,
		Handler:           callbackHandler(state, codeChan, errorChan),
	}
	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			select {
			case errorChan <- err:
			default:
			}
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	local := *config
	local.RedirectURL = "http://" + ln.Addr().String()

	c.printf("\nAuthorization required\n")
	c.printf("1. Open this link: %s\n", local.AuthCodeURL(state, oauth2.AccessTypeOffline))
	c.printf("2. Grant access to the application\n")
	c.printf("3. You will be redirected automatically\n\nWaiting for authorization...\n")

	var code string
	select {
	case code = <-codeChan:
	case err := <-errorChan:
		return nil, fmt.Errorf("authorization failed: %w", err)
	case <-time.After(authorizationWait):
		return nil, errors.New("authorization timeout exceeded")
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	token, err := local.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("could not exchange authorization code for token: %w", err)
	}
	c.printf("Authorization successful\n")
	return token, nil
}

// callbackHandler accepts one redirect carrying the expected state
func callbackHandler(state string, codeChan chan<- string, errorChan chan<- error) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		var err error
		switch {
		case q.Get("state") != state:
			err = errors.New("state mismatch in authorization callback")
		case q.Get("error") != "":
			err = fmt.Errorf("authorization denied: %s", q.Get("error"))
		case q.Get("code") == "":
			err = errors.New("authorization code not received")
		}
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = io.WriteString(w, "<html><body><h2>Authorization error</h2><p>"+err.Error()+"</p></body></html>")
			select {
			case errorChan <- err:
			default:
			}
			return
		}
		_, _ = io.WriteString(w, "<html><body><h2>Authorization successful</h2><p>You can close this window.</p></body></html>")
		select {
		case codeChan <- q.Get("code"):
		default:
		}
	})
}

func (c *OAuth2Config) printf(format string, args ...any) {
	if c.Out != nil {
		fmt.Fprintf(c.Out, format, args...)
	}
}

// HTTPClient returns an authorized client whose refreshed tokens are
// written back to TokenPath.
func (c *OAuth2Config) HTTPClient(ctx context.Context) (*http.Client, error) {
	config, err := c.LoadCredentials()
	if err != nil {
		return nil, err
	}
	token, err := c.tokenFor(ctx, config)
	if err != nil {
		return nil, err
	}
	src := &savingTokenSource{
		base: oauth2.ReuseTokenSource(token, config.TokenSource(ctx, token)),
		last: token.AccessToken,
		save: c.SaveToken,
	}
	return oauth2.NewClient(ctx, src), nil
}

// savingTokenSource persists a token whenever the access token changes
type savingTokenSource struct {
	base oauth2.TokenSource
	last string
	save func(*oauth2.Token) error
}

func (s *savingTokenSource) Token() (*oauth2.Token, error) {
	t, err := s.base.Token()
	if err != nil {
		return nil, err
	}
	if t.AccessToken != s.last {
		s.last = t.AccessToken
		_ = s.save(t)
	}
	return t, nil
}

// NewDriveService creates a Drive API service using OAuth2
func NewDriveService(ctx context.Context, credentialsPath, tokenPath string, scopes ...string) (*drivev3.Service, error) {
	client, err := NewOAuth2Config(credentialsPath, tokenPath, scopes...).HTTPClient(ctx)
	if err != nil {
		return nil, err
	}
	service, err := drivev3.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, fmt.Errorf("could not create Drive service: %w", err)
	}
	return service, nil
}
