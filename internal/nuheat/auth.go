package nuheat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"
)

// A TokenStore persists the OAuth2 token record between sessions. Load returns
// nil (and no error) if no record is stored.
type TokenStore interface {
	Load() (*oauth2.Token, error)
	Save(*oauth2.Token) error
	Clear() error
}

// refreshMargin is how long before its expiry a token is considered stale and
// refreshed proactively.
const refreshMargin = time.Minute

// exchangeTimeout bounds a code or refresh-token exchange. The lock is held
// while an exchange runs, so a hung identity endpoint must not stall other
// callers beyond it.
const exchangeTimeout = 15 * time.Second

// OAuthConfig returns the OAuth2 configuration for the mynuheat.com identity endpoint.
func OAuthConfig(clientID, clientSecret, redirectURL string) oauth2.Config {
	return oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     oauth2.Endpoint{AuthURL: authURL, TokenURL: tokenURL},
		RedirectURL:  redirectURL,
		Scopes:       Scopes,
	}
}

// An Authenticator owns the OAuth2 token record for one account session: it
// exchanges the authorization code, serves currently valid access tokens and
// refreshes the record when needed, persisting every new record to its
// TokenStore.
type Authenticator struct {
	config     oauth2.Config
	store      TokenStore
	httpClient *http.Client
	logger     *slog.Logger
	now        func() time.Time

	lock  sync.Mutex
	token *oauth2.Token
}

// NewAuthenticator returns an Authenticator for the given OAuth2 configuration
// and token store.
func NewAuthenticator(config oauth2.Config, store TokenStore, logger *slog.Logger) *Authenticator {
	return &Authenticator{
		config:     config,
		store:      store,
		httpClient: &http.Client{Timeout: exchangeTimeout},
		logger:     logger,
		now:        time.Now,
	}
}

// AuthCodeURL returns the URL the user needs to visit to authorize access.
func (a *Authenticator) AuthCodeURL(state string) string {
	return a.config.AuthCodeURL(state)
}

// Token returns a currently valid access token, refreshing the token record
// first if it has expired or is about to. The lock is held for the duration of
// a refresh, so concurrent callers join the in-flight exchange rather than
// issuing their own: the identity endpoint rotates refresh tokens, and a
// duplicate exchange would invalidate the record.
func (a *Authenticator) Token(ctx context.Context) (string, error) {
	a.lock.Lock()
	defer a.lock.Unlock()

	token, err := a.currentToken()
	if err != nil {
		return "", err
	}
	if token.AccessToken != "" && token.Expiry.After(a.now().Add(refreshMargin)) {
		return token.AccessToken, nil
	}
	if token, err = a.refresh(ctx, token); err != nil {
		return "", err
	}
	return token.AccessToken, nil
}

// ForceRefresh discards an access token the server rejected and returns a
// fresh one. If another caller already replaced the rejected token, its
// replacement is returned without a new exchange.
func (a *Authenticator) ForceRefresh(ctx context.Context, rejected string) (string, error) {
	a.lock.Lock()
	defer a.lock.Unlock()

	token, err := a.currentToken()
	if err != nil {
		return "", err
	}
	if token.AccessToken != "" && token.AccessToken != rejected {
		return token.AccessToken, nil
	}
	if token, err = a.refresh(ctx, token); err != nil {
		return "", err
	}
	return token.AccessToken, nil
}

// Exchange redeems the authorization code received on the redirect URL and
// stores the resulting token record.
func (a *Authenticator) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	a.lock.Lock()
	defer a.lock.Unlock()

	token, err := a.config.Exchange(a.exchangeContext(ctx), code)
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) && retrieveErr.Response.StatusCode < http.StatusInternalServerError {
			return nil, &AuthError{Kind: ErrAuthExpired, StatusCode: retrieveErr.Response.StatusCode, err: err}
		}
		return nil, &AuthError{Kind: ErrNetwork, err: err}
	}
	a.token = token
	if err = a.store.Save(token); err != nil {
		return nil, fmt.Errorf("failed to save token: %w", err)
	}
	return token, nil
}

// currentToken returns the cached token record, loading it from the store on
// first use. Must be called with the lock held.
func (a *Authenticator) currentToken() (*oauth2.Token, error) {
	if a.token != nil {
		return a.token, nil
	}
	token, err := a.store.Load()
	if err != nil {
		return nil, &AuthError{Kind: ErrAuthInvalid, err: err}
	}
	if token == nil || token.RefreshToken == "" {
		return nil, &AuthError{Kind: ErrAuthInvalid}
	}
	a.token = token
	return token, nil
}

// refresh performs a refresh-token exchange. Must be called with the lock held.
func (a *Authenticator) refresh(ctx context.Context, token *oauth2.Token) (*oauth2.Token, error) {
	// pass only the refresh token, so the exchange happens even if the library
	// would consider the access token valid
	src := a.config.TokenSource(a.exchangeContext(ctx), &oauth2.Token{RefreshToken: token.RefreshToken})
	newToken, err := src.Token()
	if err != nil {
		authErr := classifyAuthError(err)
		if errors.Is(authErr, ErrAuthInvalid) {
			// the refresh token itself was rejected. clear the stored record so
			// callers know to run the authorization flow again.
			a.token = nil
			if err = a.store.Clear(); err != nil {
				a.logger.Error("failed to clear token store", "err", err)
			}
		}
		return nil, authErr
	}
	a.token = newToken
	if err = a.store.Save(newToken); err != nil {
		a.logger.Error("failed to save token", "err", err)
	}
	a.logger.Debug("token refreshed", "expiry", newToken.Expiry)
	return newToken, nil
}

func (a *Authenticator) exchangeContext(ctx context.Context) context.Context {
	if a.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, a.httpClient)
	}
	return ctx
}

func classifyAuthError(err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		statusCode := retrieveErr.Response.StatusCode
		if statusCode >= http.StatusBadRequest && statusCode < http.StatusInternalServerError {
			return &AuthError{Kind: ErrAuthInvalid, StatusCode: statusCode, err: err}
		}
		return &AuthError{Kind: ErrNetwork, StatusCode: statusCode, err: err}
	}
	return &AuthError{Kind: ErrNetwork, err: err}
}
