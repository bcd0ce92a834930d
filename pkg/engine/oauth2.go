package engine

import (
	"context"
	"crypto/tls"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/apicize/apicize-go/pkg/apicize"
	"github.com/apicize/apicize-go/pkg/workspace"
)

// TokenResult is an issued client credentials token plus how it was
// obtained; it is echoed on the dispatch response for inspection by tests.
type TokenResult struct {
	Token       string `json:"token"`
	Cached      bool   `json:"cached"`
	URL         string `json:"url,omitempty"`
	Certificate string `json:"certificate,omitempty"`
	Proxy       string `json:"proxy,omitempty"`
}

// CachedToken is a memoized access token. Expiration is seconds past the
// Unix epoch; zero means the token is already considered expired, which is
// how responses without expires_in are stored.
type CachedToken struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken,omitempty"`
	Expiration   int64  `json:"expiration,omitempty"`
}

// OAuth2Cache memoizes client credentials tokens by authorization id.
// All methods are safe for concurrent use; concurrent cold fetches for the
// same id may each hit the endpoint.
type OAuth2Cache struct {
	mu     sync.Mutex
	tokens map[string]CachedToken

	now func() time.Time
}

// NewOAuth2Cache creates an empty token cache.
func NewOAuth2Cache() *OAuth2Cache {
	return &OAuth2Cache{tokens: make(map[string]CachedToken), now: time.Now}
}

// defaultOAuth2Cache is the process-wide cache used when the runner context
// is not given its own.
var defaultOAuth2Cache = NewOAuth2Cache()

// ClearToken removes the cached token for an authorization id from the
// process-wide cache, reporting whether one was present.
func ClearToken(id string) bool {
	return defaultOAuth2Cache.Clear(id)
}

// ClearAllTokens empties the process-wide cache, returning the number of
// entries removed.
func ClearAllTokens() int {
	return defaultOAuth2Cache.ClearAll()
}

// Clear removes the cached token for an authorization id.
func (c *OAuth2Cache) Clear(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.tokens[id]
	delete(c.tokens, id)
	return ok
}

// ClearAll empties the cache, returning the number of entries removed.
func (c *OAuth2Cache) ClearAll() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	count := len(c.tokens)
	c.tokens = make(map[string]CachedToken)
	return count
}

// Store primes the cache with a token. Used by callers that obtain tokens
// out of band.
func (c *OAuth2Cache) Store(id string, token CachedToken) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokens[id] = token
}

func (c *OAuth2Cache) lookup(id string) (CachedToken, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cached, ok := c.tokens[id]
	if !ok {
		return CachedToken{}, false
	}
	if cached.Expiration <= c.now().Unix() {
		return CachedToken{}, false
	}
	return cached, true
}

// ClientCredentials returns a bearer token for the authorization, from cache
// when a live token is held, otherwise by posting the client credentials
// grant to the token endpoint. The token HTTP client is built fresh with
// redirects disabled and, when configured, the authorization's own
// certificate and proxy.
func (c *OAuth2Cache) ClientCredentials(
	ctx context.Context,
	auth *workspace.Authorization,
	certificate *workspace.Certificate,
	proxy *workspace.Proxy,
	enableTrace bool,
) (*TokenResult, error) {
	if cached, ok := c.lookup(auth.ID); ok {
		return &TokenResult{Token: cached.AccessToken, Cached: true}, nil
	}

	httpClient, err := buildTokenClient(certificate, proxy)
	if err != nil {
		return nil, err
	}

	config := clientcredentials.Config{
		ClientID:     auth.ClientID,
		ClientSecret: auth.ClientSecret,
		TokenURL:     auth.AccessTokenURL,
		AuthStyle:    oauth2.AuthStyleInHeader,
	}
	if auth.SendCredentialsInBody {
		config.AuthStyle = oauth2.AuthStyleInParams
	}
	if auth.Scope != "" {
		config.Scopes = []string{auth.Scope}
	}
	if auth.Audience != "" {
		config.EndpointParams = url.Values{"audience": {auth.Audience}}
	}

	tokenCtx := context.WithValue(ctx, oauth2.HTTPClient, httpClient)
	token, err := config.Token(tokenCtx)
	if err != nil {
		return nil, apicize.OAuth2Error("Error dispatching OAuth2 token request", err)
	}

	var expiration int64
	if !token.Expiry.IsZero() {
		expiration = token.Expiry.Unix()
	}
	c.Store(auth.ID, CachedToken{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		Expiration:   expiration,
	})

	result := &TokenResult{
		Token:  token.AccessToken,
		Cached: false,
		URL:    auth.AccessTokenURL,
	}
	if certificate != nil {
		result.Certificate = certificate.Name
	}
	if proxy != nil {
		result.Proxy = proxy.Name
	}
	return result, nil
}

func buildTokenClient(certificate *workspace.Certificate, proxy *workspace.Proxy) (*http.Client, error) {
	transport := &http.Transport{}

	if certificate != nil {
		identity, err := certificate.TLSCertificate()
		if err != nil {
			return nil, apicize.OAuth2Error("Error assigning OAuth certificate", err)
		}
		transport.TLSClientConfig = &tls.Config{Certificates: []tls.Certificate{identity}}
	}
	if proxy != nil {
		proxyFunc, err := proxy.ProxyFunc()
		if err != nil {
			return nil, apicize.OAuth2Error("Error assigning OAuth proxy", err)
		}
		transport.Proxy = proxyFunc
	}

	return &http.Client{
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}, nil
}
