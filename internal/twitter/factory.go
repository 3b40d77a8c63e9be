package twitter

import (
	"net/http"
	"time"

	"github.com/dghubble/oauth1"

	"sweeper/internal/types"
)

// DefaultBaseURL is the production API host. Tests point the factory at a
// local httptest server instead.
const DefaultBaseURL = "https://api.twitter.com"

// AppCredentials is an OAuth1 consumer key pair. Two pairs exist because DM
// endpoints are authorized through a separate application.
type AppCredentials struct {
	ConsumerKey    types.SecretString
	ConsumerSecret types.SecretString
}

// FactoryConfig carries everything needed to mint API clients.
type FactoryConfig struct {
	App   AppCredentials
	DMApp AppCredentials

	// System account access tokens, one pair per application.
	SystemAccessToken         types.SecretString
	SystemAccessTokenSecret   types.SecretString
	SystemDMAccessToken       types.SecretString
	SystemDMAccessTokenSecret types.SecretString

	BaseURL   string
	UserAgent string
	Timeout   time.Duration
}

// Factory builds signed clients scoped to a single account. Each client gets
// its own circuit breaker keyed by screen name so one account's failures do
// not trip another's.
type Factory struct {
	cfg FactoryConfig
}

func NewFactory(cfg FactoryConfig) *Factory {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Factory{cfg: cfg}
}

// ForUser returns a client signing with the user's primary access tokens.
func (f *Factory) ForUser(u *types.User) Client {
	return f.build(f.cfg.App, u.AccessToken, u.AccessTokenSecret, "twitter:"+u.ScreenName)
}

// ForUserDMs returns a client signing with the user's DM app tokens.
func (f *Factory) ForUserDMs(u *types.User) Client {
	return f.build(f.cfg.DMApp, u.DMAccessToken, u.DMAccessTokenSecret, "twitter-dm:"+u.ScreenName)
}

// System returns a client for the service's own account.
func (f *Factory) System() Client {
	return f.build(f.cfg.App, f.cfg.SystemAccessToken, f.cfg.SystemAccessTokenSecret, "twitter:system")
}

// SystemDM returns a DM-app client for the service's own account.
func (f *Factory) SystemDM() Client {
	return f.build(f.cfg.DMApp, f.cfg.SystemDMAccessToken, f.cfg.SystemDMAccessTokenSecret, "twitter-dm:system")
}

func (f *Factory) build(app AppCredentials, accessToken, accessSecret types.SecretString, breakerName string) Client {
	oaCfg := oauth1.NewConfig(app.ConsumerKey.Unmask(), app.ConsumerSecret.Unmask())
	token := oauth1.NewToken(accessToken.Unmask(), accessSecret.Unmask())
	httpClient := oaCfg.Client(oauth1.NoContext, token)
	httpClient.Timeout = f.cfg.Timeout
	return newLiveClient(httpClient, f.cfg.BaseURL, breakerName, f.cfg.UserAgent)
}

var _ ClientFactory = (*Factory)(nil)

// ClientFactory abstracts client construction so job handlers can be tested
// against stub clients.
type ClientFactory interface {
	ForUser(u *types.User) Client
	ForUserDMs(u *types.User) Client
	System() Client
	SystemDM() Client
}

// NewUnsigned returns a client without request signing pointed at baseURL.
// Used by tests that talk to a local server.
func NewUnsigned(baseURL string, timeout time.Duration) Client {
	return newLiveClient(&http.Client{Timeout: timeout}, baseURL, "twitter:unsigned", "")
}
