package auth

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/oauth2"
)

// DeviceConfig describes an OAuth2 device authorization endpoint.
type DeviceConfig struct {
	ClientID      string   `yaml:"clientID"`
	DeviceAuthURL string   `yaml:"deviceAuthURL"`
	TokenURL      string   `yaml:"tokenURL"`
	Scopes        []string `yaml:"scopes,omitempty"`
}

// Enabled reports whether the device flow is configured.
func (c DeviceConfig) Enabled() bool {
	return c.ClientID != "" && c.DeviceAuthURL != "" && c.TokenURL != ""
}

func (c DeviceConfig) oauth() *oauth2.Config {
	return &oauth2.Config{
		ClientID: c.ClientID,
		Scopes:   c.Scopes,
		Endpoint: oauth2.Endpoint{
			DeviceAuthURL: c.DeviceAuthURL,
			TokenURL:      c.TokenURL,
			AuthStyle:     oauth2.AuthStyleInParams,
		},
	}
}

// Prompt shows the user code and verification URL to the user.
type Prompt func(userCode, verificationURL string)

// DeviceLogin runs the device authorization flow: it requests a device
// code, prompts the user and polls until the token is issued, the code
// expires or ctx is done.
func DeviceLogin(ctx context.Context, c DeviceConfig, prompt Prompt) (*oauth2.Token, error) {
	if !c.Enabled() {
		return nil, errors.New("client ID, device auth URL and token URL are required")
	}
	conf := c.oauth()

	da, err := conf.DeviceAuth(ctx)
	if err != nil {
		return nil, fmt.Errorf("getting device code: %w", err)
	}
	if prompt != nil {
		url := da.VerificationURI
		if da.VerificationURIComplete != "" {
			url = da.VerificationURIComplete
		}
		prompt(da.UserCode, url)
	}

	tok, err := conf.DeviceAccessToken(ctx, da)
	if err != nil {
		return nil, fmt.Errorf("getting token: %w", err)
	}
	if tok.AccessToken == "" {
		return nil, errors.New("access token is empty")
	}
	return tok, nil
}
