package authclient

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"net/url"
	"regexp"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

var providerName = regexp.MustCompile(`^[a-z0-9_-]+$`)

type oauthTokenResponse struct {
	AccessToken       string `json:"access_token"`
	RefreshToken      string `json:"refresh_token"`
	AccessTokenCamel  string `json:"accessToken"`
	RefreshTokenCamel string `json:"refreshToken"`
	Error             string `json:"error"`
	ErrorDescription  string `json:"error_description"`
}

func (r oauthTokenResponse) pair() TokenPair {
	pair := TokenPair{AccessToken: r.AccessToken, RefreshToken: r.RefreshToken}
	if pair.AccessToken == "" {
		pair.AccessToken = r.AccessTokenCamel
	}
	if pair.RefreshToken == "" {
		pair.RefreshToken = r.RefreshTokenCamel
	}
	return pair
}

// InitiateOAuthLogin generates and stores an anti-forgery state value and
// returns the authorization URL the user agent must be redirected to.
func (s *Service) InitiateOAuthLogin(ctx context.Context, provider string) (string, error) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if !providerName.MatchString(provider) {
		return "", s.fail("oauth_initiate", newError(ErrValidation, "Unsupported OAuth provider", nil))
	}

	state, err := generateState()
	if err != nil {
		return "", s.fail("oauth_initiate", goerrors.Wrap(err, goerrors.CategoryInternal, "Failed to initiate OAuth login"))
	}
	s.store.SaveOAuthState(ctx, state)

	params := url.Values{
		"client_id":    {s.config.ClientID},
		"redirect_uri": {s.config.RedirectURI},
		"state":        {state},
	}

	return s.config.BaseURL + "/oauth2/authorization/" + provider + "?" + params.Encode(), nil
}

// HandleOAuthCallback validates the returned state against the stored value
// and exchanges the authorization code for a session. The stored state is
// consumed whatever the outcome.
func (s *Service) HandleOAuthCallback(ctx context.Context, provider, code, state string) (*LoginResponse, error) {
	expected := s.store.OAuthState(ctx)
	s.store.ClearOAuthState(ctx)

	if expected == "" || state == "" || !TimingSafeEqual(expected, state) {
		return nil, s.fail("oauth_callback", newError(ErrOAuthStateMismatch, "", nil))
	}

	provider = strings.ToLower(strings.TrimSpace(provider))
	if !providerName.MatchString(provider) {
		return nil, s.fail("oauth_callback", newError(ErrValidation, "Unsupported OAuth provider", nil))
	}
	if strings.TrimSpace(code) == "" {
		return nil, s.fail("oauth_callback", newError(ErrValidation, "Missing authorization code", nil))
	}

	form := url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"redirect_uri":  {s.config.RedirectURI},
		"client_id":     {s.config.ClientID},
		"client_secret": {s.config.ClientSecret},
		"provider":      {provider},
	}

	res, err := s.postForm(ctx, "/oauth2/token", form)
	if err != nil {
		return nil, s.fail("oauth_callback", err)
	}

	var body oauthTokenResponse
	derr := json.Unmarshal(res.body, &body)
	if !res.ok() || body.Error != "" {
		msg := body.ErrorDescription
		if msg == "" {
			msg = res.errorMessage("OAuth login failed")
		}
		return nil, s.fail("oauth_callback", newError(ErrInvalidCredentials, msg, nil))
	}
	if derr != nil {
		return nil, s.fail("oauth_callback", newError(ErrInvalidResponse, "", derr))
	}

	pair := body.pair()
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		return nil, s.fail("oauth_callback", newError(ErrInvalidResponse, "", nil))
	}

	user, err := s.codec.Decode(pair.AccessToken)
	if err != nil {
		return nil, s.fail("oauth_callback", err)
	}

	out := &LoginResponse{User: user, AccessToken: pair.AccessToken, RefreshToken: pair.RefreshToken}
	s.succeed(pair)
	return out, nil
}

func generateState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
