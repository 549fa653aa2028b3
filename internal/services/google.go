package services

import (
	"context"
	"fmt"
	"strings"

	"advisorcrm/internal/config"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/idtoken"
)

// tokenExchanger is the part of *oauth2.Config the sign-in flow uses
type tokenExchanger interface {
	AuthCodeURL(state string, opts ...oauth2.AuthCodeOption) string
	Exchange(ctx context.Context, code string, opts ...oauth2.AuthCodeOption) (*oauth2.Token, error)
}

// idTokenValidator matches idtoken.Validate
type idTokenValidator func(ctx context.Context, idToken, audience string) (*idtoken.Payload, error)

// GoogleProfile is the identity read from a verified Google ID token
type GoogleProfile struct {
	Subject string
	Email   string
	Name    string
	Picture string
}

type GoogleUserInfo struct {
	ID      string `json:"id"`
	Email   string `json:"email"`
	Name    string `json:"name"`
	Picture string `json:"picture"`
}

// GoogleLogin is returned to the dashboard after a successful callback
type GoogleLogin struct {
	Token             string         `json:"token"`
	RefreshToken      string         `json:"refresh_token"`
	User              GoogleUserInfo `json:"user"`
	GoogleAccessToken string         `json:"google_access_token"`
}

// GoogleAuthService runs the Google sign-in code flow and maps the Google
// identity onto an advisor account.
type GoogleAuthService struct {
	oauth    tokenExchanger
	validate idTokenValidator
	clientID string
	auth     *AuthService
}

func NewGoogleAuthService(cfg config.GoogleConfig, auth *AuthService) *GoogleAuthService {
	oauthCfg := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURL,
		Scopes: []string{
			"openid",
			"https://www.googleapis.com/auth/userinfo.email",
			"https://www.googleapis.com/auth/userinfo.profile",
			gmail.GmailReadonlyScope,
			gmail.GmailSendScope,
		},
		Endpoint: google.Endpoint,
	}
	return &GoogleAuthService{
		oauth:    oauthCfg,
		validate: idtoken.Validate,
		clientID: cfg.ClientID,
		auth:     auth,
	}
}

func (s *GoogleAuthService) Configured() bool {
	return s.clientID != ""
}

// AuthURL returns the Google consent page URL for the given state
func (s *GoogleAuthService) AuthURL(state string) string {
	return s.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.SetAuthURLParam("prompt", "consent"))
}

// Callback exchanges the authorization code, verifies the ID token and signs
// the advisor in.
func (s *GoogleAuthService) Callback(ctx context.Context, code string) (*GoogleLogin, error) {
	if strings.TrimSpace(code) == "" {
		return nil, validationError("authorization code is required")
	}

	tok, err := s.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("%w: code exchange failed: %v", ErrExternalAPI, err)
	}

	rawIDToken, _ := tok.Extra("id_token").(string)
	if rawIDToken == "" {
		return nil, fmt.Errorf("%w: token response has no id_token", ErrExternalAPI)
	}

	payload, err := s.validate(ctx, rawIDToken, s.clientID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	profile := GoogleProfile{
		Subject: payload.Subject,
		Email:   claimString(payload.Claims, "email"),
		Name:    claimString(payload.Claims, "name"),
		Picture: claimString(payload.Claims, "picture"),
	}
	if verified, ok := payload.Claims["email_verified"].(bool); ok && !verified {
		return nil, fmt.Errorf("%w: google email is not verified", ErrInvalidToken)
	}

	user, err := s.auth.UpsertGoogleUser(ctx, profile)
	if err != nil {
		return nil, err
	}

	tokens, err := s.auth.IssueTokens(ctx, user)
	if err != nil {
		return nil, err
	}

	return &GoogleLogin{
		Token:        tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		User: GoogleUserInfo{
			ID:      user.ID,
			Email:   user.Email,
			Name:    user.Name,
			Picture: user.PictureURL,
		},
		GoogleAccessToken: tok.AccessToken,
	}, nil
}

func claimString(claims map[string]interface{}, key string) string {
	v, _ := claims[key].(string)
	return v
}
