package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/oauth2/clientcredentials"

	"github.com/shineum/mailcompose/internal/email"
)

const (
	defaultBaseURL = "https://graph.microsoft.com/v1.0"
	defaultScope   = "https://graph.microsoft.com/.default"
	requestTimeout = 30 * time.Second
)

// Config holds the configuration for creating a Provider.
type Config struct {
	TenantID     string
	ClientID     string
	ClientSecret string
	// Sender is the mailbox messages are sent from.
	Sender          string
	SaveToSentItems bool

	// BaseURL and TokenURL default to the public Microsoft endpoints.
	BaseURL  string
	TokenURL string
}

// Provider sends messages via the Microsoft Graph sendMail endpoint using
// OAuth2 client credentials.
type Provider struct {
	sender     string
	saveToSent bool
	sendURL    string
	httpClient *http.Client
}

// APIError is a non-success response from the Graph API.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("Graph API error (HTTP %d, %s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("Graph API error (HTTP %d): %s", e.StatusCode, e.Message)
}

// New creates a Provider. Tokens are fetched and cached by the
// client credentials flow and refreshed before they expire.
func New(ctx context.Context, cfg Config) *Provider {
	tokenURL := cfg.TokenURL
	if tokenURL == "" {
		tokenURL = fmt.Sprintf("https://login.microsoftonline.com/%s/oauth2/v2.0/token", cfg.TenantID)
	}

	creds := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     tokenURL,
		Scopes:       []string{defaultScope},
	}
	client := creds.Client(ctx)
	client.Timeout = requestTimeout

	return newWithClient(cfg, client)
}

func newWithClient(cfg Config, client *http.Client) *Provider {
	base := cfg.BaseURL
	if base == "" {
		base = defaultBaseURL
	}

	return &Provider{
		sender:     cfg.Sender,
		saveToSent: cfg.SaveToSentItems,
		sendURL:    fmt.Sprintf("%s/users/%s/sendMail", base, url.PathEscape(cfg.Sender)),
		httpClient: client,
	}
}

// Send delivers a message via the Graph API. A 202 Accepted response is
// success; anything else is returned as an *APIError.
func (p *Provider) Send(ctx context.Context, msg *email.Message) error {
	bodyJSON, err := json.Marshal(buildSendMailRequest(p.sender, msg, p.saveToSent))
	if err != nil {
		return fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.sendURL, bytes.NewReader(bodyJSON))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusAccepted || resp.StatusCode == http.StatusOK {
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	apiErr := &APIError{StatusCode: resp.StatusCode, Message: string(body)}
	var errResp graphErrorResponse
	if json.Unmarshal(body, &errResp) == nil && errResp.Error.Message != "" {
		apiErr.Code = errResp.Error.Code
		apiErr.Message = errResp.Error.Message
	}
	return apiErr
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "msgraph"
}
