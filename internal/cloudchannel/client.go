package cloudchannel

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/tobsai/inksight/internal/backoff"
	"github.com/tobsai/inksight/internal/docid"
)

const (
	maxRetries  = 5
	baseBackoff = 1 * time.Second
	maxBackoff  = 30 * time.Second
	userAgent   = "inksight-core/1.0"
)

// Config configures a Channel.
type Config struct {
	// DeviceToken is the pre-provisioned device bearer token exchanged for
	// a user bearer token by Authenticate.
	DeviceToken string
	// TokenExchangeURL is the known endpoint that trades a device token
	// for a user token.
	TokenExchangeURL string
	// APIBaseURL is the base URL for list/blob-url operations.
	APIBaseURL string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.HTTPClient == nil {
		c.HTTPClient = http.DefaultClient
	}

	if c.Logger == nil {
		c.Logger = slog.Default()
	}

	return c
}

// CloudDocument is a single document as reported by the cloud API's list
// operation.
type CloudDocument struct {
	ID         docid.DocumentID
	Name       string
	ModifiedAt time.Time
}

// PageBlob is one page's stroke-data artifact, keyed by page id.
type PageBlob struct {
	PageID string
	Data   []byte
}

// DownloadedDocument is the parsed result of DownloadDocument.
type DownloadedDocument struct {
	Metadata json.RawMessage
	Content  json.RawMessage
	Pages    []PageBlob
	PDF      []byte // optional
}

// Channel is the Cloud Channel: an HTTPS client with cached endpoint
// resolution and bearer-token authentication.
type Channel struct {
	cfg Config

	mu          sync.Mutex
	tokens      oauth2.TokenSource
	endpoint    string
	endpointSet bool
}

// New creates a Channel. Authenticate must be called before any document
// operation.
func New(cfg Config) *Channel {
	return &Channel{cfg: cfg.withDefaults()}
}

// Authenticate exchanges the pre-provisioned device token for a user
// bearer token at TokenExchangeURL. Never retried automatically — auth
// failures are terminal.
func (c *Channel) Authenticate(ctx context.Context) error {
	body, err := json.Marshal(map[string]string{"deviceToken": c.cfg.DeviceToken})
	if err != nil {
		return fmt.Errorf("cloudchannel: encoding auth request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.TokenExchangeURL, jsonReader(body))
	if err != nil {
		return fmt.Errorf("cloudchannel: building auth request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return &AuthenticationError{Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return &AuthenticationError{Cause: fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(respBody))}
	}

	var parsed struct {
		Token string `json:"token"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return &AuthenticationError{Cause: fmt.Errorf("decoding response: %w", err)}
	}

	if parsed.Token == "" {
		return &AuthenticationError{Cause: fmt.Errorf("empty user token in response")}
	}

	c.mu.Lock()
	c.tokens = oauth2.StaticTokenSource(&oauth2.Token{AccessToken: parsed.Token, TokenType: "Bearer"})
	c.mu.Unlock()

	c.cfg.Logger.Info("cloudchannel: authenticated")

	return nil
}

func (c *Channel) bearerToken() (string, error) {
	c.mu.Lock()
	tokens := c.tokens
	c.mu.Unlock()

	if tokens == nil {
		return "", ErrNotAuthenticated
	}

	token, err := tokens.Token()
	if err != nil {
		return "", &AuthenticationError{Cause: err}
	}

	return token.AccessToken, nil
}

// ensureEndpoint resolves and caches the storage endpoint for the
// lifetime of the channel.
func (c *Channel) ensureEndpoint(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.endpointSet {
		endpoint := c.endpoint
		c.mu.Unlock()

		return endpoint, nil
	}
	c.mu.Unlock()

	resp, err := c.doRequest(ctx, http.MethodGet, c.cfg.APIBaseURL+"/discovery", nil, true)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var parsed struct {
		StorageEndpoint string `json:"storageEndpoint"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("cloudchannel: decoding discovery response: %w", err)
	}

	c.mu.Lock()
	c.endpoint = parsed.StorageEndpoint
	c.endpointSet = true
	c.mu.Unlock()

	return parsed.StorageEndpoint, nil
}

// ListDocuments lists every document the cloud account knows about.
func (c *Channel) ListDocuments(ctx context.Context) ([]CloudDocument, error) {
	endpoint, err := c.ensureEndpoint(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := c.doRequest(ctx, http.MethodGet, endpoint+"/documents", nil, true)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var parsed []struct {
		ID         string    `json:"id"`
		Name       string    `json:"name"`
		ModifiedAt time.Time `json:"modifiedAt"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("cloudchannel: decoding list response: %w", err)
	}

	docs := make([]CloudDocument, 0, len(parsed))

	for _, item := range parsed {
		id, err := docid.Parse(item.ID)
		if err != nil {
			c.cfg.Logger.Warn("cloudchannel: skipping malformed document id", slog.String("id", item.ID))
			continue
		}

		docs = append(docs, CloudDocument{ID: id, Name: item.Name, ModifiedAt: item.ModifiedAt.UTC()})
	}

	return docs, nil
}

// doRequest performs an authenticated request with retry on transient
// failures.
func (c *Channel) doRequest(ctx context.Context, method, url string, body []byte, authed bool) (*http.Response, error) {
	var attempt int

	for {
		req, err := http.NewRequestWithContext(ctx, method, url, jsonReader(body))
		if err != nil {
			return nil, err
		}

		req.Header.Set("User-Agent", userAgent)

		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		if authed {
			token, err := c.bearerToken()
			if err != nil {
				return nil, err
			}

			req.Header.Set("Authorization", "Bearer "+token)
		}

		resp, err := c.cfg.HTTPClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}

			if attempt >= maxRetries {
				return nil, fmt.Errorf("cloudchannel: %s %s failed after %d retries: %w", method, url, maxRetries, err)
			}

			if sleepErr := backoff.Sleep(ctx, backoff.Exponential(baseBackoff, maxBackoff, attempt)); sleepErr != nil {
				return nil, sleepErr
			}

			attempt++

			continue
		}

		if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
			return resp, nil
		}

		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		if isRetryable(resp.StatusCode) && attempt < maxRetries {
			delay := c.retryDelay(resp, attempt)

			if sleepErr := backoff.Sleep(ctx, delay); sleepErr != nil {
				return nil, sleepErr
			}

			attempt++

			continue
		}

		return nil, &CloudError{
			StatusCode: resp.StatusCode,
			Message:    string(respBody),
			Err:        classifyStatus(resp.StatusCode),
		}
	}
}

func (c *Channel) retryDelay(resp *http.Response, attempt int) time.Duration {
	if resp.StatusCode == http.StatusTooManyRequests {
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if seconds, err := strconv.Atoi(ra); err == nil && seconds > 0 {
				return time.Duration(seconds) * time.Second
			}
		}
	}

	return backoff.Exponential(baseBackoff, maxBackoff, attempt)
}
