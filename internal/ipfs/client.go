package ipfs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"marketplace/internal/metrics"
	"marketplace/internal/models"

	"github.com/ipfs/go-cid"
)

// Config holds the IPFS HTTP API settings
type Config struct {
	// APIURL is the base of the IPFS HTTP API, e.g. https://ipfs.infura.io:5001
	APIURL string

	// GatewayURL resolves locators for reading, e.g. https://ipfs.io
	GatewayURL string

	// Optional basic auth credentials (Infura style project id / secret)
	ProjectID     string
	ProjectSecret string

	Timeout       time.Duration
	MaxFetchBytes int64
}

// Client uploads to and reads from an IPFS node over its HTTP API
type Client struct {
	config     Config
	httpClient *http.Client
}

// addResponse is one line of the /api/v0/add response stream
type addResponse struct {
	Name string `json:"Name"`
	Hash string `json:"Hash"`
	Size string `json:"Size"`
}

// NewClient creates a new IPFS HTTP API client
func NewClient(config Config) *Client {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.MaxFetchBytes == 0 {
		config.MaxFetchBytes = 10 << 20
	}
	config.APIURL = strings.TrimRight(config.APIURL, "/")
	config.GatewayURL = strings.TrimRight(config.GatewayURL, "/")

	return &Client{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
	}
}

// Store uploads data and returns its locator. Nothing is returned unless the
// node acknowledged the complete upload with a valid CID.
func (c *Client) Store(ctx context.Context, data []byte, contentType string) (models.Locator, error) {
	start := time.Now()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="file"; filename="file"`)
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	header.Set("Content-Type", contentType)

	part, err := writer.CreatePart(header)
	if err != nil {
		return "", fmt.Errorf("failed to create multipart part: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return "", fmt.Errorf("failed to write multipart body: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("failed to close multipart body: %w", err)
	}

	endpoint := c.config.APIURL + "/api/v0/add?cid-version=1&pin=true"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return "", fmt.Errorf("failed to build add request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", c.unavailable(ctx, "add", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		metrics.StorageRequests.WithLabelValues("add", "failure").Inc()
		return "", fmt.Errorf("%w: add returned %d: %s", models.ErrStorageUnavailable, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	// The add endpoint streams one JSON object per added entry; the last one is the root
	var last addResponse
	decoder := json.NewDecoder(resp.Body)
	for {
		var line addResponse
		if err := decoder.Decode(&line); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return "", fmt.Errorf("%w: failed to decode add response: %v", models.ErrStorageUnavailable, err)
		}
		last = line
	}

	id, err := cid.Decode(last.Hash)
	if err != nil {
		return "", fmt.Errorf("%w: add returned invalid cid %q: %v", models.ErrStorageUnavailable, last.Hash, err)
	}

	metrics.StorageRequests.WithLabelValues("add", "success").Inc()
	metrics.StorageUploadBytes.Add(float64(len(data)))
	slog.Debug("Stored content",
		"cid", id.String(),
		"bytes", len(data),
		"content_type", contentType,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return NewLocator(id), nil
}

// StoreJSON marshals v and uploads the resulting document
func (c *Client) StoreJSON(ctx context.Context, v any) (models.Locator, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal json: %w", err)
	}
	return c.Store(ctx, data, "application/json")
}

// Fetch reads the content behind loc through the configured gateway.
// Gateway URLs stored by older clients are read from their own host.
func (c *Client) Fetch(ctx context.Context, loc models.Locator) ([]byte, error) {
	target, err := c.resolve(loc)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build fetch request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, c.unavailable(ctx, "fetch", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		metrics.StorageRequests.WithLabelValues("fetch", "failure").Inc()
		return nil, fmt.Errorf("%w: fetch %s returned %d", models.ErrStorageUnavailable, loc, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.config.MaxFetchBytes+1))
	if err != nil {
		return nil, c.unavailable(ctx, "fetch", err)
	}
	if int64(len(data)) > c.config.MaxFetchBytes {
		return nil, fmt.Errorf("content %s exceeds %d bytes", loc, c.config.MaxFetchBytes)
	}
	metrics.StorageRequests.WithLabelValues("fetch", "success").Inc()
	return data, nil
}

// resolve maps a locator to the URL it is read from
func (c *Client) resolve(loc models.Locator) (string, error) {
	raw := loc.String()
	if strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://") {
		if _, err := ParseLocator(loc); err != nil {
			return "", err
		}
		return raw, nil
	}

	id, err := ParseLocator(loc)
	if err != nil {
		return "", err
	}
	if c.config.GatewayURL == "" {
		return "", fmt.Errorf("%w: no gateway configured", models.ErrInvalidInput)
	}
	return c.config.GatewayURL + "/ipfs/" + id.String(), nil
}

func (c *Client) authorize(req *http.Request) {
	if c.config.ProjectID != "" {
		req.SetBasicAuth(c.config.ProjectID, c.config.ProjectSecret)
	}
}

// unavailable classifies a transport failure; caller cancellation is not an outage
func (c *Client) unavailable(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("ipfs %s aborted: %w", op, ctxErr)
	}
	metrics.StorageRequests.WithLabelValues(op, "failure").Inc()
	return fmt.Errorf("%w: ipfs %s: %v", models.ErrStorageUnavailable, op, err)
}
