package content

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/ipfs/go-cid"

	"github.com/fiskasyela/braintheria-backend/internal/telemetry"
)

const pinJSONPath = "/pinning/pinJSONToIPFS"

// PinningClient pins JSON through an IPFS pinning service HTTP API.
type PinningClient struct {
	client  *resty.Client
	logger  *slog.Logger
	metrics *telemetry.Metrics
}

type PinningConfig struct {
	Endpoint string
	Token    string
	Timeout  time.Duration
	Retries  int
	Logger   *slog.Logger
	Metrics  *telemetry.Metrics
}

type pinRequest struct {
	Content  any         `json:"pinataContent"`
	Metadata pinMetadata `json:"pinataMetadata"`
}

type pinMetadata struct {
	Name string `json:"name"`
}

type pinResponse struct {
	IpfsHash  string `json:"IpfsHash"`
	PinSize   int    `json:"PinSize"`
	Timestamp string `json:"Timestamp"`
}

func NewPinningClient(cfg PinningConfig) *PinningClient {
	client := resty.New().
		SetBaseURL(cfg.Endpoint).
		SetHeader("Content-Type", "application/json").
		SetRetryCount(cfg.Retries).
		SetRetryWaitTime(200 * time.Millisecond)
	if cfg.Timeout > 0 {
		client.SetTimeout(cfg.Timeout)
	}
	if cfg.Token != "" {
		client.SetAuthToken(cfg.Token)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &PinningClient{client: client, logger: logger, metrics: telemetry.OrNew(cfg.Metrics)}
}

func (p *PinningClient) Pin(ctx context.Context, payload any) (Pinned, error) {
	var out pinResponse
	resp, err := p.client.R().
		SetContext(ctx).
		SetBody(pinRequest{Content: payload, Metadata: pinMetadata{Name: "braintheria"}}).
		SetResult(&out).
		Post(pinJSONPath)
	if err != nil {
		return Pinned{}, p.unavailable(err)
	}
	if resp.IsError() {
		return Pinned{}, p.unavailable(fmt.Errorf("status %d: %s", resp.StatusCode(), truncate(resp.String(), 256)))
	}
	parsed, err := cid.Decode(out.IpfsHash)
	if err != nil {
		return Pinned{}, p.unavailable(fmt.Errorf("invalid cid %q: %w", out.IpfsHash, err))
	}
	p.metrics.ContentPins.WithLabelValues("pinning", "ok").Inc()
	return Pinned{CID: parsed.String(), Size: out.PinSize}, nil
}

func (p *PinningClient) unavailable(err error) error {
	p.metrics.ContentPins.WithLabelValues("pinning", "error").Inc()
	p.logger.Error("pin failed", "backend", "pinning", "error", err)
	return &StorageUnavailableError{Backend: "pinning", Err: err}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
