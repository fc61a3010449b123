package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"

	"github.com/fiskasyela/braintheria-backend/internal/domain"
)

// Config models braintheria.yml.
type Config struct {
	Server struct {
		Addr     string `yaml:"addr"`
		BasePath string `yaml:"base_path"`
	} `yaml:"server"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	Database struct {
		Workspace string `yaml:"workspace"`
	} `yaml:"database"`
	Auth struct {
		JWTSecret string `yaml:"jwt_secret"`
		DevLogin  bool   `yaml:"dev_login"`
	} `yaml:"auth"`
	Chain     ChainConfig     `yaml:"chain"`
	Content   ContentConfig   `yaml:"content"`
	Events    EventsConfig    `yaml:"events"`
	Lifecycle LifecycleConfig `yaml:"lifecycle"`
	Reconcile ReconcileConfig `yaml:"reconcile"`
	Webhooks  []WebhookConfig `yaml:"webhooks"`
}

type ChainConfig struct {
	RPCURL          string        `yaml:"rpc_url"`
	ContractAddress string        `yaml:"contract_address"`
	PrivateKey      string        `yaml:"private_key"`
	ChainID         int64         `yaml:"chain_id"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	ReadConcurrency int           `yaml:"read_concurrency"`
	PollInterval    time.Duration `yaml:"poll_interval"`
	ConfirmTimeout  time.Duration `yaml:"confirm_timeout"`
	CreationEvent   string        `yaml:"creation_event"`
	CreationIDField string        `yaml:"creation_id_field"`
}

type ContentConfig struct {
	Backend string `yaml:"backend"`
	Pinning struct {
		Endpoint string        `yaml:"endpoint"`
		Token    string        `yaml:"token"`
		Timeout  time.Duration `yaml:"timeout"`
		Retries  int           `yaml:"retries"`
	} `yaml:"pinning"`
	S3 struct {
		Endpoint  string `yaml:"endpoint"`
		Bucket    string `yaml:"bucket"`
		Prefix    string `yaml:"prefix"`
		Region    string `yaml:"region"`
		AccessKey string `yaml:"access_key"`
		SecretKey string `yaml:"secret_key"`
		UseSSL    bool   `yaml:"use_ssl"`
	} `yaml:"s3"`
}

type EventsConfig struct {
	QueueSize int `yaml:"queue_size"`
}

type LifecycleConfig struct {
	AcceptStatus   string `yaml:"accept_status"`
	WaitForChainID bool   `yaml:"wait_for_chain_id"`
}

type ReconcileConfig struct {
	Interval     time.Duration `yaml:"interval"`
	PendingAfter time.Duration `yaml:"pending_after"`
	AbandonAfter time.Duration `yaml:"abandon_after"`
	BatchSize    int           `yaml:"batch_size"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Events         []string `yaml:"events"`
	Secret         string   `yaml:"secret"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	Retries        int      `yaml:"retries"`
	Enabled        *bool    `yaml:"enabled"`
}

// Content backends.
const (
	BackendPinning = "pinning"
	BackendS3      = "s3"
	BackendMemory  = "memory"
)

// Load reads and validates config from a file path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with braintheria config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "braintheria.yml")
}

// FromYAML parses config from raw YAML bytes, fills defaults and validates.
func FromYAML(data []byte) (*Config, error) {
	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes YAML and fills defaults without validating, so callers can
// layer flag and env overrides first.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	cfg.ApplyDefaults()
	return cfg, nil
}

// Default returns a config with every optional field populated.
// Chain and auth secrets are left empty.
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills zero-valued optional fields.
func (c *Config) ApplyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = "127.0.0.1:8080"
	}
	if c.Server.BasePath == "" {
		c.Server.BasePath = "/v1"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.Database.Workspace == "" {
		c.Database.Workspace = "."
	}
	if c.Chain.ReadTimeout <= 0 {
		c.Chain.ReadTimeout = 5 * time.Second
	}
	if c.Chain.ReadConcurrency <= 0 {
		c.Chain.ReadConcurrency = 8
	}
	if c.Chain.PollInterval <= 0 {
		c.Chain.PollInterval = 2 * time.Second
	}
	if c.Chain.ConfirmTimeout <= 0 {
		c.Chain.ConfirmTimeout = 2 * time.Minute
	}
	if c.Chain.CreationEvent == "" {
		c.Chain.CreationEvent = "QuestionAsked"
	}
	if c.Chain.CreationIDField == "" {
		c.Chain.CreationIDField = "qId"
	}
	if c.Content.Backend == "" {
		c.Content.Backend = BackendPinning
	}
	if c.Content.Pinning.Timeout <= 0 {
		c.Content.Pinning.Timeout = 15 * time.Second
	}
	if c.Events.QueueSize <= 0 {
		c.Events.QueueSize = 64
	}
	if c.Lifecycle.AcceptStatus == "" {
		c.Lifecycle.AcceptStatus = domain.StatusAnswered
	}
	if c.Reconcile.Interval <= 0 {
		c.Reconcile.Interval = 30 * time.Second
	}
	if c.Reconcile.PendingAfter <= 0 {
		c.Reconcile.PendingAfter = time.Minute
	}
	if c.Reconcile.AbandonAfter <= 0 {
		c.Reconcile.AbandonAfter = time.Hour
	}
	if c.Reconcile.BatchSize <= 0 {
		c.Reconcile.BatchSize = 100
	}
}

// Validate ensures the config meets required structure. Missing chain or
// auth settings are fatal: the service cannot run without them.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Auth.JWTSecret) == "" {
		return fmt.Errorf("config.auth.jwt_secret is required")
	}
	if err := c.Chain.Validate(); err != nil {
		return err
	}
	switch c.Content.Backend {
	case BackendPinning:
		if c.Content.Pinning.Endpoint == "" {
			return fmt.Errorf("config.content.pinning.endpoint is required for backend %s", BackendPinning)
		}
	case BackendS3:
		if c.Content.S3.Endpoint == "" || c.Content.S3.Bucket == "" {
			return fmt.Errorf("config.content.s3.endpoint and bucket are required for backend %s", BackendS3)
		}
	case BackendMemory:
	default:
		return fmt.Errorf("config.content.backend must be one of %s, %s, %s", BackendPinning, BackendS3, BackendMemory)
	}
	switch c.Lifecycle.AcceptStatus {
	case domain.StatusAnswered, domain.StatusClosed:
	default:
		return fmt.Errorf("config.lifecycle.accept_status must be %s or %s", domain.StatusAnswered, domain.StatusClosed)
	}
	if c.Reconcile.AbandonAfter < c.Reconcile.PendingAfter {
		return fmt.Errorf("config.reconcile.abandon_after must not be shorter than pending_after")
	}
	for i, hook := range c.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
	}
	return nil
}

// Validate checks the chain transport settings.
func (c ChainConfig) Validate() error {
	if strings.TrimSpace(c.RPCURL) == "" {
		return fmt.Errorf("config.chain.rpc_url is required")
	}
	if !common.IsHexAddress(c.ContractAddress) {
		return fmt.Errorf("config.chain.contract_address must be a hex address")
	}
	key := strings.TrimPrefix(strings.TrimSpace(c.PrivateKey), "0x")
	if len(key) != 64 {
		return fmt.Errorf("config.chain.private_key must be 32 bytes of hex")
	}
	return nil
}

// GenerateDefault returns a starter config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

const defaultTemplate = `server:
  addr: 127.0.0.1:8080
  base_path: /v1

log:
  level: info
  format: text

database:
  workspace: .

auth:
  jwt_secret: change-me
  dev_login: false

chain:
  rpc_url: https://sepolia.base.org
  contract_address: "0x0000000000000000000000000000000000000000"
  private_key: ""
  chain_id: 84532
  read_timeout: 5s
  read_concurrency: 8
  poll_interval: 2s
  confirm_timeout: 2m
  creation_event: QuestionAsked
  creation_id_field: qId

content:
  backend: pinning
  pinning:
    endpoint: https://api.pinata.cloud
    token: ""
    timeout: 15s

events:
  queue_size: 64

lifecycle:
  accept_status: Answered
  wait_for_chain_id: false

reconcile:
  interval: 30s
  pending_after: 1m
  abandon_after: 1h
  batch_size: 100

# webhooks:
#   - url: https://example.com/hooks/braintheria
#     events: [answer.created, question.answered]
#     secret: change-me
#     timeout_seconds: 5
#     retries: 2
`
