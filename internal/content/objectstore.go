package content

import (
	"bytes"
	"context"
	"log/slog"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/fiskasyela/braintheria-backend/internal/telemetry"
)

// ObjectStore pins payloads into an S3-compatible bucket keyed by their
// locally computed CID.
type ObjectStore struct {
	client  *minio.Client
	bucket  string
	prefix  string
	logger  *slog.Logger
	metrics *telemetry.Metrics
}

type ObjectStoreConfig struct {
	Endpoint  string
	Bucket    string
	Prefix    string
	Region    string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Logger    *slog.Logger
	Metrics   *telemetry.Metrics
}

func NewObjectStore(cfg ObjectStoreConfig) (*ObjectStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &ObjectStore{
		client:  client,
		bucket:  cfg.Bucket,
		prefix:  cfg.Prefix,
		logger:  logger,
		metrics: telemetry.OrNew(cfg.Metrics),
	}, nil
}

func (s *ObjectStore) Pin(ctx context.Context, payload any) (Pinned, error) {
	data, err := encode(payload)
	if err != nil {
		return Pinned{}, err
	}
	c, err := ComputeCID(data)
	if err != nil {
		return Pinned{}, err
	}
	key := s.prefix + c.String()
	_, err = s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		s.metrics.ContentPins.WithLabelValues("s3", "error").Inc()
		s.logger.Error("pin failed", "backend", "s3", "bucket", s.bucket, "key", key, "error", err)
		return Pinned{}, &StorageUnavailableError{Backend: "s3", Err: err}
	}
	s.metrics.ContentPins.WithLabelValues("s3", "ok").Inc()
	return Pinned{CID: c.String(), Size: len(data)}, nil
}
