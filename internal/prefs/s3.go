package prefs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.uber.org/zap"

	"github.com/fruitsalade/depotsync/internal/logging"
	"github.com/fruitsalade/depotsync/internal/metrics"
)

// S3Config locates the roaming preference bucket.
type S3Config struct {
	Bucket    string
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	PathStyle bool
	// User owns the document at prefs/<user>.json.
	User string
}

// S3Store keeps preferences in an S3 bucket so they follow the user
// between machines.
type S3Store struct {
	client *s3.Client
	bucket string
	key    string
	mu     sync.Mutex
}

// NewS3Store creates a store from cfg. Without static keys the default
// credential chain is used.
func NewS3Store(ctx context.Context, cfg S3Config) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("prefs: s3 bucket is not set")
	}
	if cfg.User == "" {
		return nil, errors.New("prefs: s3 user is not set")
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.PathStyle
		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
		o.ResponseChecksumValidation = aws.ResponseChecksumValidationWhenRequired
	})

	return &S3Store{
		client: client,
		bucket: cfg.Bucket,
		key:    "prefs/" + cfg.User + ".json",
	}, nil
}

// Key returns the object key of the document.
func (s *S3Store) Key() string {
	return s.key
}

// Load implements Store. A missing object gives empty preferences.
func (s *S3Store) Load(ctx context.Context) (Preferences, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, err := s.get(ctx)
	metrics.RecordPrefsOperation("s3", "load", err == nil)
	return p, err
}

// Update implements Store. Concurrent writers on other machines are last
// writer wins.
func (s *S3Store) Update(ctx context.Context, fn func(*Preferences)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.get(ctx)
	if err != nil {
		metrics.RecordPrefsOperation("s3", "update", false)
		return err
	}
	fn(&p)
	err = s.put(ctx, p)
	metrics.RecordPrefsOperation("s3", "update", err == nil)
	return err
}

func (s *S3Store) get(ctx context.Context) (Preferences, error) {
	start := time.Now()
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return Preferences{}, nil
		}
		return Preferences{}, fmt.Errorf("prefs: get %s: %w", s.key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return Preferences{}, fmt.Errorf("prefs: read %s: %w", s.key, err)
	}
	logging.Debug("loaded preferences", zap.String("key", s.key), zap.Duration("duration", time.Since(start)))

	p, err := decode(data)
	if err != nil {
		logging.Warn("ignoring corrupt preference object", zap.String("key", s.key), zap.Error(err))
		return Preferences{}, nil
	}
	return p, nil
}

func (s *S3Store) put(ctx context.Context, p Preferences) error {
	data, err := encode(p)
	if err != nil {
		return fmt.Errorf("prefs: encode: %w", err)
	}
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(s.key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("prefs: put %s: %w", s.key, err)
	}
	return nil
}
