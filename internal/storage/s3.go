package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
)

const (
	defaultOutputPrefix    = "outputs"
	defaultReferencePrefix = "references"
	defaultURLTTL          = 24 * time.Hour
	MaxReferenceBytes      = 10 << 20
)

// ErrInvalidReference marks a reference image the store refuses to accept.
var ErrInvalidReference = errors.New("invalid reference image")

type Config struct {
	Endpoint        string
	Region          string
	AccessKey       string
	SecretKey       string
	Bucket          string
	UsePathStyle    bool
	OutputPrefix    string
	ReferencePrefix string
	URLTTL          time.Duration
}

// Store reads rendered videos and writes reference images in an
// S3-compatible bucket. Objects stay private; callers get presigned URLs.
type Store struct {
	cfg     Config
	client  *s3.Client
	presign *s3.PresignClient
	now     func() time.Time
}

func New(cfg Config) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	if cfg.Region == "" {
		return nil, fmt.Errorf("s3 region is required")
	}
	if cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, fmt.Errorf("s3 credentials are required")
	}
	if cfg.OutputPrefix == "" {
		cfg.OutputPrefix = defaultOutputPrefix
	}
	if cfg.ReferencePrefix == "" {
		cfg.ReferencePrefix = defaultReferencePrefix
	}
	if cfg.URLTTL <= 0 {
		cfg.URLTTL = defaultURLTTL
	}

	options := s3.Options{
		Region:       cfg.Region,
		Credentials:  credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		UsePathStyle: cfg.UsePathStyle,
	}
	if cfg.Endpoint != "" {
		options.BaseEndpoint = aws.String(cfg.Endpoint)
	}
	client := s3.New(options)

	return &Store{
		cfg:     cfg,
		client:  client,
		presign: s3.NewPresignClient(client),
		now:     func() time.Time { return time.Now().UTC() },
	}, nil
}

// ArtifactURL presigns a GET for the video an artifact reference points at.
func (s *Store) ArtifactURL(ctx context.Context, artifactRef string) (string, error) {
	key := ArtifactKey(s.cfg.OutputPrefix, artifactRef)
	if key == "" {
		return "", fmt.Errorf("empty artifact reference")
	}
	return s.presignGet(ctx, key)
}

// UploadReference stores an image for image-to-video jobs and returns a
// presigned URL the runner can fetch it from.
func (s *Store) UploadReference(ctx context.Context, data []byte, contentType string) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("%w: no data to upload", ErrInvalidReference)
	}
	if len(data) > MaxReferenceBytes {
		return "", fmt.Errorf("%w: exceeds %d bytes", ErrInvalidReference, MaxReferenceBytes)
	}
	ext := extensionFromContentType(contentType)
	if ext == "" {
		return "", fmt.Errorf("%w: unsupported content type %q", ErrInvalidReference, contentType)
	}

	key := s.referenceKey(ext)
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.cfg.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("upload to s3: %w", err)
	}
	return s.presignGet(ctx, key)
}

func (s *Store) presignGet(ctx context.Context, key string) (string, error) {
	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(s.cfg.URLTTL))
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", key, err)
	}
	return req.URL, nil
}

func (s *Store) referenceKey(ext string) string {
	now := s.now()
	prefix := strings.Trim(s.cfg.ReferencePrefix, "/")
	return path.Join(prefix, fmt.Sprintf("%04d/%02d/%02d", now.Year(), now.Month(), now.Day()), uuid.NewString()+ext)
}

// ArtifactKey maps a stored artifact reference, either a bare object name or
// a full URL, to its key under prefix.
func ArtifactKey(prefix, ref string) string {
	ref = strings.TrimSpace(ref)
	if u, err := url.Parse(ref); err == nil && u.Path != "" {
		ref = u.Path
	}
	name := path.Base(strings.TrimRight(ref, "/"))
	if name == "." || name == "/" || name == "" {
		return ""
	}
	return path.Join(strings.Trim(prefix, "/"), name)
}

func extensionFromContentType(contentType string) string {
	switch strings.ToLower(strings.TrimSpace(strings.Split(contentType, ";")[0])) {
	case "image/png":
		return ".png"
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	default:
		return ""
	}
}
