// Package s3client keeps listing photos in an S3 bucket. Each object carries
// its sniffed content type and a sha3-256 digest of its bytes; the sandbox
// serves them back from /images/{key}.
//
// Keys:
//
//	cars/covers/<uuid>.<ext>             cover uploaded with a new listing
//	cars/covers/seed-<n>.jpg             cover of the n-th seeded listing
//	cars/<car id>/photos/<digest>.<ext>  gallery photo
package s3client

import (
	"bytes"
	"context"
	"crypto/sha3"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when no photo is stored under a key.
	ErrNotFound = errors.New("s3client: photo not found")
	// ErrUnsupportedType is returned for uploads that are not an accepted image format.
	ErrUnsupportedType = errors.New("s3client: unsupported image type")
)

// digestMeta is the object metadata entry holding Photo.Digest.
const digestMeta = "sha3-256"

// extensions lists the accepted image types and the key suffix each gets.
var extensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

// Photo is one stored listing image.
type Photo struct {
	Key         string
	ContentType string
	// Digest is the hex sha3-256 of Body. The photo table fingerprints
	// gallery uploads the same way.
	Digest string
	Body   []byte
}

// Digest returns the lowercase hex sha3-256 of body.
func Digest(body []byte) string {
	sum := sha3.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// GalleryPrefix is the key prefix shared by every gallery photo of carID.
func GalleryPrefix(carID int64) string {
	return fmt.Sprintf("cars/%d/photos/", carID)
}

// SeedCoverKey names the cover of the n-th seeded listing.
func SeedCoverKey(n int) string {
	return fmt.Sprintf("cars/covers/seed-%d.jpg", n)
}

func classify(body []byte) (Photo, string, error) {
	p := Photo{ContentType: mimetype.Detect(body).String(), Digest: Digest(body), Body: body}
	ext, ok := extensions[p.ContentType]
	if !ok {
		return p, "", fmt.Errorf("%w: %s", ErrUnsupportedType, p.ContentType)
	}
	return p, ext, nil
}

// NewCover prepares body as the cover of a new listing. The returned Photo
// carries the sniffed ContentType even when err is ErrUnsupportedType.
func NewCover(body []byte) (Photo, error) {
	p, ext, err := classify(body)
	if err != nil {
		return p, err
	}
	p.Key = "cars/covers/" + uuid.NewString() + ext
	return p, nil
}

// NewGalleryPhoto prepares body as a gallery photo of carID. The key is
// derived from the digest, so a listing never holds two objects for one image.
func NewGalleryPhoto(carID int64, body []byte) (Photo, error) {
	p, ext, err := classify(body)
	if err != nil {
		return p, err
	}
	p.Key = GalleryPrefix(carID) + p.Digest + ext
	return p, nil
}

// Client reads and writes photos in one bucket.
type Client struct {
	api    *s3.Client
	bucket string
}

// Config locates the bucket. Endpoint is empty for AWS itself.
type Config struct {
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	// UsePathStyle is needed by most S3-compatible servers.
	UsePathStyle bool
}

func newAPI(ctx context.Context, cfg Config) (*s3.Client, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	sdkConfig, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	return s3.NewFromConfig(sdkConfig, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	}), nil
}

// New connects to the bucket described by cfg.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3client: bucket is required")
	}
	api, err := newAPI(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &Client{api: api, bucket: cfg.Bucket}, nil
}

// Put stores p under p.Key.
func (c *Client) Put(ctx context.Context, p Photo) error {
	if p.Digest == "" {
		p.Digest = Digest(p.Body)
	}
	_, err := c.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(c.bucket),
		Key:         aws.String(p.Key),
		Body:        bytes.NewReader(p.Body),
		ContentType: aws.String(p.ContentType),
		Metadata:    map[string]string{digestMeta: p.Digest},
	})
	if err != nil {
		return fmt.Errorf("s3client: put %q: %w", p.Key, err)
	}
	return nil
}

// Get loads the photo stored under key, or returns ErrNotFound.
func (c *Client) Get(ctx context.Context, key string) (Photo, error) {
	out, err := c.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if isNotFound(err) {
		return Photo{}, ErrNotFound
	}
	if err != nil {
		return Photo{}, fmt.Errorf("s3client: get %q: %w", key, err)
	}
	defer out.Body.Close()

	body, err := io.ReadAll(out.Body)
	if err != nil {
		return Photo{}, fmt.Errorf("s3client: read %q: %w", key, err)
	}
	p := Photo{
		Key:         key,
		ContentType: aws.ToString(out.ContentType),
		Digest:      out.Metadata[digestMeta],
		Body:        body,
	}
	// Objects written by other tools may lack either field.
	if _, ok := extensions[p.ContentType]; !ok {
		p.ContentType = mimetype.Detect(body).String()
	}
	if p.Digest == "" {
		p.Digest = Digest(body)
	}
	return p, nil
}

// Delete removes every key. Missing keys are not an error.
func (c *Client) Delete(ctx context.Context, keys ...string) error {
	var failed []error
	for _, key := range keys {
		_, err := c.api.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(c.bucket),
			Key:    aws.String(key),
		})
		if err != nil && !isNotFound(err) {
			failed = append(failed, fmt.Errorf("s3client: delete %q: %w", key, err))
		}
	}
	return errors.Join(failed...)
}

// Exists reports whether a photo is stored under key.
func (c *Client) Exists(ctx context.Context, key string) (bool, error) {
	_, err := c.api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	switch {
	case err == nil:
		return true, nil
	case isNotFound(err):
		return false, nil
	default:
		return false, fmt.Errorf("s3client: head %q: %w", key, err)
	}
}

// List returns the keys under prefix in lexical order.
func (c *Client) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	pages := s3.NewListObjectsV2Paginator(c.api, &s3.ListObjectsV2Input{
		Bucket: aws.String(c.bucket),
		Prefix: aws.String(prefix),
	})
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("s3client: list %q: %w", prefix, err)
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}
	return keys, nil
}

func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	var nsk *types.NoSuchKey
	var nf *types.NotFound
	return errors.As(err, &nsk) || errors.As(err, &nf)
}
