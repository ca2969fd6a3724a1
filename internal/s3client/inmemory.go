package s3client

import (
	"context"
	"fmt"
	"net/http/httptest"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/johannesboyne/gofakes3"
	"github.com/johannesboyne/gofakes3/backend/s3mem"
)

// InMemory is a Client whose bucket lives in a gofakes3 server inside the
// process. The sandbox uses it under --no-s3 and in tests.
type InMemory struct {
	*Client
	fake *httptest.Server
}

// NewInMemory starts the fake server and creates bucket on it.
func NewInMemory(ctx context.Context, bucket string) (*InMemory, error) {
	fake := httptest.NewServer(gofakes3.New(s3mem.New()).Server())
	api, err := newAPI(ctx, Config{
		Endpoint:        fake.URL,
		Region:          "us-east-1",
		AccessKeyID:     "sandbox",
		SecretAccessKey: "sandbox",
		UsePathStyle:    true,
	})
	if err != nil {
		fake.Close()
		return nil, err
	}
	if _, err := api.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(bucket)}); err != nil {
		fake.Close()
		return nil, fmt.Errorf("s3client: create bucket %q: %w", bucket, err)
	}
	return &InMemory{Client: &Client{api: api, bucket: bucket}, fake: fake}, nil
}

// Close stops the fake server, discarding every photo.
func (m *InMemory) Close() {
	m.fake.Close()
}
