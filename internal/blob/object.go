package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/cenkalti/backoff/v4"
)

// ObjectStore serves s3:// chunk URIs through the AWS SDK. Each remote
// chunk is one object; range reads use a conditional GET with a Range
// header, uploads stream with an explicit Content-Length.
//
// The SDK's own retry loop is disabled so this package's policy is the
// only one in effect.
type ObjectStore struct {
	client *s3.Client
}

// NewObjectStore builds the backend from ambient AWS configuration.
func NewObjectStore(ctx context.Context, region string) (*ObjectStore, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(region),
		awsconfig.WithRetryMaxAttempts(1),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &ObjectStore{client: s3.NewFromConfig(cfg)}, nil
}

// NewObjectStoreFromClient wraps an existing client. Used by tests and
// by deployments that need custom endpoints.
func NewObjectStoreFromClient(client *s3.Client) *ObjectStore {
	return &ObjectStore{client: client}
}

// parseObjectURI splits s3://bucket/key.
func parseObjectURI(uri string) (bucket, key string, err error) {
	rest := strings.TrimPrefix(uri, "s3://")
	bucket, key, ok := strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", fmt.Errorf("malformed object URI")
	}
	return bucket, key, nil
}

func (s *ObjectStore) readRange(ctx context.Context, chunk Chunk, base, offset, size int64) ([]byte, error) {
	bucket, key, err := parseObjectURI(chunk.URI)
	if err != nil {
		return nil, err
	}

	in := &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Range:  aws.String(fmt.Sprintf("bytes=%d-%d", offset, offset+size-1)),
	}
	if chunk.ETag != "" {
		in.IfMatch = aws.String(chunk.ETag)
	}

	var data []byte
	err = withRetry(ctx, func() error {
		out, err := s.client.GetObject(ctx, in)
		if err != nil {
			return classifyObjectErr("get", err)
		}
		defer out.Body.Close()

		data, err = io.ReadAll(out.Body)
		if err != nil {
			return &TransferError{Op: "get", Body: err.Error()}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if int64(len(data)) != size {
		return nil, &IntegrityError{Name: key, Reason: fmt.Sprintf(
			"range response has %d bytes, want %d", len(data), size)}
	}
	return data, nil
}

func (s *ObjectStore) writeRange(ctx context.Context, chunk Chunk, base int64, data []byte) (string, error) {
	bucket, key, err := parseObjectURI(chunk.URI)
	if err != nil {
		return "", err
	}

	var etag string
	err = withRetry(ctx, func() error {
		out, err := s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:        aws.String(bucket),
			Key:           aws.String(key),
			Body:          bytes.NewReader(data),
			ContentLength: aws.Int64(int64(len(data))),
		})
		if err != nil {
			return classifyObjectErr("put", err)
		}
		etag = strings.Trim(aws.ToString(out.ETag), `"`)
		return nil
	})
	return etag, err
}

// classifyObjectErr maps an SDK error onto the retry taxonomy. The URI
// never enters the error or the log; status and message only.
func classifyObjectErr(op string, err error) error {
	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		// The SDK error text embeds the request URL, which may be
		// pre-signed. Only the status crosses into errors and logs.
		status := respErr.HTTPStatusCode()
		if status == 404 {
			return backoff.Permanent(fmt.Errorf("object %s: %w", op, ErrNotFound))
		}
		if permanentStatus(status) {
			return backoff.Permanent(&TransferError{Op: op, Status: status, Body: http.StatusText(status)})
		}
		slog.Warn("retrying object store operation", "op", op, "status", status)
		return &TransferError{Op: op, Status: status, Body: http.StatusText(status)}
	}
	// No HTTP response at all: network failure or timeout, retryable.
	slog.Warn("retrying object store operation", "op", op)
	return &TransferError{Op: op, Body: "request failed without response"}
}
