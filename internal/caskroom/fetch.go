package caskroom

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/cenkalti/backoff/v4"
	"github.com/go-logr/logr"

	"github.com/conn-castle/keg/internal/messages"
)

const (
	defaultFetchTimeout  = 5 * time.Minute
	defaultFetchRetries  = 3
	defaultRetryInterval = 500 * time.Millisecond
	maxDownloadBytes     = 2 << 30
)

// ErrDownloadNotFound is returned when the remote side reports the artifact does not exist.
var ErrDownloadNotFound = errors.New("download not found")

// ErrChecksumMismatch is returned when a download does not match the definition's sha256.
var ErrChecksumMismatch = errors.New("checksum mismatch")

// ObjectGetter is the subset of the S3 client used for s3:// downloads.
type ObjectGetter interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// FetcherOptions configures remote downloads.
type FetcherOptions struct {
	HTTPClient    *http.Client
	Timeout       time.Duration
	Retries       uint64
	RetryInterval time.Duration
	S3Region      string
	S3Endpoint    string
	// S3 overrides the client built from the default AWS credential chain.
	S3     ObjectGetter
	Logger logr.Logger
}

// Fetcher downloads http(s) and s3 artifacts.
type Fetcher struct {
	client        *http.Client
	timeout       time.Duration
	retries       uint64
	retryInterval time.Duration
	s3Region      string
	s3Endpoint    string
	log           logr.Logger

	s3Once   sync.Once
	s3Client ObjectGetter
	s3Err    error
}

// NewFetcher returns a Fetcher with defaults applied.
func NewFetcher(opts FetcherOptions) *Fetcher {
	f := &Fetcher{
		client:        opts.HTTPClient,
		timeout:       opts.Timeout,
		retries:       opts.Retries,
		retryInterval: opts.RetryInterval,
		s3Region:      opts.S3Region,
		s3Endpoint:    opts.S3Endpoint,
		s3Client:      opts.S3,
		log:           opts.Logger,
	}
	if f.client == nil {
		f.client = &http.Client{}
	}
	if f.timeout <= 0 {
		f.timeout = defaultFetchTimeout
	}
	if f.retryInterval <= 0 {
		f.retryInterval = defaultRetryInterval
	}
	if f.log.GetSink() == nil {
		f.log = logr.Discard()
	}
	return f
}

// Fetch downloads rawURL and returns its contents.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf(messages.CaskroomURLInvalidFmt, rawURL, err)
	}
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	switch u.Scheme {
	case "http", "https":
		return f.fetchHTTP(ctx, u.String())
	case "s3":
		return f.fetchS3(ctx, u)
	default:
		return nil, fmt.Errorf(messages.CaskroomURLSchemeUnsupportedFmt, u.Scheme, rawURL)
	}
}

func (f *Fetcher) fetchHTTP(ctx context.Context, rawURL string) ([]byte, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = f.retryInterval
	retry := backoff.WithContext(backoff.WithMaxRetries(policy, f.retries), ctx)

	var body []byte
	attempt := 0
	operation := func() error {
		attempt++
		data, retryable, err := f.getOnce(ctx, rawURL)
		if err != nil {
			f.log.V(1).Info("download attempt failed", "url", rawURL, "attempt", attempt, "error", err.Error())
			if !retryable {
				return backoff.Permanent(err)
			}
			return err
		}
		body = data
		return nil
	}
	if err := backoff.Retry(operation, retry); err != nil {
		return nil, fmt.Errorf(messages.CaskroomDownloadFailedFmt, rawURL, err)
	}
	return body, nil
}

// getOnce performs a single GET and reports whether a failure is worth retrying.
func (f *Fetcher) getOnce(ctx context.Context, rawURL string) ([]byte, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, false, err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, ctx.Err() == nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound:
		return nil, false, fmt.Errorf("%w: %s", ErrDownloadNotFound, resp.Status)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, true, fmt.Errorf(messages.CaskroomHTTPStatusFmt, resp.Status)
	default:
		return nil, false, fmt.Errorf(messages.CaskroomHTTPStatusFmt, resp.Status)
	}

	data, err := readLimited(resp.Body)
	if err != nil {
		return nil, true, err
	}
	return data, false, nil
}

func (f *Fetcher) s3(ctx context.Context) (ObjectGetter, error) {
	f.s3Once.Do(func() {
		if f.s3Client != nil {
			return
		}
		var loadOpts []func(*awsconfig.LoadOptions) error
		if f.s3Region != "" {
			loadOpts = append(loadOpts, awsconfig.WithRegion(f.s3Region))
		}
		cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
		if err != nil {
			f.s3Err = fmt.Errorf(messages.CaskroomS3ConfigFailedFmt, err)
			return
		}
		endpoint := f.s3Endpoint
		f.s3Client = s3.NewFromConfig(cfg, func(o *s3.Options) {
			if endpoint != "" {
				o.BaseEndpoint = aws.String(endpoint)
				o.UsePathStyle = true
			}
		})
	})
	return f.s3Client, f.s3Err
}

func (f *Fetcher) fetchS3(ctx context.Context, u *url.URL) ([]byte, error) {
	bucket := u.Host
	key := strings.TrimPrefix(u.Path, "/")
	if bucket == "" || key == "" {
		return nil, fmt.Errorf(messages.CaskroomURLInvalidFmt, u.String(), errors.New(messages.CaskroomS3URLShape))
	}
	client, err := f.s3(ctx)
	if err != nil {
		return nil, err
	}
	result, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isS3NotFound(err) {
			err = fmt.Errorf("%w: %w", ErrDownloadNotFound, err)
		}
		return nil, fmt.Errorf(messages.CaskroomDownloadFailedFmt, u.String(), err)
	}
	defer func() {
		_ = result.Body.Close()
	}()
	data, err := readLimited(result.Body)
	if err != nil {
		return nil, fmt.Errorf(messages.CaskroomDownloadFailedFmt, u.String(), err)
	}
	return data, nil
}

func isS3NotFound(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	// S3-compatible services do not always return typed errors.
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		return code == "NoSuchKey" || code == "NotFound" || code == "NoSuchBucket" || code == "404"
	}
	return false
}

func readLimited(r io.Reader) ([]byte, error) {
	var buf bytes.Buffer
	n, err := buf.ReadFrom(io.LimitReader(r, maxDownloadBytes+1))
	if err != nil {
		return nil, err
	}
	if n > maxDownloadBytes {
		return nil, errors.New(messages.CaskroomDownloadTooLarge)
	}
	return buf.Bytes(), nil
}

// verifySHA256 checks data against a lowercase hex digest.
func verifySHA256(data []byte, want string) error {
	sum := sha256.Sum256(data)
	got := hex.EncodeToString(sum[:])
	if got != want {
		return fmt.Errorf("%w: expected %s, got %s", ErrChecksumMismatch, want, got)
	}
	return nil
}
