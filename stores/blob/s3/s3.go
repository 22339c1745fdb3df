// Package s3 is a blob store backend on Amazon S3 or any S3 compatible service.
// It is the only backend able to hand out presigned read and write redirects.
package s3

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/bsv-blockchain/blobstore/errors"
	"github.com/bsv-blockchain/blobstore/stores/blob/options"
	"github.com/bsv-blockchain/blobstore/tracing"
	"github.com/bsv-blockchain/blobstore/ulogger"
)

type S3 struct {
	client  S3Client
	bucket  string
	options *options.Options
	logger  ulogger.Logger
}

// New creates an S3 store from a URL of the form
//
//	s3://[endpoint-host]/bucket?region=eu-west-1&subDirectory=objects&usePathStyle=true&scheme=http
//
// Without an endpoint host the default AWS endpoint resolution is used.
func New(ctx context.Context, logger ulogger.Logger, s3URL *url.URL, opts ...options.StoreOption) (*S3, error) {
	logger = logger.New("s3")

	bucket := strings.Trim(s3URL.Path, "/")
	if bucket == "" {
		return nil, errors.NewConfigurationError("[S3] no bucket in %s", s3URL.Redacted())
	}

	maxIdleConns, err := getQueryParamInt(s3URL, "MaxIdleConns", 100)
	if err != nil {
		return nil, err
	}

	maxIdleConnsPerHost, err := getQueryParamInt(s3URL, "MaxIdleConnsPerHost", 100)
	if err != nil {
		return nil, err
	}

	idleConnTimeout, err := getQueryParamInt(s3URL, "IdleConnTimeoutSeconds", 100)
	if err != nil {
		return nil, err
	}

	timeout, err := getQueryParamInt(s3URL, "TimeoutSeconds", 30)
	if err != nil {
		return nil, err
	}

	keepAlive, err := getQueryParamInt(s3URL, "KeepAliveSeconds", 300)
	if err != nil {
		return nil, err
	}

	query := s3URL.Query()

	if subDirectory := query.Get("subDirectory"); subDirectory != "" {
		opts = append(opts, options.WithDefaultSubDirectory(subDirectory))
	}

	httpClient := &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        maxIdleConns,
			MaxIdleConnsPerHost: maxIdleConnsPerHost,
			IdleConnTimeout:     time.Duration(idleConnTimeout) * time.Second,
			DialContext: (&net.Dialer{
				Timeout:   time.Duration(timeout) * time.Second,
				KeepAlive: time.Duration(keepAlive) * time.Second,
			}).DialContext,
		},
	}

	cfgOpts := []func(*config.LoadOptions) error{config.WithHTTPClient(httpClient)}
	if region := query.Get("region"); region != "" {
		cfgOpts = append(cfgOpts, config.WithRegion(region))
	}

	cfg, err := config.LoadDefaultConfig(ctx, cfgOpts...)
	if err != nil {
		return nil, errors.NewConfigurationError("[S3] failed to load aws config", err)
	}

	var s3Opts []func(*s3.Options)

	if s3URL.Host != "" {
		scheme := query.Get("scheme")
		if scheme == "" {
			scheme = "https"
		}

		endpoint := fmt.Sprintf("%s://%s", scheme, s3URL.Host)

		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(endpoint)
		})
	}

	if query.Get("usePathStyle") == "true" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	return NewWithClient(logger, NewRealS3Client(cfg, s3Opts...), bucket, opts...), nil
}

// NewWithClient creates an S3 store on top of an existing client.
func NewWithClient(logger ulogger.Logger, client S3Client, bucket string, opts ...options.StoreOption) *S3 {
	return &S3{
		client:  client,
		bucket:  bucket,
		logger:  logger,
		options: options.NewStoreOptions(opts...),
	}
}

func (g *S3) Health(ctx context.Context, checkLiveness bool) (int, string, error) {
	if checkLiveness {
		return http.StatusOK, "S3 Store", nil
	}

	if _, err := g.Exists(ctx, []byte("Health")); err != nil {
		return http.StatusServiceUnavailable, "S3 Store", err
	}

	return http.StatusOK, "S3 Store", nil
}

func (g *S3) Close(_ context.Context) error {
	return nil
}

func (g *S3) SetFromReader(ctx context.Context, key []byte, reader io.ReadCloser, opts ...options.FileOption) error {
	defer reader.Close()

	ctx, _, deferFn := tracing.StartTracing(ctx, "s3:SetFromReader")
	defer deferFn()

	objectKey := g.objectKey(key, opts)

	_, err := g.client.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(g.bucket),
		Key:    objectKey,
		Body:   reader,
	})
	if err != nil {
		return errors.NewStorageError("[S3][%s] failed to set data from reader", *objectKey, err)
	}

	return nil
}

func (g *S3) Set(ctx context.Context, key []byte, value []byte, opts ...options.FileOption) error {
	return g.SetFromReader(ctx, key, io.NopCloser(bytes.NewReader(value)), opts...)
}

func (g *S3) GetIoReader(ctx context.Context, key []byte, opts ...options.FileOption) (io.ReadCloser, error) {
	ctx, _, deferFn := tracing.StartTracing(ctx, "s3:GetIoReader")
	defer deferFn()

	merged := options.MergeOptions(g.options, opts)
	objectKey := aws.String(merged.ObjectKey(key))

	input := &s3.GetObjectInput{
		Bucket: aws.String(g.bucket),
		Key:    objectKey,
	}

	if merged.HasRange() {
		input.Range = aws.String(rangeHeader(merged.Offset, merged.Length))
	}

	result, err := g.client.GetObject(ctx, input)
	if err != nil {
		if isNotFound(err) {
			return nil, errors.NewBlobNotFoundError("[S3][%s] object not found", *objectKey)
		}

		if isInvalidRange(err) {
			return io.NopCloser(bytes.NewReader(nil)), nil
		}

		return nil, errors.NewStorageError("[S3][%s] failed to get data", *objectKey, err)
	}

	return result.Body, nil
}

func (g *S3) Get(ctx context.Context, key []byte, opts ...options.FileOption) ([]byte, error) {
	r, err := g.GetIoReader(ctx, key, opts...)
	if err != nil {
		return nil, err
	}

	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.NewStorageError("[S3] failed to read data", err)
	}

	return data, nil
}

func (g *S3) head(ctx context.Context, objectKey *string) (*s3.HeadObjectOutput, error) {
	return g.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(g.bucket),
		Key:    objectKey,
	})
}

func (g *S3) Exists(ctx context.Context, key []byte, opts ...options.FileOption) (bool, error) {
	ctx, _, deferFn := tracing.StartTracing(ctx, "s3:Exists")
	defer deferFn()

	objectKey := g.objectKey(key, opts)

	if _, err := g.head(ctx, objectKey); err != nil {
		if isNotFound(err) {
			return false, nil
		}

		return false, errors.NewStorageError("[S3][%s] failed to check whether object exists", *objectKey, err)
	}

	return true, nil
}

func (g *S3) GetSize(ctx context.Context, key []byte, opts ...options.FileOption) (int64, error) {
	ctx, _, deferFn := tracing.StartTracing(ctx, "s3:GetSize")
	defer deferFn()

	objectKey := g.objectKey(key, opts)

	out, err := g.head(ctx, objectKey)
	if err != nil {
		if isNotFound(err) {
			return 0, errors.NewBlobNotFoundError("[S3][%s] object not found", *objectKey)
		}

		return 0, errors.NewStorageError("[S3][%s] failed to get object size", *objectKey, err)
	}

	return aws.ToInt64(out.ContentLength), nil
}

func (g *S3) Del(ctx context.Context, key []byte, opts ...options.FileOption) error {
	ctx, _, deferFn := tracing.StartTracing(ctx, "s3:Del")
	defer deferFn()

	objectKey := g.objectKey(key, opts)

	_, err := g.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(g.bucket),
		Key:    objectKey,
	})
	if err != nil && !isNotFound(err) {
		return errors.NewStorageError("[S3][%s] unable to del data", *objectKey, err)
	}

	return nil
}

func (g *S3) SupportsRedirects() bool {
	return true
}

func (g *S3) GetReadRedirect(ctx context.Context, key []byte, opts ...options.FileOption) (*url.URL, error) {
	merged := options.MergeOptions(g.options, opts)

	req, err := g.client.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(g.bucket),
		Key:    aws.String(merged.ObjectKey(key)),
	}, merged.RedirectTTL)
	if err != nil {
		return nil, errors.NewStorageError("[S3] failed to presign read", err)
	}

	return parseRedirect(req.URL)
}

func (g *S3) GetWriteRedirect(ctx context.Context, key []byte, opts ...options.FileOption) (*url.URL, error) {
	merged := options.MergeOptions(g.options, opts)

	req, err := g.client.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(g.bucket),
		Key:    aws.String(merged.ObjectKey(key)),
	}, merged.RedirectTTL)
	if err != nil {
		return nil, errors.NewStorageError("[S3] failed to presign write", err)
	}

	return parseRedirect(req.URL)
}

func parseRedirect(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, errors.NewStorageError("[S3] invalid presigned url", err)
	}

	return u, nil
}

func (g *S3) objectKey(key []byte, opts []options.FileOption) *string {
	return aws.String(options.MergeOptions(g.options, opts).ObjectKey(key))
}

func rangeHeader(offset, length int64) string {
	if length > 0 {
		return fmt.Sprintf("bytes=%d-%d", offset, offset+length-1)
	}

	return fmt.Sprintf("bytes=%d-", offset)
}

func isNotFound(err error) bool {
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return true
	}

	var notFound *types.NotFound
	if errors.As(err, &notFound) {
		return true
	}

	// HeadObject does not always return a typed error
	// https://github.com/aws/aws-sdk-go-v2/issues/2084
	return strings.Contains(err.Error(), "NotFound") || strings.Contains(err.Error(), "NoSuchKey")
}

func isInvalidRange(err error) bool {
	return strings.Contains(err.Error(), "InvalidRange")
}

func getQueryParamInt(u *url.URL, key string, defaultValue int) (int, error) {
	value := u.Query().Get(key)
	if value == "" {
		return defaultValue, nil
	}

	result, err := strconv.Atoi(value)
	if err != nil {
		return 0, errors.NewConfigurationError("[S3] invalid %s=%q", key, value, err)
	}

	return result, nil
}
