// Package logger provides a debugging wrapper for blob.Store implementations.
//
// Every call is logged at DEBUG level with its key, result and the caller that issued it.
// The wrapper is applied by the blob store factory when the store URL carries logger=true.
package logger

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"path/filepath"
	"runtime"

	"github.com/bsv-blockchain/blobstore/stores/blob/options"
	"github.com/bsv-blockchain/blobstore/ulogger"
)

// blobStore mirrors blob.Store so the wrapper can live outside package blob.
type blobStore interface {
	Health(ctx context.Context, checkLiveness bool) (int, string, error)
	Exists(ctx context.Context, key []byte, opts ...options.FileOption) (bool, error)
	Get(ctx context.Context, key []byte, opts ...options.FileOption) ([]byte, error)
	GetIoReader(ctx context.Context, key []byte, opts ...options.FileOption) (io.ReadCloser, error)
	Set(ctx context.Context, key []byte, value []byte, opts ...options.FileOption) error
	SetFromReader(ctx context.Context, key []byte, reader io.ReadCloser, opts ...options.FileOption) error
	Del(ctx context.Context, key []byte, opts ...options.FileOption) error
	GetSize(ctx context.Context, key []byte, opts ...options.FileOption) (int64, error)
	SupportsRedirects() bool
	GetReadRedirect(ctx context.Context, key []byte, opts ...options.FileOption) (*url.URL, error)
	GetWriteRedirect(ctx context.Context, key []byte, opts ...options.FileOption) (*url.URL, error)
	Close(ctx context.Context) error
}

type Logger struct {
	logger ulogger.Logger
	store  blobStore
}

func New(logger ulogger.Logger, store blobStore) *Logger {
	return &Logger{
		logger: logger,
		store:  store,
	}
}

func caller() string {
	var callers []string

	for i := 2; i < 5; i++ {
		_, file, line, ok := runtime.Caller(i)
		if !ok {
			break
		}

		callers = append(callers, fmt.Sprintf("%s:%d", filepath.Base(file), line))
	}

	return fmt.Sprintf("%v", callers)
}

func (s *Logger) Health(ctx context.Context, checkLiveness bool) (int, string, error) {
	status, msg, err := s.store.Health(ctx, checkLiveness)
	s.logger.Debugf("[BlobStore][logger][Health] : status %d, msg %s, err %v : %s", status, msg, err, caller())

	return status, msg, err
}

func (s *Logger) Exists(ctx context.Context, key []byte, opts ...options.FileOption) (bool, error) {
	exists, err := s.store.Exists(ctx, key, opts...)
	s.logger.Debugf("[BlobStore][logger][Exists] key %s : exists %t, err %v : %s", key, exists, err, caller())

	return exists, err
}

func (s *Logger) Get(ctx context.Context, key []byte, opts ...options.FileOption) ([]byte, error) {
	value, err := s.store.Get(ctx, key, opts...)
	s.logger.Debugf("[BlobStore][logger][Get] key %s : len %d, err %v : %s", key, len(value), err, caller())

	return value, err
}

func (s *Logger) GetIoReader(ctx context.Context, key []byte, opts ...options.FileOption) (io.ReadCloser, error) {
	r, err := s.store.GetIoReader(ctx, key, opts...)
	s.logger.Debugf("[BlobStore][logger][GetIoReader] key %s : err %v : %s", key, err, caller())

	return r, err
}

func (s *Logger) Set(ctx context.Context, key []byte, value []byte, opts ...options.FileOption) error {
	err := s.store.Set(ctx, key, value, opts...)
	s.logger.Debugf("[BlobStore][logger][Set] key %s : len %d, err %v : %s", key, len(value), err, caller())

	return err
}

func (s *Logger) SetFromReader(ctx context.Context, key []byte, reader io.ReadCloser, opts ...options.FileOption) error {
	err := s.store.SetFromReader(ctx, key, reader, opts...)
	s.logger.Debugf("[BlobStore][logger][SetFromReader] key %s : err %v : %s", key, err, caller())

	return err
}

func (s *Logger) Del(ctx context.Context, key []byte, opts ...options.FileOption) error {
	err := s.store.Del(ctx, key, opts...)
	s.logger.Debugf("[BlobStore][logger][Del] key %s : err %v : %s", key, err, caller())

	return err
}

func (s *Logger) GetSize(ctx context.Context, key []byte, opts ...options.FileOption) (int64, error) {
	size, err := s.store.GetSize(ctx, key, opts...)
	s.logger.Debugf("[BlobStore][logger][GetSize] key %s : size %d, err %v : %s", key, size, err, caller())

	return size, err
}

func (s *Logger) SupportsRedirects() bool {
	return s.store.SupportsRedirects()
}

func (s *Logger) GetReadRedirect(ctx context.Context, key []byte, opts ...options.FileOption) (*url.URL, error) {
	u, err := s.store.GetReadRedirect(ctx, key, opts...)
	s.logger.Debugf("[BlobStore][logger][GetReadRedirect] key %s : redirect %t, err %v : %s", key, u != nil, err, caller())

	return u, err
}

func (s *Logger) GetWriteRedirect(ctx context.Context, key []byte, opts ...options.FileOption) (*url.URL, error) {
	u, err := s.store.GetWriteRedirect(ctx, key, opts...)
	s.logger.Debugf("[BlobStore][logger][GetWriteRedirect] key %s : redirect %t, err %v : %s", key, u != nil, err, caller())

	return u, err
}

func (s *Logger) Close(ctx context.Context) error {
	err := s.store.Close(ctx)
	s.logger.Debugf("[BlobStore][logger][Close] : err %v : %s", err, caller())

	return err
}
