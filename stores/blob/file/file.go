// Package file is a blob store backend keeping every object as a file under a root directory.
package file

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"

	"github.com/bsv-blockchain/blobstore/errors"
	"github.com/bsv-blockchain/blobstore/stores/blob/options"
	"github.com/bsv-blockchain/blobstore/ulogger"
	"github.com/google/uuid"
)

// bounds the number of open files across all file stores of the process
var fileSemaphore = make(chan struct{}, 1024)

type File struct {
	path    string
	logger  ulogger.Logger
	options *options.Options
}

// New creates a file store. file:///abs/path is absolute, file://./rel/path is relative to the working directory.
func New(logger ulogger.Logger, storeURL *url.URL, opts ...options.StoreOption) (*File, error) {
	if storeURL == nil {
		return nil, errors.NewConfigurationError("storeURL is nil")
	}

	root := storeURL.Path
	if storeURL.Host != "" {
		root = filepath.Join(storeURL.Host, root)
	}

	if root == "" {
		return nil, errors.NewConfigurationError("[File] no path in %s", storeURL.String())
	}

	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, errors.NewStorageError("[File] failed to create directory %s", root, err)
	}

	return &File{
		path:    root,
		logger:  logger.New("file"),
		options: options.NewStoreOptions(opts...),
	}, nil
}

func acquire() func() {
	fileSemaphore <- struct{}{}

	return func() {
		<-fileSemaphore
	}
}

func (s *File) filename(key []byte, opts []options.FileOption) (string, *options.Options) {
	merged := options.MergeOptions(s.options, opts)

	return filepath.Join(s.path, filepath.FromSlash(merged.ObjectKey(key))), merged
}

func (s *File) Health(_ context.Context, _ bool) (int, string, error) {
	info, err := os.Stat(s.path)
	if err != nil {
		return http.StatusServiceUnavailable, "File Store: path not accessible", err
	}

	if !info.IsDir() {
		return http.StatusServiceUnavailable, "File Store: path is not a directory", nil
	}

	return http.StatusOK, "File Store", nil
}

func (s *File) Close(_ context.Context) error {
	return nil
}

func (s *File) Set(ctx context.Context, key []byte, value []byte, opts ...options.FileOption) error {
	return s.SetFromReader(ctx, key, io.NopCloser(bytes.NewReader(value)), opts...)
}

func (s *File) SetFromReader(_ context.Context, key []byte, reader io.ReadCloser, opts ...options.FileOption) error {
	defer reader.Close()

	release := acquire()
	defer release()

	filename, _ := s.filename(key, opts)

	if err := os.MkdirAll(filepath.Dir(filename), 0o755); err != nil {
		return errors.NewStorageError("[File][SetFromReader] [%s] failed to create directory", filename, err)
	}

	tmpFilename := filename + "." + uuid.NewString() + ".tmp"

	file, err := os.Create(tmpFilename)
	if err != nil {
		return errors.NewStorageError("[File][SetFromReader] [%s] failed to create file", filename, err)
	}

	if _, err = io.Copy(file, reader); err != nil {
		_ = file.Close()
		_ = os.Remove(tmpFilename)

		return errors.NewStorageError("[File][SetFromReader] [%s] failed to write data to file", filename, err)
	}

	if err = file.Close(); err != nil {
		_ = os.Remove(tmpFilename)
		return errors.NewStorageError("[File][SetFromReader] [%s] failed to close file", filename, err)
	}

	if err = os.Rename(tmpFilename, filename); err != nil {
		_ = os.Remove(tmpFilename)
		return errors.NewStorageError("[File][SetFromReader] [%s] failed to rename file from tmp", filename, err)
	}

	return nil
}

func (s *File) Get(ctx context.Context, key []byte, opts ...options.FileOption) ([]byte, error) {
	r, err := s.GetIoReader(ctx, key, opts...)
	if err != nil {
		return nil, err
	}

	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.NewStorageError("[File][Get] failed to read data", err)
	}

	return data, nil
}

type rangeReadCloser struct {
	io.Reader
	io.Closer
}

func (s *File) GetIoReader(_ context.Context, key []byte, opts ...options.FileOption) (io.ReadCloser, error) {
	filename, merged := s.filename(key, opts)

	release := acquire()

	f, err := os.Open(filename)
	if err != nil {
		release()

		if errors.Is(err, os.ErrNotExist) {
			return nil, errors.NewBlobNotFoundError("[File][GetIoReader] [%s] file not found", filename)
		}

		return nil, errors.NewStorageError("[File][GetIoReader] [%s] failed to open file", filename, err)
	}

	closer := &releasingFile{File: f, release: release}

	if merged.Offset > 0 {
		if _, err = f.Seek(merged.Offset, io.SeekStart); err != nil {
			_ = closer.Close()
			return nil, errors.NewStorageError("[File][GetIoReader] [%s] failed to seek", filename, err)
		}
	}

	if merged.Length > 0 {
		return &rangeReadCloser{Reader: io.LimitReader(f, merged.Length), Closer: closer}, nil
	}

	return closer, nil
}

type releasingFile struct {
	*os.File
	release func()
}

func (f *releasingFile) Close() error {
	defer f.release()
	return f.File.Close()
}

func (s *File) Exists(_ context.Context, key []byte, opts ...options.FileOption) (bool, error) {
	filename, _ := s.filename(key, opts)

	if _, err := os.Stat(filename); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}

		return false, errors.NewStorageError("[File][Exists] [%s] failed to stat file", filename, err)
	}

	return true, nil
}

func (s *File) GetSize(_ context.Context, key []byte, opts ...options.FileOption) (int64, error) {
	filename, _ := s.filename(key, opts)

	info, err := os.Stat(filename)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, errors.NewBlobNotFoundError("[File][GetSize] [%s] file not found", filename)
		}

		return 0, errors.NewStorageError("[File][GetSize] [%s] failed to stat file", filename, err)
	}

	return info.Size(), nil
}

func (s *File) Del(_ context.Context, key []byte, opts ...options.FileOption) error {
	release := acquire()
	defer release()

	filename, _ := s.filename(key, opts)

	s.logger.Debugf("[File] Del: %s", filename)

	if err := os.Remove(filename); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			// If the file does not exist, consider it deleted
			return nil
		}

		return errors.NewStorageError("[File][Del] [%s] failed to remove file", filename, err)
	}

	return nil
}

func (s *File) SupportsRedirects() bool {
	return false
}

func (s *File) GetReadRedirect(_ context.Context, _ []byte, _ ...options.FileOption) (*url.URL, error) {
	return nil, nil
}

func (s *File) GetWriteRedirect(_ context.Context, _ []byte, _ ...options.FileOption) (*url.URL, error) {
	return nil, nil
}
