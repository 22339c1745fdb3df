// Package options holds the functional options shared by every blob store backend.
package options

import (
	"path"
	"time"
)

type StoreOption func(*Options)

type FileOption func(*Options)

type Options struct {
	SubDirectory string
	Extension    string
	// Offset and Length select a byte range on reads. A Length <= 0 reads to the end of the object.
	Offset      int64
	Length      int64
	RedirectTTL time.Duration
}

const DefaultRedirectTTL = 15 * time.Minute

func NewStoreOptions(opts ...StoreOption) *Options {
	options := &Options{RedirectTTL: DefaultRedirectTTL}

	for _, opt := range opts {
		opt(options)
	}

	return options
}

func NewFileOptions(opts ...FileOption) *Options {
	options := &Options{RedirectTTL: DefaultRedirectTTL}

	for _, opt := range opts {
		opt(options)
	}

	return options
}

// MergeOptions applies the per call options on top of a copy of the store defaults.
func MergeOptions(storeOpts *Options, fileOpts []FileOption) *Options {
	options := &Options{RedirectTTL: DefaultRedirectTTL}

	if storeOpts != nil {
		*options = *storeOpts
	}

	for _, opt := range fileOpts {
		opt(options)
	}

	return options
}

func WithDefaultSubDirectory(subDirectory string) StoreOption {
	return func(s *Options) {
		s.SubDirectory = subDirectory
	}
}

func WithDefaultFileExtension(extension string) StoreOption {
	return func(s *Options) {
		s.Extension = extension
	}
}

func WithDefaultRedirectTTL(ttl time.Duration) StoreOption {
	return func(s *Options) {
		s.RedirectTTL = ttl
	}
}

func WithSubDirectory(subDirectory string) FileOption {
	return func(s *Options) {
		s.SubDirectory = subDirectory
	}
}

func WithFileExtension(extension string) FileOption {
	return func(s *Options) {
		s.Extension = extension
	}
}

// WithRange limits a read to length bytes starting at offset.
func WithRange(offset, length int64) FileOption {
	return func(s *Options) {
		s.Offset = offset
		s.Length = length
	}
}

func WithRedirectTTL(ttl time.Duration) FileOption {
	return func(s *Options) {
		s.RedirectTTL = ttl
	}
}

// ObjectKey builds the backend key for key: subDirectory/key.extension
func (o *Options) ObjectKey(key []byte) string {
	name := string(key)
	if o.Extension != "" {
		name += "." + o.Extension
	}

	if o.SubDirectory != "" {
		return path.Join(o.SubDirectory, name)
	}

	return name
}

func (o *Options) HasRange() bool {
	return o.Offset > 0 || o.Length > 0
}

// ApplyRange returns the slice of data selected by the range options.
func (o *Options) ApplyRange(data []byte) []byte {
	if o.Offset >= int64(len(data)) {
		return []byte{}
	}

	data = data[o.Offset:]

	if o.Length > 0 && o.Length < int64(len(data)) {
		data = data[:o.Length]
	}

	return data
}
