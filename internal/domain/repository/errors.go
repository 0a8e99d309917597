package repository

import "errors"

var (
	// ErrSourceNotFound is returned when no session is registered for an identifier.
	ErrSourceNotFound = errors.New("content source not found")

	// ErrFileNotFound is returned when an entry is not part of a content source.
	ErrFileNotFound = errors.New("file not found")

	// ErrSourceFetchFailure is returned when a descriptor cannot be retrieved
	// or a session does not produce metadata in time.
	ErrSourceFetchFailure = errors.New("failed to fetch content source")

	// ErrUnsupportedScheme is returned when no fetcher handles a descriptor URL.
	ErrUnsupportedScheme = errors.New("unsupported descriptor scheme")

	// ErrObjectNotFound is returned when a descriptor object does not exist in storage.
	ErrObjectNotFound = errors.New("object not found")

	// ErrBucketNotFound is returned when the configured bucket does not exist.
	ErrBucketNotFound = errors.New("bucket not found")

	// ErrDescriptorTooLarge is returned when a descriptor exceeds the fetch size limit.
	ErrDescriptorTooLarge = errors.New("descriptor exceeds size limit")
)
