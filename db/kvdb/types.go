package kvdb

import (
	"errors"
	"fmt"
)

const (
	DocumentsBucket   = "documents"
	AttachmentsBucket = "attachments"
	JobsBucket        = "extraction_jobs"
)

var buckets = []string{DocumentsBucket, AttachmentsBucket, JobsBucket}

var (
	ErrNotFound   = errors.New("key not found")
	ErrInvalidKey = errors.New("invalid key")
)

type DB interface {
	Set(bucket string, key string, value []byte) error
	SetMany(entries []Entry) error
	Get(bucket string, key string) ([]byte, error)
	Delete(bucket string, key string) error
	DeleteMany(entries []Entry) error
	ForEach(bucket string, fn func(key string, value []byte) error) error
	NextSequence(bucket string) (uint64, error)
	Close() error
}

// Entry addresses one key in a bucket. Value is ignored by DeleteMany.
type Entry struct {
	Bucket string
	Key    string
	Value  []byte
}

type InvalidKeyError struct {
	Key    string
	Reason string
}
type NotFoundError struct {
	Bucket string
	Key    string
}

func (e *InvalidKeyError) Error() string {
	return fmt.Sprintf("invalid key %s: %s", e.Key, e.Reason)
}

func (e *InvalidKeyError) Is(target error) bool {
	return target == ErrInvalidKey
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("key not found in %s: %s", e.Bucket, e.Key)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}
