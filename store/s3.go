package store

import (
	"bytes"
	"context"
	"io/ioutil"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	raven "github.com/getsentry/raven-go"
)

// A S3 store represents a store that is kept on AWS S3 storage. Each entry is
// one object. The expiration of an entry is kept in the object's metadata and
// checked on every read, so a bucket lifecycle rule is only needed to reclaim
// the space.
//
// List does not fetch metadata, so it may return keys which have expired but
// not yet been read or deleted.
//
// Do not change Bucket, Prefix or MaxValueSize concurrently with calls using
// the structure.
type S3 struct {
	svc          *s3.S3
	Bucket       string
	Prefix       string
	MaxValueSize int // 0 for no limit
}

var (
	// ensure S3 satisfies the Store interface
	_ Store = &S3{}
)

// the object metadata entry holding the expiration, in unix seconds.
const s3ExpirationMeta = "Kv-Expiration"

// NewS3 creates a new S3 store. It will use the given bucket and will prepend
// prefix to all keys. This is to allow for a bucket to be used for more than
// one store. For example if prefix were "cache/" then a Get("hello") would
// look for the key "cache/hello" in the bucket. The authorization method and
// credentials in the session are used for all accesses.
func NewS3(bucket, prefix string, awsSession *session.Session) *S3 {
	return &S3{
		Bucket: bucket,
		Prefix: prefix,
		svc:    s3.New(awsSession),
	}
}

// Get downloads the object for key.
func (s *S3) Get(ctx context.Context, key string) ([]byte, error) {
	output, err := s.svc.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(s.Prefix + key),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, ErrNotExist
		}
		s.report("S3 Get", key, err)
		return nil, err
	}
	defer output.Body.Close()
	if expired(s3Expiration(output.Metadata), time.Now()) {
		return nil, ErrNotExist
	}
	data, err := ioutil.ReadAll(output.Body)
	if err != nil {
		s.report("S3 Get", key, err)
		return nil, err
	}
	return data, nil
}

// Put uploads value as a single object. S3 itself allows much larger objects
// than anything reasonable to hold in memory; use MaxValueSize to impose a
// ceiling.
func (s *S3) Put(ctx context.Context, key string, value []byte, expires time.Time) error {
	if s.MaxValueSize > 0 && len(value) > s.MaxValueSize {
		return ErrTooLarge
	}
	input := &s3.PutObjectInput{
		Body:          bytes.NewReader(value),
		Bucket:        aws.String(s.Bucket),
		Key:           aws.String(s.Prefix + key),
		ContentLength: aws.Int64(int64(len(value))),
	}
	if !expires.IsZero() {
		input.Expires = aws.Time(expires)
		input.Metadata = map[string]*string{
			s3ExpirationMeta: aws.String(strconv.FormatInt(expires.Unix(), 10)),
		}
	}
	_, err := s.svc.PutObjectWithContext(ctx, input)
	if err != nil {
		s.report("S3 Put", key, err)
	}
	return err
}

// Delete removes the object for key. S3 does not say whether a deleted
// object existed, so the object is checked for first.
func (s *S3) Delete(ctx context.Context, key string) error {
	head, err := s.svc.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(s.Prefix + key),
	})
	if err != nil {
		if isS3NotFound(err) {
			return ErrNotExist
		}
		s.report("S3 Delete", key, err)
		return err
	}
	_, err = s.svc.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(s.Prefix + key),
	})
	if err != nil {
		s.report("S3 Delete", key, err)
		return err
	}
	if expired(s3Expiration(head.Metadata), time.Now()) {
		return ErrNotExist
	}
	return nil
}

// List returns one page of keys in this store. It will only return ones that
// satisfy the store's Prefix, so it is safe to use this on a bucket
// containing other items.
func (s *S3) List(ctx context.Context, prefix, cursor string, limit int) ([]Key, string, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	input := &s3.ListObjectsV2Input{
		Bucket:  aws.String(s.Bucket),
		Prefix:  aws.String(s.Prefix + prefix),
		MaxKeys: aws.Int64(int64(limit)),
	}
	if cursor != "" {
		input.StartAfter = aws.String(s.Prefix + cursor)
	}
	page, err := s.svc.ListObjectsV2WithContext(ctx, input)
	if err != nil {
		log.Println("S3 List:", s.Prefix, prefix, err)
		raven.CaptureError(err, map[string]string{"Bucket": s.Bucket, "Prefix": s.Prefix, "Pattern": prefix})
		return nil, "", err
	}
	keys := make([]Key, 0, len(page.Contents))
	for _, item := range page.Contents {
		keys = append(keys, Key{Name: strings.TrimPrefix(aws.StringValue(item.Key), s.Prefix)})
	}
	var next string
	if aws.BoolValue(page.IsTruncated) && len(keys) > 0 {
		next = keys[len(keys)-1].Name
	}
	return keys, next, nil
}

func (s *S3) report(op, key string, err error) {
	log.Println(op+":", s.Prefix, key, err)
	raven.CaptureError(err, map[string]string{"Bucket": s.Bucket, "Prefix": s.Prefix, "Key": key})
}

// isS3NotFound is true for both the GetObject error code and the bare 404
// returned by HeadObject.
func isS3NotFound(err error) bool {
	if e, ok := err.(awserr.RequestFailure); ok && e.StatusCode() == http.StatusNotFound {
		return true
	}
	if e, ok := err.(awserr.Error); ok && e.Code() == s3.ErrCodeNoSuchKey {
		return true
	}
	return false
}

// s3Expiration extracts the expiration saved by Put. A missing or garbled
// entry is taken as never expiring.
func s3Expiration(metadata map[string]*string) time.Time {
	for k, v := range metadata {
		if !strings.EqualFold(k, s3ExpirationMeta) || v == nil {
			continue
		}
		sec, err := strconv.ParseInt(*v, 10, 64)
		if err != nil || sec <= 0 {
			return time.Time{}
		}
		return time.Unix(sec, 0)
	}
	return time.Time{}
}
