package store

import (
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
)

// splitBucketPrefix will take a path and separate the bucket name from a prefix, if any.
// It will also append "addition" to the prefix, and make sure the prefix returned is
// either empty or ends with a slash "/".
//
// examples:
//
//	"" -> ("", "")
//	"bucket" -> ("bucket", "")
//	"bucket/and/a/prefix" -> ("bucket", "and/a/prefix/")
func splitBucketPrefix(location string, addition string) (bucket, prefix string) {
	if location == "" {
		return
	}
	location = strings.TrimPrefix(location, "/")
	v := strings.SplitN(location, "/", 2)
	bucket = v[0]
	if len(v) > 1 {
		prefix = v[1]
	}
	if addition != "" {
		prefix = path.Join(prefix, addition)
	}
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix = prefix + "/"
	}
	return
}

// ParseLocation will create an appropriate store based on "location".
// If location is empty or "memory", a memory store is returned.
// It understands the scheme "s3:". A host, as in "s3://localhost:9000/bucket",
// is taken as the endpoint of an S3 compatible service. The addition is
// appended to the key prefix of the store.
func ParseLocation(location string, addition string) (Store, error) {
	if location == "" || location == "memory" {
		return NewMemory(), nil
	}
	u, err := url.Parse(location)
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "memory":
		return NewMemory(), nil
	case "s3":
		conf := &aws.Config{}
		if u.Host != "" {
			conf.Endpoint = aws.String(u.Host)
			conf.Region = aws.String("us-east-1")
			// disable SSL for local development
			if strings.Contains(u.Host, "localhost") {
				conf.DisableSSL = aws.Bool(true)
				conf.S3ForcePathStyle = aws.Bool(true)
			}
		}
		bucket, prefix := splitBucketPrefix(u.Path, addition)
		if bucket == "" {
			return nil, fmt.Errorf("no bucket name in location %q", location)
		}
		awsSession, err := session.NewSession(conf)
		if err != nil {
			return nil, err
		}
		return NewS3(bucket, prefix, awsSession), nil
	}
	return nil, fmt.Errorf("unknown storage location %q", location)
}
