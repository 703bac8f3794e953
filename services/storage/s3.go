package storagesvc

import (
	"context"
	"io"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/pkg/errors"

	"github.com/trezcool/portal/core"
)

type s3Storage struct {
	client     *s3.S3
	uploader   *s3manager.Uploader
	bucket     string
	expiration time.Duration
}

var _ core.FileStorage = (*s3Storage)(nil)

// NewS3Storage stores files in the configured bucket, private, served through presigned URLs.
func NewS3Storage(conf *core.Config) (core.FileStorage, error) {
	sess, err := session.NewSession(&aws.Config{
		Region:      aws.String(conf.Storage.Region),
		Credentials: credentials.NewStaticCredentials(conf.Storage.AccessKeyID, conf.Storage.SecretAccessKey, ""),
	})
	if err != nil {
		return nil, errors.Wrap(err, "creating aws session")
	}
	return &s3Storage{
		client:     s3.New(sess),
		uploader:   s3manager.NewUploader(sess),
		bucket:     conf.Storage.Bucket,
		expiration: conf.Storage.SignedURLExpiration,
	}, nil
}

func (s *s3Storage) Upload(ctx context.Context, key, contentType string, body io.Reader) error {
	_, err := s.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		ContentType: aws.String(contentType),
		Body:        body,
	})
	return errors.Wrapf(err, "uploading %s", key)
}

func (s *s3Storage) SignedURL(_ context.Context, key string) (string, error) {
	req, _ := s.client.GetObjectRequest(&s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	url, err := req.Presign(s.expiration)
	if err != nil {
		return "", errors.Wrapf(err, "presigning %s", key)
	}
	return url, nil
}
