package artifacts

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"EduPipeline/internal/ports"
)

type objectGetter interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

type objectUploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// S3Store keeps artifacts under a bucket prefix.
type S3Store struct {
	bucket   string
	prefix   string
	getter   objectGetter
	uploader objectUploader
}

var _ ports.ArtifactStore = (*S3Store)(nil)

// DialS3 loads the default AWS configuration chain.
func DialS3(ctx context.Context, bucket, prefix string) (*S3Store, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(cfg)
	return newS3Store(bucket, prefix, client, manager.NewUploader(client)), nil
}

func newS3Store(bucket, prefix string, getter objectGetter, uploader objectUploader) *S3Store {
	return &S3Store{bucket: bucket, prefix: prefix, getter: getter, uploader: uploader}
}

func (s *S3Store) key(name string) string {
	return path.Join(s.prefix, name)
}

// Read downloads name; a missing key reports fs.ErrNotExist.
func (s *S3Store) Read(ctx context.Context, name string) ([]byte, error) {
	out, err := s.getter.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(name)),
	})
	if err != nil {
		var missing *types.NoSuchKey
		if errors.As(err, &missing) {
			return nil, fmt.Errorf("read artifact s3://%s/%s: %w", s.bucket, s.key(name), fs.ErrNotExist)
		}
		return nil, fmt.Errorf("get object: %w", err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("read object body: %w", err)
	}
	return data, nil
}

// Write uploads name.
func (s *S3Store) Write(ctx context.Context, name string, data []byte) error {
	if _, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(name)),
		Body:   bytes.NewReader(data),
	}); err != nil {
		return fmt.Errorf("upload object: %w", err)
	}
	return nil
}
