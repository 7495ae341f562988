package objectstore

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const defaultS3Endpoint = "s3.amazonaws.com"

// S3Client uploads to AWS S3 or any S3 compatible endpoint.
type S3Client struct {
	client *minio.Client
	bucket string
}

// NewS3Client resolves credentials through the AWS chain: environment,
// shared credentials file, then instance or container role.
func NewS3Client(cfg Config) (*S3Client, error) {
	if cfg.Bucket == "" {
		return nil, &ConfigError{Provider: ProviderAWS, Reason: "bucket is required"}
	}
	endpoint := cfg.Endpoint
	secure := cfg.UseSSL
	if endpoint == "" {
		endpoint, secure = defaultS3Endpoint, true
	}
	region := cfg.Region
	if region == "" {
		region = os.Getenv("AWS_REGION")
	}

	creds := credentials.NewChainCredentials([]credentials.Provider{
		&credentials.EnvAWS{},
		&credentials.FileAWSCredentials{},
		&credentials.IAM{},
	})
	cl, err := minio.New(endpoint, &minio.Options{
		Creds:  creds,
		Secure: secure,
		Region: region,
	})
	if err != nil {
		return nil, &ConfigError{Provider: ProviderAWS, Reason: fmt.Sprintf("init client: %v", err)}
	}
	return &S3Client{client: cl, bucket: cfg.Bucket}, nil
}

func (c *S3Client) UploadFile(ctx context.Context, localPath, storageKey string) error {
	_, err := c.client.FPutObject(ctx, c.bucket, storageKey, localPath, s3PutOptions(AttributesFor(localPath)))
	if err != nil {
		return s3Error(err)
	}
	return nil
}

func (c *S3Client) Close() error {
	return nil
}

func s3PutOptions(a Attributes) minio.PutObjectOptions {
	return minio.PutObjectOptions{
		ContentType:     a.ContentType,
		ContentEncoding: a.ContentEncoding,
	}
}

func s3Error(err error) error {
	var resp minio.ErrorResponse
	if errors.As(err, &resp) && resp.StatusCode != 0 {
		return &HTTPError{Provider: ProviderAWS, StatusCode: resp.StatusCode, Err: err}
	}
	return err
}
