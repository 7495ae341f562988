package objectstore

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
)

// Environment variables consulted for Azure credentials, in order.
const (
	envAzureConnectionString = "AZURE_STORAGE_CONNECTION_STRING"
	envAzureAccountKey       = "AZURE_STORAGE_ACCOUNT_KEY"
)

// AzureClient uploads block blobs into one container.
type AzureClient struct {
	client    *azblob.Client
	container string
}

// NewAzureClient authenticates with a connection string, an account key or
// DefaultAzureCredential, whichever the environment provides first.
// cfg.Bucket names the storage account.
func NewAzureClient(cfg Config) (*AzureClient, error) {
	container, _ := SplitAzurePrefix(cfg.Prefix)
	opts := &azblob.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{MaxRetries: 5},
		},
	}

	cl, err := newAzblobClient(cfg.Bucket, opts)
	if err != nil {
		return nil, err
	}
	return &AzureClient{client: cl, container: container}, nil
}

func newAzblobClient(account string, opts *azblob.ClientOptions) (*azblob.Client, error) {
	configErr := func(reason string, err error) error {
		return &ConfigError{Provider: ProviderAzure, Reason: fmt.Sprintf("%s: %v", reason, err)}
	}

	if conn := os.Getenv(envAzureConnectionString); conn != "" {
		cl, err := azblob.NewClientFromConnectionString(conn, opts)
		if err != nil {
			return nil, configErr("connection string", err)
		}
		return cl, nil
	}

	if account == "" {
		return nil, &ConfigError{Provider: ProviderAzure, Reason: "storage account name is required"}
	}
	url := fmt.Sprintf("https://%s.blob.core.windows.net/", account)

	if key := os.Getenv(envAzureAccountKey); key != "" {
		cred, err := azblob.NewSharedKeyCredential(account, key)
		if err != nil {
			return nil, configErr("account key", err)
		}
		cl, err := azblob.NewClientWithSharedKeyCredential(url, cred, opts)
		if err != nil {
			return nil, configErr("init client", err)
		}
		return cl, nil
	}

	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, configErr("default credential", err)
	}
	cl, err := azblob.NewClient(url, cred, opts)
	if err != nil {
		return nil, configErr("init client", err)
	}
	return cl, nil
}

func (c *AzureClient) UploadFile(ctx context.Context, localPath, storageKey string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", localPath, err)
	}
	defer f.Close()

	if _, err := c.client.UploadFile(ctx, c.container, storageKey, f, azureUploadOptions(AttributesFor(localPath))); err != nil {
		return azureError(err)
	}
	return nil
}

func (c *AzureClient) Close() error {
	return nil
}

func azureUploadOptions(a Attributes) *azblob.UploadFileOptions {
	if a == (Attributes{}) {
		return nil
	}
	headers := &blob.HTTPHeaders{}
	if a.ContentType != "" {
		headers.BlobContentType = &a.ContentType
	}
	if a.ContentEncoding != "" {
		headers.BlobContentEncoding = &a.ContentEncoding
	}
	return &azblob.UploadFileOptions{HTTPHeaders: headers}
}

func azureError(err error) error {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		return &HTTPError{Provider: ProviderAzure, StatusCode: respErr.StatusCode, Err: err}
	}
	return err
}
