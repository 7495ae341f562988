package objectstore

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"path/filepath"
	"strings"
)

// Supported providers.
const (
	ProviderAWS   = "aws"
	ProviderGCP   = "gcp"
	ProviderAzure = "azure"
)

// ErrConfiguration matches every *ConfigError.
var ErrConfiguration = errors.New("object store configuration")

// ConfigError reports an unsupported provider or an unusable provider
// configuration. It is raised before any upload is attempted.
type ConfigError struct {
	Provider string
	Reason   string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("object store %q: %s", e.Provider, e.Reason)
}

func (e *ConfigError) Unwrap() error { return ErrConfiguration }

// HTTPError carries the response status of a failed provider call.
type HTTPError struct {
	Provider   string
	StatusCode int
	Err        error
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s: http %d: %v", e.Provider, e.StatusCode, e.Err)
}

func (e *HTTPError) Unwrap() error { return e.Err }

// Config selects and addresses an object store. Credentials are never part
// of it; every provider resolves them from its ambient environment.
type Config struct {
	Provider string
	// Bucket is the bucket name, or the storage account name on Azure.
	Bucket string
	Region string
	// Prefix is only consulted on Azure, where its first segment names the
	// container.
	Prefix string
	// Endpoint overrides the S3 endpoint, e.g. for MinIO.
	Endpoint string
	UseSSL   bool
}

// Client uploads single files. Implementations are safe for concurrent use.
type Client interface {
	UploadFile(ctx context.Context, localPath, storageKey string) error
	Close() error
}

// New creates the client for cfg.Provider.
func New(ctx context.Context, cfg Config) (Client, error) {
	switch cfg.Provider {
	case ProviderAWS:
		return NewS3Client(cfg)
	case ProviderGCP:
		return NewGCSClient(ctx, cfg)
	case ProviderAzure:
		return NewAzureClient(cfg)
	default:
		return nil, &ConfigError{
			Provider: cfg.Provider,
			Reason:   "unsupported provider, supported providers: aws, gcp, azure",
		}
	}
}

// Attributes are the object headers derived from a local file name.
type Attributes struct {
	ContentType     string
	ContentEncoding string
}

// AttributesFor marks .gz files as gzip encoded and guesses the content
// type of everything else from its extension.
func AttributesFor(localPath string) Attributes {
	if strings.HasSuffix(localPath, ".gz") {
		return Attributes{ContentEncoding: "gzip"}
	}
	return Attributes{ContentType: mime.TypeByExtension(filepath.Ext(localPath))}
}

// JoinKey joins a key prefix and relative path elements with "/". Slashes
// around each element are trimmed and empty elements dropped, so an empty
// prefix yields a bare relative key.
func JoinKey(prefix string, elems ...string) string {
	parts := make([]string, 0, len(elems)+1)
	for _, e := range append([]string{prefix}, elems...) {
		if e = strings.Trim(e, "/"); e != "" {
			parts = append(parts, e)
		}
	}
	return strings.Join(parts, "/")
}

// DefaultAzureContainer is used when the prefix is empty.
const DefaultAzureContainer = "data"

// SplitAzurePrefix splits "container/path" into its container and the path
// inside it.
func SplitAzurePrefix(prefix string) (container, rest string) {
	if strings.TrimSpace(prefix) == "" {
		return DefaultAzureContainer, ""
	}
	container, rest, _ = strings.Cut(prefix, "/")
	return container, rest
}
