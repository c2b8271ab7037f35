// Package azure stores blobs in Azure Blob Storage.
package azure

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blockblob"

	"github.com/felixgeelhaar/apl/infrastructure/storage/objectstore"
)

// Config configures the Azure client. ConnectionString wins over an
// account key; with neither, DefaultAzureCredential is used.
type Config struct {
	Container        string
	Prefix           string
	ConnectionString string
	AccountName      string
	AccountKey       string
}

// Client implements objectstore.Client with the Azure SDK. Buckets map to
// containers.
type Client struct {
	client *azblob.Client
}

// NewClient creates an Azure Blob client.
func NewClient(cfg Config) (*Client, error) {
	var client *azblob.Client
	var err error

	switch {
	case cfg.ConnectionString != "":
		client, err = azblob.NewClientFromConnectionString(cfg.ConnectionString, nil)
	case cfg.AccountName != "" && cfg.AccountKey != "":
		cred, credErr := azblob.NewSharedKeyCredential(cfg.AccountName, cfg.AccountKey)
		if credErr != nil {
			return nil, fmt.Errorf("failed to create shared key credential: %w", credErr)
		}
		client, err = azblob.NewClientWithSharedKeyCredential(serviceURL(cfg.AccountName), cred, nil)
	case cfg.AccountName != "":
		cred, credErr := azidentity.NewDefaultAzureCredential(nil)
		if credErr != nil {
			return nil, fmt.Errorf("failed to create default credential: %w", credErr)
		}
		client, err = azblob.NewClient(serviceURL(cfg.AccountName), cred, nil)
	default:
		return nil, errors.New("connection string or account name is required")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure client: %w", err)
	}

	return &Client{client: client}, nil
}

// NewStore creates a blob store backed by an Azure container.
func NewStore(cfg Config) (*objectstore.Store, error) {
	if cfg.Container == "" {
		return nil, errors.New("container name is required")
	}
	client, err := NewClient(cfg)
	if err != nil {
		return nil, err
	}
	return objectstore.New(objectstore.Config{
		Client: client,
		Scheme: "azblob",
		Bucket: cfg.Container,
		Prefix: cfg.Prefix,
	})
}

func serviceURL(account string) string {
	return fmt.Sprintf("https://%s.blob.core.windows.net/", account)
}

// Upload writes a block blob.
func (c *Client) Upload(ctx context.Context, container, object string, content io.Reader, attrs objectstore.Attrs) error {
	blobClient := c.client.ServiceClient().NewContainerClient(container).NewBlockBlobClient(object)

	opts := &blockblob.UploadStreamOptions{}
	if attrs.ContentType != "" {
		contentType := attrs.ContentType
		opts.HTTPHeaders = &blob.HTTPHeaders{BlobContentType: &contentType}
	}
	if len(attrs.Metadata) > 0 {
		opts.Metadata = make(map[string]*string, len(attrs.Metadata))
		for k, v := range attrs.Metadata {
			val := v
			opts.Metadata[k] = &val
		}
	}

	if _, err := blobClient.UploadStream(ctx, content, opts); err != nil {
		return fmt.Errorf("failed to upload blob: %w", err)
	}
	return nil
}

// Download opens a blob for reading.
func (c *Client) Download(ctx context.Context, container, object string) (io.ReadCloser, error) {
	blobClient := c.client.ServiceClient().NewContainerClient(container).NewBlobClient(object)

	resp, err := blobClient.DownloadStream(ctx, nil)
	if err != nil {
		return nil, mapError(err)
	}
	return resp.Body, nil
}

// Delete removes a blob.
func (c *Client) Delete(ctx context.Context, container, object string) error {
	blobClient := c.client.ServiceClient().NewContainerClient(container).NewBlobClient(object)

	if _, err := blobClient.Delete(ctx, nil); err != nil {
		return mapError(err)
	}
	return nil
}

// Exists checks if a blob exists.
func (c *Client) Exists(ctx context.Context, container, object string) (bool, error) {
	blobClient := c.client.ServiceClient().NewContainerClient(container).NewBlobClient(object)

	_, err := blobClient.GetProperties(ctx, nil)
	if err != nil {
		if errors.Is(mapError(err), objectstore.ErrObjectNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func mapError(err error) error {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %v", objectstore.ErrObjectNotFound, err)
	}
	return err
}

var _ objectstore.Client = (*Client)(nil)
