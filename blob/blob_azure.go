package blob

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/streaming"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"
)

// Azure stores batches in an Azure blob container. Append targets are real
// append blobs, so a time-rotated destination grows one block per flush.
type Azure struct {
	container *container.Client
}

func NewAzure(connectionString, containerName string) (*Azure, error) {
	if strings.TrimSpace(containerName) == "" {
		return nil, fmt.Errorf("container name is required")
	}
	client, err := container.NewClientFromConnectionString(connectionString, containerName, nil)
	if err != nil {
		return nil, fmt.Errorf("create container client: %w", err)
	}
	return &Azure{container: client}, nil
}

func NewAzureWithClient(client *container.Client) (*Azure, error) {
	if client == nil {
		return nil, fmt.Errorf("container client is required")
	}
	return &Azure{container: client}, nil
}

func (a *Azure) Exists(ctx context.Context, path string) (bool, error) {
	_, err := a.container.NewBlobClient(path).GetProperties(ctx, nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("stat blob %q: %w", path, err)
	}
	return true, nil
}

func (a *Azure) CreateAppendable(ctx context.Context, path string) error {
	_, err := a.container.NewAppendBlobClient(path).Create(ctx, nil)
	if err != nil {
		// A concurrent creator winning the race is fine.
		if bloberror.HasCode(err, bloberror.BlobAlreadyExists) {
			return nil
		}
		return fmt.Errorf("create append blob %q: %w", path, err)
	}
	return nil
}

func (a *Azure) Append(ctx context.Context, path string, data []byte) error {
	body := streaming.NopCloser(bytes.NewReader(data))
	_, err := a.container.NewAppendBlobClient(path).AppendBlock(ctx, body, nil)
	if err != nil {
		return fmt.Errorf("append block to %q: %w", path, err)
	}
	return nil
}

func (a *Azure) Write(ctx context.Context, path string, data []byte) error {
	_, err := a.container.NewBlockBlobClient(path).UploadBuffer(ctx, data, nil)
	if err != nil {
		return fmt.Errorf("upload blob %q: %w", path, err)
	}
	return nil
}

var _ Client = (*Azure)(nil)
