// Package mirror optionally copies completed archive builds to Azure Blob
// Storage so a fleet of finders can share one archive without each
// rebuilding it from the network. It is entirely best-effort: failures are
// logged and swallowed, never propagated to the build that triggered them.
package mirror

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
)

// Config holds the Azure Blob Storage destination for mirrored archives.
type Config struct {
	AccountURL string // e.g. "https://<account>.blob.core.windows.net"
	Container  string
}

// Mirror uploads completed archive files to blob storage.
type Mirror struct {
	client    *azblob.Client
	container string
}

// New constructs a Mirror using the process's ambient Azure credentials
// (managed identity, environment variables, or az CLI login) via
// DefaultAzureCredential. Returns nil if cfg.AccountURL is empty, meaning
// mirroring is disabled.
func New(cfg Config) (*Mirror, error) {
	if cfg.AccountURL == "" {
		return nil, nil
	}

	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("mirror: create azure credential: %w", err)
	}

	client, err := azblob.NewClient(cfg.AccountURL, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("mirror: create blob client: %w", err)
	}

	return &Mirror{client: client, container: cfg.Container}, nil
}

// UploadArchive uploads the archive at localPath under blobName (see
// BlobNameForArchive). Errors are returned to the caller,
// which is expected to log-and-continue per the background-work policy —
// a failed mirror upload never fails the archive build itself.
func (m *Mirror) UploadArchive(ctx context.Context, localPath, blobName string) error {
	if m == nil {
		return nil
	}

	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("mirror: open %s: %w", localPath, err)
	}
	defer f.Close()

	slog.Info("mirroring archive to blob storage", "local_path", localPath, "blob", blobName, "container", m.container)

	_, err = m.client.UploadFile(ctx, m.container, blobName, f, nil)
	if err != nil {
		return fmt.Errorf("mirror: upload %s: %w", blobName, err)
	}
	return nil
}

// BlobNameForArchive derives a stable blob name from an on-disk archive
// path, preserving its extension.
func BlobNameForArchive(localPath string) string {
	return filepath.Base(localPath)
}
