// Package azure implements storage.Adapter backed by Azure Blob Storage.
package azure

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"

	"pkt.systems/paird/internal/storage"
)

// Config controls connectivity to Azure Blob Storage.
type Config struct {
	Account    string
	AccountKey string
	Endpoint   string
	SASToken   string
	Container  string
	Prefix     string
}

// Store implements storage.Adapter backed by a blob container.
type Store struct {
	client    *azblob.Client
	container string
	prefix    string
}

// New constructs a Store using the provided configuration and ensures the
// container exists.
func New(cfg Config) (*Store, error) {
	if cfg.Account == "" {
		return nil, fmt.Errorf("azure: account is required")
	}
	if cfg.Container == "" {
		return nil, fmt.Errorf("azure: container is required")
	}
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = fmt.Sprintf("https://%s.blob.core.windows.net", cfg.Account)
	}
	var (
		client *azblob.Client
		err    error
	)
	if cfg.SASToken != "" {
		endpointWithSAS, serr := appendSASToken(endpoint, cfg.SASToken)
		if serr != nil {
			return nil, serr
		}
		client, err = azblob.NewClientWithNoCredential(endpointWithSAS, nil)
	} else {
		if cfg.AccountKey == "" {
			return nil, fmt.Errorf("azure: account key or SAS token required")
		}
		cred, credErr := azblob.NewSharedKeyCredential(cfg.Account, cfg.AccountKey)
		if credErr != nil {
			return nil, fmt.Errorf("azure: build credentials: %w", credErr)
		}
		client, err = azblob.NewClientWithSharedKeyCredential(endpoint, cred, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("azure: create client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if _, err := client.CreateContainer(ctx, cfg.Container, nil); err != nil {
		if !isContainerExists(err) {
			return nil, fmt.Errorf("azure: create container: %w", err)
		}
	}

	return &Store{
		client:    client,
		container: cfg.Container,
		prefix:    strings.Trim(cfg.Prefix, "/"),
	}, nil
}

func appendSASToken(endpoint, sas string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("azure: parse endpoint: %w", err)
	}
	sas = strings.TrimPrefix(sas, "?")
	if u.RawQuery != "" {
		u.RawQuery = u.RawQuery + "&" + sas
	} else {
		u.RawQuery = sas
	}
	return u.String(), nil
}

// Client exposes the underlying Azure Blob client (primarily for diagnostics).
func (s *Store) Client() *azblob.Client { return s.client }

func (s *Store) blobName(key string) string {
	if s.prefix == "" {
		return key
	}
	return s.prefix + "/" + key
}

// Read downloads the blob stored for key.
func (s *Store) Read(ctx context.Context, key string) ([]byte, error) {
	resp, err := s.client.DownloadStream(ctx, s.container, s.blobName(key), nil)
	if err != nil {
		if isNotFound(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("azure: download %s: %w", key, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("azure: read %s: %w", key, err)
	}
	return data, nil
}

// Write uploads data under key, replacing any previous blob.
func (s *Store) Write(ctx context.Context, key string, data []byte) error {
	_, err := s.client.UploadStream(ctx, s.container, s.blobName(key), bytes.NewReader(data), nil)
	if err != nil {
		return fmt.Errorf("azure: upload %s: %w", key, err)
	}
	return nil
}

// Remove deletes the blob for key; absent keys succeed.
func (s *Store) Remove(ctx context.Context, key string) error {
	_, err := s.client.DeleteBlob(ctx, s.container, s.blobName(key), nil)
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("azure: delete %s: %w", key, err)
	}
	return nil
}

// List enumerates every blob under the configured prefix.
func (s *Store) List(ctx context.Context) ([]string, error) {
	prefix := s.prefix
	if prefix != "" {
		prefix += "/"
	}
	pager := s.client.NewListBlobsFlatPager(s.container, &azblob.ListBlobsFlatOptions{
		Prefix: &prefix,
	})
	var keys []string
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("azure: list: %w", err)
		}
		for _, item := range page.Segment.BlobItems {
			if item.Name == nil {
				continue
			}
			logical := strings.TrimPrefix(*item.Name, prefix)
			if logical == "" {
				continue
			}
			keys = append(keys, logical)
		}
	}
	return keys, nil
}

// Close satisfies storage.Adapter and is a no-op for the Azure client.
func (s *Store) Close() error { return nil }

func isNotFound(err error) bool {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		return respErr.StatusCode == http.StatusNotFound
	}
	return false
}

func isContainerExists(err error) bool {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		return respErr.StatusCode == http.StatusConflict
	}
	return false
}
