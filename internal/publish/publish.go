// Package publish uploads run artifacts to Azure Blob Storage so reports
// can be shared from CI without shipping the output directory around.
package publish

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"

	"github.com/checkdeck/checkdeck/internal/utils"
)

// Target identifies where artifacts land: an account, a container and an
// optional blob name prefix.
type Target struct {
	AccountURL string
	Container  string
	Prefix     string
}

// ParseTarget splits a destination URL of the form
// https://<account>.blob.core.windows.net/<container>[/<prefix>...]
// into its parts.
func ParseTarget(raw string) (*Target, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("publish destination: %w", err)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return nil, fmt.Errorf("publish destination %q must be an http(s) URL", raw)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("publish destination %q has no host", raw)
	}

	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		return nil, fmt.Errorf("publish destination %q names no container", raw)
	}

	return &Target{
		AccountURL: u.Scheme + "://" + u.Host,
		Container:  parts[0],
		Prefix:     strings.Join(parts[1:], "/"),
	}, nil
}

// BlobClient is the slice of the azblob client the publisher uses.
type BlobClient interface {
	UploadStream(ctx context.Context, containerName string, blobName string, body io.Reader, o *azblob.UploadStreamOptions) (azblob.UploadStreamResponse, error)
}

// Publisher uploads files to one container.
type Publisher struct {
	client    BlobClient
	container string
	prefix    string
}

// New builds a Publisher authenticating through the default Azure
// credential chain (environment, workload identity, managed identity,
// az CLI).
func New(target *Target) (*Publisher, error) {
	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("resolving Azure credential: %w", err)
	}
	return NewWithCredential(target, cred)
}

// NewWithCredential builds a Publisher with an explicit credential, for
// callers that manage their own identity.
func NewWithCredential(target *Target, cred azcore.TokenCredential) (*Publisher, error) {
	client, err := azblob.NewClient(target.AccountURL, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("creating blob client: %w", err)
	}
	return NewWithClient(client, target), nil
}

// NewWithClient wires a Publisher to an existing client.
func NewWithClient(client BlobClient, target *Target) *Publisher {
	return &Publisher{
		client:    client,
		container: target.Container,
		prefix:    target.Prefix,
	}
}

// UploadFile uploads one local file under the given blob name (joined to
// the publisher's prefix) and returns the final blob name.
func (p *Publisher) UploadFile(ctx context.Context, localPath, name string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("opening %s: %w", localPath, err)
	}
	defer f.Close()

	blobName := path.Join(p.prefix, name)
	opts := &azblob.UploadStreamOptions{}
	if ct := contentType(name); ct != "" {
		opts.HTTPHeaders = &blob.HTTPHeaders{BlobContentType: utils.Ptr(ct)}
	}

	if _, err := p.client.UploadStream(ctx, p.container, blobName, f, opts); err != nil {
		return "", fmt.Errorf("uploading %s: %w", blobName, err)
	}
	return blobName, nil
}

// UploadDir uploads every regular file under dir, preserving the relative
// layout, and returns the uploaded blob names in order.
func (p *Publisher) UploadDir(ctx context.Context, dir string) ([]string, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}

	var files []string
	err = filepath.WalkDir(absDir, func(pth string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		files = append(files, pth)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", absDir, err)
	}
	sort.Strings(files)

	uploaded := make([]string, 0, len(files))
	for _, pth := range files {
		rel, err := filepath.Rel(absDir, pth)
		if err != nil {
			return uploaded, err
		}
		name, err := p.UploadFile(ctx, pth, filepath.ToSlash(rel))
		if err != nil {
			return uploaded, err
		}
		uploaded = append(uploaded, name)
	}
	return uploaded, nil
}

// contentType maps the artifact extensions checkdeck produces. Anything
// else is left for the service to default.
func contentType(name string) string {
	switch {
	case strings.HasSuffix(name, ".html"):
		return "text/html"
	case strings.HasSuffix(name, ".md"):
		return "text/markdown"
	case strings.HasSuffix(name, ".json"):
		return "application/json"
	case strings.HasSuffix(name, ".xml"):
		return "application/xml"
	case strings.HasSuffix(name, ".tar.gz"):
		return "application/gzip"
	case strings.HasSuffix(name, ".log"), strings.HasSuffix(name, ".patch"), strings.HasSuffix(name, ".txt"):
		return "text/plain"
	}
	return ""
}
