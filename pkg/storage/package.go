package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/edgeprov/edge-installer/pkg/errors"
	"github.com/edgeprov/edge-installer/pkg/install"
	"github.com/edgeprov/edge-installer/pkg/security"
)

const (
	// PackageFileName is the local name of the downloaded runtime package
	PackageFileName = "AzureIoTEdge.msi"

	packageURLX64   = "https://aka.ms/AzEFLOWMSI_1_5_LTS_X64"
	packageURLArm64 = "https://aka.ms/AzEFLOWMSI_1_5_LTS_ARM64"
)

// DefaultPackageURL returns the runtime package location for an architecture
func DefaultPackageURL(arch string) string {
	if arch == "arm64" {
		return packageURLArm64
	}
	return packageURLX64
}

// ClientFactory opens an S3 client for a bucket
type ClientFactory func(ctx context.Context, bucket string) (*Client, error)

// PackageSource downloads and verifies the runtime package
type PackageSource struct {
	URL       string
	SHA256    string
	Dir       string
	Validator *security.Validator
	HTTP      *http.Client
	S3        ClientFactory
}

var _ install.PackageSource = (*PackageSource)(nil)

// NewPackageSource creates a source for url, defaulting to the host architecture's package
func NewPackageSource(url, sha, dir string, validator *security.Validator, s3 ClientFactory) *PackageSource {
	if url == "" {
		url = DefaultPackageURL(runtime.GOARCH)
	}
	return &PackageSource{
		URL:       url,
		SHA256:    sha,
		Dir:       dir,
		Validator: validator,
		HTTP:      http.DefaultClient,
		S3:        s3,
	}
}

// Fetch downloads the package into Dir and verifies it
func (p *PackageSource) Fetch(ctx context.Context) (string, error) {
	if err := os.MkdirAll(p.Dir, 0755); err != nil {
		return "", errors.Wrap(err, "failed to create download directory")
	}
	dest := filepath.Join(p.Dir, PackageFileName)

	u, err := url.Parse(p.URL)
	if err != nil {
		return "", errors.Wrap(err, "invalid package url")
	}

	slog.Info("package_fetch_start", "url", p.URL, "dest", dest)

	var res *DownloadResult
	switch u.Scheme {
	case "s3":
		res, err = p.fetchS3(ctx, u, dest)
	case "https", "http":
		res, err = p.fetchHTTP(ctx, dest)
	default:
		return "", fmt.Errorf("unsupported package url scheme %q", u.Scheme)
	}
	if err != nil {
		os.Remove(dest)
		return "", err
	}

	if p.Validator != nil {
		if err := p.Validator.ValidateSize(res.Size); err != nil {
			os.Remove(dest)
			return "", err
		}
		if err := p.Validator.ValidateChecksum(p.SHA256, res.SHA256); err != nil {
			os.Remove(dest)
			return "", err
		}
	}

	slog.Info("package_fetch_complete", "path", dest, "size_bytes", res.Size)
	return dest, nil
}

func (p *PackageSource) fetchS3(ctx context.Context, u *url.URL, dest string) (*DownloadResult, error) {
	if p.S3 == nil {
		return nil, errors.New("no S3 client configured")
	}
	client, err := p.S3(ctx, u.Host)
	if err != nil {
		return nil, err
	}
	return client.Download(ctx, strings.TrimPrefix(u.Path, "/"), dest)
}

func (p *PackageSource) fetchHTTP(ctx context.Context, dest string) (*DownloadResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build request")
	}

	client := p.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		slog.Error("http_download_failed", "url", p.URL, "error", err)
		return nil, errors.Wrap(err, "failed to download package")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("package download returned %s", resp.Status)
	}

	var body io.Reader = resp.Body
	if p.Validator != nil {
		p.Validator.Reset()
		body = &countingReader{r: resp.Body, v: p.Validator}
	}
	return writeWithChecksum(body, dest)
}

// Cleanup removes a downloaded package. A missing file is not an error.
func (p *PackageSource) Cleanup(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "failed to remove package")
	}
	slog.Info("package_removed", "path", path)
	return nil
}

// countingReader enforces the size ceiling while a download streams
type countingReader struct {
	r io.Reader
	v *security.Validator
}

func (c *countingReader) Read(b []byte) (int, error) {
	n, err := c.r.Read(b)
	if n > 0 {
		if verr := c.v.AddReceivedSize(int64(n)); verr != nil {
			return n, verr
		}
	}
	return n, err
}
