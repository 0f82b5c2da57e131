package storage

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/edgeprov/edge-installer/pkg/security"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	payload    = "runtime-package"
	payloadSum = "b9b75389cc44c7e62fca2b0f41c42d3f15ab1527ea8e0b35523c38905df84cfb"
)

type fakeObjects struct {
	bucket, key string
	err         error
}

func (f *fakeObjects) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.bucket, f.key = *in.Bucket, *in.Key
	if f.err != nil {
		return nil, f.err
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader(payload))}, nil
}

func TestDefaultPackageURL(t *testing.T) {
	assert.Equal(t, "https://aka.ms/AzEFLOWMSI_1_5_LTS_ARM64", DefaultPackageURL("arm64"))
	assert.Equal(t, "https://aka.ms/AzEFLOWMSI_1_5_LTS_X64", DefaultPackageURL("amd64"))
}

func TestFetchHTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, payload)
	}))
	defer srv.Close()

	src := NewPackageSource(srv.URL+"/runtime.msi", payloadSum, t.TempDir(), security.NewValidator(1, 0), nil)
	path, err := src.Fetch(context.Background())
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, payload, string(data))
	assert.Equal(t, PackageFileName, filepath.Base(path))

	require.NoError(t, src.Cleanup(path))
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
	require.NoError(t, src.Cleanup(path))
}

func TestFetchHTTPStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	dir := t.TempDir()
	src := NewPackageSource(srv.URL, "", dir, nil, nil)
	_, err := src.Fetch(context.Background())
	require.Error(t, err)

	_, statErr := os.Stat(filepath.Join(dir, PackageFileName))
	assert.True(t, os.IsNotExist(statErr))
}

func TestFetchRejectsSmallPackage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, payload)
	}))
	defer srv.Close()

	dir := t.TempDir()
	src := NewPackageSource(srv.URL, "", dir, security.NewValidator(1_000_000, 0), nil)
	_, err := src.Fetch(context.Background())
	require.Error(t, err)

	_, statErr := os.Stat(filepath.Join(dir, PackageFileName))
	assert.True(t, os.IsNotExist(statErr))
}

func TestFetchRejectsOversizedStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, strings.Repeat("x", 4096))
	}))
	defer srv.Close()

	src := NewPackageSource(srv.URL, "", t.TempDir(), security.NewValidator(1, 1024), nil)
	_, err := src.Fetch(context.Background())
	require.Error(t, err)
}

func TestFetchChecksumMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, payload)
	}))
	defer srv.Close()

	src := NewPackageSource(srv.URL, strings.Repeat("0", 64), t.TempDir(), security.NewValidator(1, 0), nil)
	_, err := src.Fetch(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "checksum mismatch")
}

func TestFetchS3(t *testing.T) {
	objects := &fakeObjects{}
	factory := func(_ context.Context, bucket string) (*Client, error) {
		return NewClientWithAPI(objects, bucket), nil
	}

	src := NewPackageSource("s3://edge-packages/eflow/runtime.msi", payloadSum, t.TempDir(), security.NewValidator(1, 0), factory)
	path, err := src.Fetch(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "edge-packages", objects.bucket)
	assert.Equal(t, "eflow/runtime.msi", objects.key)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, payload, string(data))
}

func TestFetchS3Error(t *testing.T) {
	objects := &fakeObjects{err: errors.New("access denied")}
	factory := func(_ context.Context, bucket string) (*Client, error) {
		return NewClientWithAPI(objects, bucket), nil
	}

	src := NewPackageSource("s3://edge-packages/runtime.msi", "", t.TempDir(), nil, factory)
	_, err := src.Fetch(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "access denied")
}

func TestFetchUnsupportedScheme(t *testing.T) {
	src := NewPackageSource("ftp://example.com/runtime.msi", "", t.TempDir(), nil, nil)
	_, err := src.Fetch(context.Background())
	require.Error(t, err)

	src = NewPackageSource("s3://bucket/key", "", t.TempDir(), nil, nil)
	_, err = src.Fetch(context.Background())
	require.Error(t, err)
}
