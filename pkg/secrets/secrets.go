// Package secrets resolves the enrollment key and derives per-device keys from it.
package secrets

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/edgeprov/edge-installer/pkg/errors"
	"github.com/edgeprov/edge-installer/pkg/install"
)

// Source resolves the group enrollment key
type Source interface {
	EnrollmentKey(ctx context.Context) (string, error)
}

// StaticSource returns a key from configuration
type StaticSource struct {
	Key string
}

func (s StaticSource) EnrollmentKey(context.Context) (string, error) {
	if strings.TrimSpace(s.Key) == "" {
		return "", errors.New("enrollment key is not configured")
	}
	return s.Key, nil
}

// SecretsManagerAPI is the subset of the Secrets Manager client in use
type SecretsManagerAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// AWSSource reads the key from AWS Secrets Manager
type AWSSource struct {
	SecretID string
	API      SecretsManagerAPI
}

// NewAWSSource creates a Secrets Manager backed source
func NewAWSSource(ctx context.Context, secretID, region string) (*AWSSource, error) {
	if region == "" {
		region = "us-west-2"
	}

	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		slog.Error("aws_config_load_failed", "error", err)
		return nil, errors.Wrap(err, "failed to load AWS config")
	}

	return &AWSSource{
		SecretID: secretID,
		API:      secretsmanager.NewFromConfig(cfg),
	}, nil
}

func (s *AWSSource) EnrollmentKey(ctx context.Context) (string, error) {
	slog.Info("secret_fetch", "secret_id", s.SecretID)

	out, err := s.API.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(s.SecretID),
	})
	if err != nil {
		slog.Error("secret_fetch_failed", "secret_id", s.SecretID, "error", err)
		return "", errors.Wrap(err, "failed to read enrollment key")
	}
	if out.SecretString == nil || *out.SecretString == "" {
		return "", errors.New("enrollment key secret is empty")
	}
	return *out.SecretString, nil
}

// DeriveKey computes base64(HMAC-SHA256(decoded enrollment key, registration id))
func DeriveKey(enrollmentKey, registrationID string) (string, error) {
	key, err := base64.StdEncoding.DecodeString(strings.TrimSpace(enrollmentKey))
	if err != nil {
		return "", errors.Wrap(err, "enrollment key is not valid base64")
	}

	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(registrationID))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil)), nil
}

// Deriver derives device keys from a Source
type Deriver struct {
	Source Source
}

var _ install.KeyDeriver = (*Deriver)(nil)

func (d *Deriver) Derive(ctx context.Context, registrationID string) (string, error) {
	enrollment, err := d.Source.EnrollmentKey(ctx)
	if err != nil {
		return "", err
	}
	return DeriveKey(enrollment, registrationID)
}
