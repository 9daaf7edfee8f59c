package wrap

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"
)

// AWSKMSProvider wraps keystore blobs with an AWS KMS key.
type AWSKMSProvider struct {
	keyID  string
	client *kms.Client
}

// NewAWSKMSProvider creates a new AWS KMS provider. Credentials come from the
// default chain: env vars, shared config, IAM role.
func NewAWSKMSProvider(keyID, region string) (*AWSKMSProvider, error) {
	if keyID == "" {
		return nil, fmt.Errorf("AWS KMS key ID is required")
	}
	if region == "" {
		return nil, fmt.Errorf("AWS region is required")
	}

	cfg, err := config.LoadDefaultConfig(context.Background(), config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &AWSKMSProvider{
		keyID:  keyID,
		client: kms.NewFromConfig(cfg),
	}, nil
}

// Wrap encrypts data using AWS KMS
func (p *AWSKMSProvider) Wrap(ctx context.Context, data []byte) ([]byte, error) {
	output, err := p.client.Encrypt(ctx, &kms.EncryptInput{
		KeyId:     aws.String(p.keyID),
		Plaintext: data,
	})
	if err != nil {
		return nil, fmt.Errorf("AWS KMS encrypt failed: %w", err)
	}
	return output.CiphertextBlob, nil
}

// Unwrap decrypts data using AWS KMS
func (p *AWSKMSProvider) Unwrap(ctx context.Context, wrapped []byte) ([]byte, error) {
	output, err := p.client.Decrypt(ctx, &kms.DecryptInput{
		KeyId:          aws.String(p.keyID),
		CiphertextBlob: wrapped,
	})
	if err != nil {
		return nil, fmt.Errorf("AWS KMS decrypt failed: %w", err)
	}
	return output.Plaintext, nil
}

// Name returns the provider name
func (p *AWSKMSProvider) Name() string { return ProviderAWSKMS }
