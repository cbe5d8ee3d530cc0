package fhir

import (
	"context"
	"crypto/sha512"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/kms/types"
	"github.com/lestrrat-go/jwx/v3/jwa"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockKMSClient struct {
	signFunc func(ctx context.Context, in *kms.SignInput, optFns ...func(*kms.Options)) (*kms.SignOutput, error)
}

func (m *mockKMSClient) Sign(ctx context.Context, in *kms.SignInput, optFns ...func(*kms.Options)) (*kms.SignOutput, error) {
	return m.signFunc(ctx, in, optFns...)
}

func TestKMSSigner_Algorithm(t *testing.T) {
	signer := kmsSigner{}
	assert.Equal(t, jwa.RS384(), signer.Algorithm())
}

func TestKMSSigner_Sign(t *testing.T) {
	expectedSignature := []byte("kms-signature-bytes")
	mockClient := &mockKMSClient{
		signFunc: func(ctx context.Context, in *kms.SignInput, optFns ...func(*kms.Options)) (*kms.SignOutput, error) {
			assert.Equal(t, "arn:aws:kms:us-east-1:123456789:key/test-key", *in.KeyId)
			assert.Equal(t, types.MessageTypeDigest, in.MessageType)
			assert.Equal(t, types.SigningAlgorithmSpecRsassaPkcs1V15Sha384, in.SigningAlgorithm)
			assert.Len(t, in.Message, sha512.Size384)

			return &kms.SignOutput{Signature: expectedSignature}, nil
		},
	}

	key := kmsSigningKey{
		ctx:    context.Background(),
		client: mockClient,
		arn:    "arn:aws:kms:us-east-1:123456789:key/test-key",
	}

	signer := kmsSigner{}
	signature, err := signer.Sign(key, []byte("test payload"))

	require.NoError(t, err)
	assert.Equal(t, expectedSignature, signature)
}

func TestKMSSigner_Sign_WrongKeyType(t *testing.T) {
	signer := kmsSigner{}
	_, err := signer.Sign("wrong-key-type", []byte("payload"))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "kmsSigner requires kmsSigningKey")
}

func TestKMSSigner_Sign_KMSError(t *testing.T) {
	mockClient := &mockKMSClient{
		signFunc: func(ctx context.Context, in *kms.SignInput, optFns ...func(*kms.Options)) (*kms.SignOutput, error) {
			return nil, assert.AnError
		},
	}

	key := kmsSigningKey{
		ctx:    context.Background(),
		client: mockClient,
		arn:    "arn:aws:kms:us-east-1:123456789:key/test-key",
	}

	signer := kmsSigner{}
	_, err := signer.Sign(key, []byte("payload"))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "KMS signing failed")
}

func TestDelegatingSigner_UnsupportedKeyType(t *testing.T) {
	signer := &delegatingSigner{kmsSigner: kmsSigner{}}
	_, err := signer.Sign(42, []byte("payload"))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported key type")
}

func TestSignedAssertion_KMSKey(t *testing.T) {
	mockClient := &mockKMSClient{
		signFunc: func(ctx context.Context, in *kms.SignInput, optFns ...func(*kms.Options)) (*kms.SignOutput, error) {
			return &kms.SignOutput{Signature: []byte("kms-signature-bytes")}, nil
		},
	}

	cred := Credential{
		ClientID: "test-client-id",
		KeyID:    "kms-key-1",
		TokenURL: "https://fhir.example.com/oauth2/token",
		signingKey: kmsSigningKey{
			ctx:    context.Background(),
			client: mockClient,
			arn:    "arn:aws:kms:us-east-1:123456789:key/test-key",
		},
	}

	assertion, err := cred.SignedAssertion(time.Now())
	require.NoError(t, err)
	assert.NotEmpty(t, assertion)
}
