package fhir

import (
	"context"
	"crypto/rsa"
	"crypto/sha512"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/kms/types"
	"github.com/lestrrat-go/jwx/v3/jwa"
	"github.com/lestrrat-go/jwx/v3/jwk"
	"github.com/lestrrat-go/jwx/v3/jws"
)

func init() {
	MustRegisterSigner()
}

// MustRegisterSigner registers the delegating signer for RS384. This must
// happen before any assertion is signed; it panics on failure as the process
// cannot produce valid assertions without it.
func MustRegisterSigner() {
	if err := registerDelegatingSigner(); err != nil {
		panic(fmt.Sprintf("failed to initialize delegating signer: %v", err))
	}
}

// KMSClient defines the AWS API surface required for KMS signing.
type KMSClient interface {
	Sign(ctx context.Context, in *kms.SignInput, optFns ...func(*kms.Options)) (*kms.SignOutput, error)
}

// kmsSigningKey is the key value handed to jwt.Sign when the private key is
// held in AWS KMS. It carries the client and key ARN so no key material ever
// enters the process.
type kmsSigningKey struct {
	ctx    context.Context // startup context for cancellation
	client KMSClient
	arn    string
}

// newKMSSigningKey builds a signing key backed by AWS KMS using the ambient
// AWS configuration.
func newKMSSigningKey(ctx context.Context, arn string) (kmsSigningKey, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return kmsSigningKey{}, fmt.Errorf("load AWS configuration: %w", err)
	}

	return kmsSigningKey{
		ctx:    ctx,
		client: kms.NewFromConfig(awsCfg),
		arn:    arn,
	}, nil
}

// kmsSigner implements jws.Signer2 for AWS KMS-based RS384 signing. The
// signing parameters travel in the kmsSigningKey passed to Sign().
type kmsSigner struct{}

func (kmsSigner) Algorithm() jwa.SignatureAlgorithm {
	return jwa.RS384()
}

// Sign performs RS384 signing using AWS KMS. The key parameter must be a
// kmsSigningKey.
func (kmsSigner) Sign(key any, payload []byte) ([]byte, error) {
	k, ok := key.(kmsSigningKey)
	if !ok {
		return nil, fmt.Errorf("kmsSigner requires kmsSigningKey, got %T", key)
	}

	hash := sha512.Sum384(payload)
	out, err := k.client.Sign(k.ctx, &kms.SignInput{
		KeyId:            aws.String(k.arn),
		Message:          hash[:],
		MessageType:      types.MessageTypeDigest,
		SigningAlgorithm: types.SigningAlgorithmSpecRsassaPkcs1V15Sha384,
	})
	if err != nil {
		return nil, fmt.Errorf("KMS signing failed: %w", err)
	}
	return out.Signature, nil
}

// delegatingSigner implements jws.Signer2 and dispatches on key type,
// allowing the same jwt.Sign() call to serve file-loaded RSA keys and
// KMS-held keys.
type delegatingSigner struct {
	builtinRS384 jws.Signer2
	kmsSigner    jws.Signer2
}

func (d *delegatingSigner) Algorithm() jwa.SignatureAlgorithm {
	return jwa.RS384()
}

// Sign dispatches to the built-in signer for *rsa.PrivateKey and jwk.Key,
// and to KMS for kmsSigningKey.
func (d *delegatingSigner) Sign(key any, payload []byte) ([]byte, error) {
	switch k := key.(type) {
	case *rsa.PrivateKey, jwk.Key:
		return d.builtinRS384.Sign(k, payload)
	case kmsSigningKey:
		return d.kmsSigner.Sign(k, payload)
	default:
		return nil, fmt.Errorf("unsupported key type for RS384: %T", key)
	}
}

// registerDelegatingSigner replaces the built-in RS384 signer with the
// delegating signer, capturing the built-in first for the RSA key path.
func registerDelegatingSigner() error {
	builtin, err := jws.SignerFor(jwa.RS384())
	if err != nil {
		return fmt.Errorf("failed to get built-in RS384 signer: %w", err)
	}

	delegating := &delegatingSigner{
		builtinRS384: builtin,
		kmsSigner:    kmsSigner{},
	}
	if err := jws.RegisterSigner(jwa.RS384(), delegating); err != nil {
		return fmt.Errorf("failed to register delegating signer: %w", err)
	}
	return nil
}
