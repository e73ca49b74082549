package s3

import (
	"blobkit/internal/infra/blob/sigv4"

	aws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
)

type credentialKind int

const (
	credentialDefault credentialKind = iota // SDK default chain
	credentialAnonymous
	credentialSharedKey
	credentialToken
)

// Credential selects how requests are authenticated. Only a shared key can
// mint signed URLs.
type Credential struct {
	kind     credentialKind
	key      sigv4.Key
	provider aws.CredentialsProvider
}

// AnonymousCredential sends unsigned requests.
func AnonymousCredential() Credential { return Credential{kind: credentialAnonymous} }

// SharedKeyCredential signs requests with a static access key pair.
func SharedKeyCredential(accessKeyID, secretAccessKey string) Credential {
	return Credential{kind: credentialSharedKey, key: sigv4.Key{ID: accessKeyID, Secret: secretAccessKey}}
}

// TokenCredential signs requests with credentials fetched from p, e.g. an
// STS or SSO provider.
func TokenCredential(p aws.CredentialsProvider) Credential {
	return Credential{kind: credentialToken, provider: p}
}

func (c Credential) credentialsProvider() aws.CredentialsProvider {
	switch c.kind {
	case credentialAnonymous:
		return aws.AnonymousCredentials{}
	case credentialSharedKey:
		return credentials.NewStaticCredentialsProvider(c.key.ID, c.key.Secret, "")
	case credentialToken:
		return c.provider
	}
	return nil
}

// signingKey is empty unless the credential is a shared key.
func (c Credential) signingKey() sigv4.Key {
	if c.kind != credentialSharedKey {
		return sigv4.Key{}
	}
	return c.key
}
