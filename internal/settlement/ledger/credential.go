package ledger

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
)

// CredentialSource produz uma credencial de transferência nova a cada chamada.
// O núcleo de liquidação depende só desta capacidade, nunca do segredo em si.
type CredentialSource interface {
	Credential(ctx context.Context) (string, error)
}

// EntitySecretCredentials cifra o entity secret com a chave pública do ledger (RSA-OAEP/SHA-256).
// O segredo em bytes só existe durante a chamada que precisa dele.
type EntitySecretCredentials struct {
	publicKey *rsa.PublicKey
	secretHex string
}

var _ CredentialSource = (*EntitySecretCredentials)(nil)

// NewEntitySecretCredentials valida a chave pública PEM e o segredo hex (32 bytes)
func NewEntitySecretCredentials(publicKeyPEM, secretHex string) (*EntitySecretCredentials, error) {
	pub, err := parsePublicKey(publicKeyPEM)
	if err != nil {
		return nil, err
	}
	secret, err := decodeSecret(secretHex)
	if err != nil {
		return nil, err
	}
	clear(secret)
	return &EntitySecretCredentials{publicKey: pub, secretHex: secretHex}, nil
}

// Credential devolve o ciphertext em base64 para o campo entitySecretCipherText
func (c *EntitySecretCredentials) Credential(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	secret, err := decodeSecret(c.secretHex)
	if err != nil {
		return "", err
	}
	defer clear(secret)

	cipherText, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, c.publicKey, secret, nil)
	if err != nil {
		return "", fmt.Errorf("encrypt entity secret: %w", err)
	}
	return base64.StdEncoding.EncodeToString(cipherText), nil
}

func decodeSecret(secretHex string) ([]byte, error) {
	secret, err := hex.DecodeString(secretHex)
	if err != nil {
		return nil, fmt.Errorf("entity secret: %w", err)
	}
	if len(secret) != 32 {
		clear(secret)
		return nil, fmt.Errorf("entity secret: expected 32 bytes, got %d", len(secret))
	}
	return secret, nil
}

func parsePublicKey(publicKeyPEM string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(publicKeyPEM))
	if block == nil {
		return nil, errors.New("ledger public key: no PEM block found")
	}
	if key, err := x509.ParsePKIXPublicKey(block.Bytes); err == nil {
		rsaKey, ok := key.(*rsa.PublicKey)
		if !ok {
			return nil, fmt.Errorf("ledger public key: expected RSA key, got %T", key)
		}
		return rsaKey, nil
	}
	key, err := x509.ParsePKCS1PublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("ledger public key: %w", err)
	}
	return key, nil
}
