// Package identity manages the host's persistent WireGuard keypair and the
// stable peer id derived from it.
package identity

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/curve25519"
)

// Keypair holds a Curve25519 keypair used both for WireGuard data-plane
// encryption and as the source of this host's stable peer id.
type Keypair struct {
	PrivateKey []byte // 32 bytes, never logged
	PublicKey  []byte // 32 bytes
}

// GenerateKeypair generates a new Curve25519 keypair.
func GenerateKeypair() (*Keypair, error) {
	privateKey := make([]byte, 32)
	if _, err := rand.Read(privateKey); err != nil {
		return nil, fmt.Errorf("identity: generate keypair: %w", err)
	}

	// Clamp the private key per Curve25519.
	privateKey[0] &^= 0x07
	privateKey[31] &^= 0x80
	privateKey[31] |= 0x40

	publicKey, err := curve25519.X25519(privateKey, curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("identity: derive public key: %w", err)
	}

	return &Keypair{
		PrivateKey: privateKey,
		PublicKey:  publicKey,
	}, nil
}

// EncodePublicKey returns the standard base64 encoding of the public key,
// the form the wire protocol and WireGuard peer config expect.
func (k *Keypair) EncodePublicKey() string {
	return base64.StdEncoding.EncodeToString(k.PublicKey)
}
