package identity

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/coff33ninja/lanrage/internal/fsutil"
)

const (
	privateKeyFile = "private.key"
	publicKeyFile  = "public.key"
)

// Identity is the host's persistent WireGuard identity: a peer id, stable
// for the lifetime of the keys directory, and the keypair it was derived
// from.
type Identity struct {
	PeerID  string
	Keypair *Keypair
}

// PeerIDFromPublicKey derives a stable, opaque peer id from a public key.
// The id is not secret — it is published to the control plane alongside
// the public key itself — so a truncated hash is enough to make it
// short and URL-safe without leaking key material beyond what the public
// key already does.
func PeerIDFromPublicKey(publicKey []byte) string {
	sum := sha256.Sum256(publicKey)
	return hex.EncodeToString(sum[:8])
}

// LoadOrCreate loads the keypair persisted under keysDir, generating and
// persisting a new one if absent or unreadable. keysDir is created with
// mode 0700 if it does not exist; private.key is written with mode 0600.
func LoadOrCreate(keysDir string) (*Identity, error) {
	kp, err := loadKeypair(keysDir)
	if err != nil {
		kp, err = GenerateKeypair()
		if err != nil {
			return nil, err
		}
		if err := saveKeypair(keysDir, kp); err != nil {
			return nil, err
		}
	}

	return &Identity{
		PeerID:  PeerIDFromPublicKey(kp.PublicKey),
		Keypair: kp,
	}, nil
}

func loadKeypair(keysDir string) (*Keypair, error) {
	priv, err := os.ReadFile(filepath.Join(keysDir, privateKeyFile))
	if err != nil {
		return nil, fmt.Errorf("identity: read private key: %w", err)
	}
	pub, err := os.ReadFile(filepath.Join(keysDir, publicKeyFile))
	if err != nil {
		return nil, fmt.Errorf("identity: read public key: %w", err)
	}

	privDecoded, err := base64.StdEncoding.DecodeString(string(priv))
	if err != nil {
		return nil, fmt.Errorf("identity: decode private key: %w", err)
	}
	pubDecoded, err := base64.StdEncoding.DecodeString(string(pub))
	if err != nil {
		return nil, fmt.Errorf("identity: decode public key: %w", err)
	}
	if len(privDecoded) != 32 || len(pubDecoded) != 32 {
		return nil, fmt.Errorf("identity: key files have unexpected length")
	}

	return &Keypair{PrivateKey: privDecoded, PublicKey: pubDecoded}, nil
}

func saveKeypair(keysDir string, kp *Keypair) error {
	if err := os.MkdirAll(keysDir, 0700); err != nil {
		return fmt.Errorf("identity: create keys directory: %w", err)
	}

	privEncoded := []byte(base64.StdEncoding.EncodeToString(kp.PrivateKey))
	if err := fsutil.WriteFileAtomic(keysDir, privateKeyFile, privEncoded, 0600); err != nil {
		return fmt.Errorf("identity: save private key: %w", err)
	}

	pubEncoded := []byte(kp.EncodePublicKey())
	if err := fsutil.WriteFileAtomic(keysDir, publicKeyFile, pubEncoded, 0644); err != nil {
		return fmt.Errorf("identity: save public key: %w", err)
	}

	return nil
}
