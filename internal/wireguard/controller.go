package wireguard

import (
	"context"
	"encoding/base64"
	"fmt"
)

// WGController abstracts OS-level WireGuard operations for testability.
type WGController interface {
	CreateInterface(name string, privateKey []byte, listenPort int) error
	// DeleteInterface deletes the named WireGuard interface.
	// Implementations must be idempotent: deleting a non-existent interface must return nil.
	DeleteInterface(name string) error
	ConfigureAddress(name string, address string) error
	SetInterfaceUp(name string) error
	SetMTU(name string, mtu int) error
	AddPeer(iface string, cfg PeerConfig) error
	RemovePeer(iface string, publicKey []byte) error
}

// LatencyProber is an optional WGController capability: measuring ICMP
// round-trip time to an overlay peer's virtual IP. A controller that
// implements this is used by Manager.MeasureLatency.
type LatencyProber interface {
	// MeasureLatency sends up to samples ICMP echo requests to virtualIP
	// and returns the median RTT of successful replies in milliseconds,
	// or nil if every probe failed.
	MeasureLatency(ctx context.Context, virtualIP string, samples int) (*float64, error)
}

// PublicKeyer is an optional WGController capability: reporting the
// host's own WireGuard public key, needed by PartyRuntime to publish it
// to the control plane.
type PublicKeyer interface {
	PublicKey() ([]byte, error)
}

// PeerConfig holds the WireGuard-native configuration for a single peer.
type PeerConfig struct {
	PublicKey           []byte
	Endpoint            string
	AllowedIPs          []string
	PSK                 []byte // nil if no PSK
	PersistentKeepalive int
}

// DecodePublicKey decodes a peer's base64-encoded WireGuard public key, as
// published in api.PeerIdentity.PublicKey.
func DecodePublicKey(publicKeyB64 string) ([]byte, error) {
	pubKey, err := base64.StdEncoding.DecodeString(publicKeyB64)
	if err != nil {
		return nil, fmt.Errorf("wireguard: decode public key: %w", err)
	}
	return pubKey, nil
}

// PeerConfigForVirtualIP builds a WireGuardPeerConfig-shaped PeerConfig for
// a peer whose overlay traffic is confined to its single /32 virtual
// address: allowed_ips is exactly {virtualIP/32}, per spec — this host
// never routes non-overlay traffic through the tunnel.
func PeerConfigForVirtualIP(publicKey []byte, endpoint, virtualIP string, persistentKeepalive int) PeerConfig {
	return PeerConfig{
		PublicKey:           publicKey,
		Endpoint:            endpoint,
		AllowedIPs:          []string{virtualIP + "/32"},
		PersistentKeepalive: persistentKeepalive,
	}
}

func encodePublicKey(publicKey []byte) string {
	return base64.StdEncoding.EncodeToString(publicKey)
}

func decodePublicKeyOrEmpty(publicKeyB64 string) ([]byte, error) {
	if publicKeyB64 == "" {
		return nil, nil
	}
	return base64.StdEncoding.DecodeString(publicKeyB64)
}
