package broadcast

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/coff33ninja/lanrage/internal/fsutil"
)

// WhitelistEntry is one user-configured port to always monitor, per
// spec §3's custom_broadcast_ports.json shape.
type WhitelistEntry struct {
	Port     int    `json:"port"`
	Protocol string `json:"protocol"`
}

// Whitelist is the deserialized custom_broadcast_ports.json contents.
type Whitelist struct {
	Ports []WhitelistEntry `json:"ports"`
}

// LoadWhitelist reads path, returning an empty Whitelist if the file does
// not exist.
func LoadWhitelist(path string) (*Whitelist, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Whitelist{}, nil
		}
		return nil, err
	}
	var w Whitelist
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, err
	}
	return &w, nil
}

// Save atomically rewrites path with w's contents (write-temp-then-rename).
func (w *Whitelist) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(w, "", "  ")
	if err != nil {
		return err
	}
	return fsutil.WriteFileAtomic(dir, filepath.Base(path), data, 0644)
}

// ApplyWhitelist registers every entry in w with the forwarder under the
// synthetic whitelist owner tag, so the ports survive game-profile churn.
func (f *Forwarder) ApplyWhitelist(w *Whitelist) {
	for _, entry := range w.Ports {
		if err := f.AddPort(entry.Port, entry.Protocol, whitelistOwner); err != nil {
			f.logger.Warn("broadcast: whitelist port failed",
				"component", "broadcast", "port", entry.Port, "error", err)
		}
	}
}
