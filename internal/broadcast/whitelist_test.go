package broadcast

import (
	"path/filepath"
	"testing"
)

func TestWhitelist_LoadMissingFileReturnsEmpty(t *testing.T) {
	w, err := LoadWhitelist(filepath.Join(t.TempDir(), "does-not-exist.json"))
	if err != nil {
		t.Fatalf("LoadWhitelist: %v", err)
	}
	if len(w.Ports) != 0 {
		t.Fatalf("Ports = %v, want empty", w.Ports)
	}
}

func TestWhitelist_SaveAndLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "custom_broadcast_ports.json")
	w := &Whitelist{Ports: []WhitelistEntry{{Port: 27015, Protocol: "udp"}, {Port: 7777, Protocol: "udp"}}}

	if err := w.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := LoadWhitelist(path)
	if err != nil {
		t.Fatalf("LoadWhitelist: %v", err)
	}
	if len(loaded.Ports) != 2 || loaded.Ports[0].Port != 27015 || loaded.Ports[1].Port != 7777 {
		t.Fatalf("loaded = %+v, want round trip of %+v", loaded.Ports, w.Ports)
	}
}

func TestWhitelist_ApplyRegistersPorts(t *testing.T) {
	f := newTestForwarder(t)
	w := &Whitelist{Ports: []WhitelistEntry{{Port: freePort(t), Protocol: "udp"}}}

	f.ApplyWhitelist(w)

	active := f.ActivePorts()
	if len(active) != 1 || active[0] != w.Ports[0].Port {
		t.Fatalf("ActivePorts = %v, want [%d]", active, w.Ports[0].Port)
	}
}
