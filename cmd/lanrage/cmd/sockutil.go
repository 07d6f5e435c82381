package cmd

import (
	"context"
	"fmt"
	"net"
	"net/http"

	"github.com/coff33ninja/lanrage/internal/config"
	"github.com/coff33ninja/lanrage/internal/localapi"
)

// newSocketClient creates an HTTP client that connects via Unix socket.
func newSocketClient(socketPath string) *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			DialContext: func(_ context.Context, _, _ string) (net.Conn, error) {
				return net.Dial("unix", socketPath)
			},
		},
	}
}

// socketGet performs a GET request to the local daemon via Unix socket.
func socketGet(socketPath, path string) (*http.Response, error) {
	client := newSocketClient(socketPath)
	resp, err := client.Get("http://unix" + path)
	if err != nil {
		return nil, fmt.Errorf("daemon not running or socket unavailable at %s: %w", socketPath, err)
	}
	return resp, nil
}

// localAPISocketPath returns the socket path from the config file named
// by --config, falling back to the default socket path when that file
// cannot be read, parsed or validated.
func localAPISocketPath() string {
	cfg, err := config.ParseConfig(cfgFile)
	if err != nil {
		return localapi.DefaultSocketPath
	}
	return cfg.LocalAPI.SocketPath
}
