//go:build !tsnet

package plugins

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/peopleinfo/pocketpaw/internal/config"
)

// ListenTailscale is the default build's stub: tsnet pulls in a large
// dependency tree (wireguard-go, DERP client, netstack), so it's opt-in via
// `go build -tags tsnet` rather than always linked.
func ListenTailscale(ctx context.Context, cfg config.TailscaleConfig, handler http.Handler) (io.Closer, error) {
	return nil, fmt.Errorf("plugins: built without -tags tsnet, cannot join tailnet %q", cfg.Hostname)
}
