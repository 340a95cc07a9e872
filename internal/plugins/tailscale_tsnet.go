//go:build tsnet

package plugins

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"

	"tailscale.com/tsnet"

	"github.com/peopleinfo/pocketpaw/internal/config"
)

// ListenTailscale joins the tailnet described by cfg and serves handler over
// it — the build-tag-gated alternative to a localhost-only proxy the spec
// calls out for the Plugin Supervisor's HTTP proxy. Built with
// `go build -tags tsnet`, matching the teacher's own tsnet gate.
func ListenTailscale(ctx context.Context, cfg config.TailscaleConfig, handler http.Handler) (io.Closer, error) {
	if cfg.Hostname == "" {
		return nil, fmt.Errorf("plugins: tailscale hostname not configured")
	}

	srv := &tsnet.Server{
		Hostname:  cfg.Hostname,
		Dir:       cfg.StateDir,
		AuthKey:   cfg.AuthKey,
		Ephemeral: cfg.Ephemeral,
	}

	network := "tcp"
	addr := ":80"
	var ln net.Listener
	var err error
	if cfg.EnableTLS {
		ln, err = srv.ListenTLS(network, ":443")
	} else {
		ln, err = srv.Listen(network, addr)
	}
	if err != nil {
		srv.Close()
		return nil, fmt.Errorf("tsnet listen: %w", err)
	}

	go http.Serve(ln, handler)

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	return srv, nil
}
