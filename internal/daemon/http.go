package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	gerrors "git.home.luguber.info/inful/ghillie/internal/errors"
	"git.home.luguber.info/inful/ghillie/internal/logfields"
	"git.home.luguber.info/inful/ghillie/internal/metrics"
)

// httpState holds the daemon-owned listeners and their resolved addresses.
type httpState struct {
	apiServer     *http.Server
	metricsServer *http.Server
	apiAddr       string
	metricsAddr   string
}

// startHTTP pre-binds every required port so startup fails fast with one
// aggregate error instead of partially initialized servers.
func (d *Daemon) startHTTP() error {
	type preBind struct {
		name string
		addr string
		ln   net.Listener
	}
	binds := []preBind{{name: "api", addr: d.cfg.ListenAddr()}}
	if d.cfg.MetricsEnabled {
		binds = append(binds, preBind{name: "metrics", addr: d.cfg.MetricsAddr()})
	}

	var bindErrs []error
	for i := range binds {
		ln, err := net.Listen("tcp", binds[i].addr)
		if err != nil {
			bindErrs = append(bindErrs, fmt.Errorf("%s listener %s: %w", binds[i].name, binds[i].addr, err))
			continue
		}
		binds[i].ln = ln
	}
	if len(bindErrs) > 0 {
		for _, b := range binds {
			if b.ln != nil {
				_ = b.ln.Close()
			}
		}
		return gerrors.Wrap(errors.Join(bindErrs...), gerrors.CategoryDaemon, gerrors.SeverityFatal,
			"http startup failed")
	}

	// The on-demand report run holds its connection through a full model
	// call, so the API write timeout must outlast the model timeout.
	writeTimeout := d.cfg.OpenAITimeout + 30*time.Second
	d.httpState.apiServer = &http.Server{
		Handler:      d.api.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: writeTimeout,
		IdleTimeout:  120 * time.Second,
	}
	d.httpState.apiAddr = binds[0].ln.Addr().String()
	d.serve(d.httpState.apiServer, binds[0].ln, "api")

	if d.cfg.MetricsEnabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.HTTPHandler(d.promRegistry))
		d.httpState.metricsServer = &http.Server{
			Handler:      mux,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  120 * time.Second,
		}
		d.httpState.metricsAddr = binds[1].ln.Addr().String()
		d.serve(d.httpState.metricsServer, binds[1].ln, "metrics")
	}

	d.logger.Info("HTTP servers started",
		slog.String("api_addr", d.httpState.apiAddr),
		slog.String("metrics_addr", d.httpState.metricsAddr))
	return nil
}

func (d *Daemon) serve(srv *http.Server, ln net.Listener, name string) {
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			d.logger.Error("HTTP server error", slog.String("listener", name), logfields.Error(err))
		}
	}()
}

// stopHTTP shuts the listeners down in reverse start order.
func (d *Daemon) stopHTTP(ctx context.Context) error {
	var errs []error
	if d.httpState.metricsServer != nil {
		if err := d.httpState.metricsServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("metrics server shutdown: %w", err))
		}
	}
	if d.httpState.apiServer != nil {
		if err := d.httpState.apiServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("api server shutdown: %w", err))
		}
	}
	return errors.Join(errs...)
}
