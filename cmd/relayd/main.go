// Command relayd runs a standalone (or optionally clustered) MoQ relay
// over WebTransport/HTTP3.
package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/quic-go/quic-go"
	"github.com/quic-go/quic-go/http3"
	"golang.org/x/sync/errgroup"

	_ "go.uber.org/automaxprocs"

	"github.com/streaming-university/moqrelay/certs"
	"github.com/streaming-university/moqrelay/internal/auth"
	"github.com/streaming-university/moqrelay/internal/cluster"
	"github.com/streaming-university/moqrelay/internal/config"
	"github.com/streaming-university/moqrelay/internal/metrics"
	"github.com/streaming-university/moqrelay/internal/objectlog"
	"github.com/streaming-university/moqrelay/internal/relay"
	"github.com/streaming-university/moqrelay/internal/sysinfo"
	"github.com/streaming-university/moqrelay/internal/webtransport"
)

var version = "dev"

func main() {
	level := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(log)

	cfg, err := config.Load(os.Getenv("ENV_FILE"))
	if err != nil {
		log.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	if err := run(cfg, log); err != nil {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, log *slog.Logger) error {
	tlsConfig, closeCert, err := loadTLS(cfg, log)
	if err != nil {
		return err
	}
	if closeCert != nil {
		defer closeCert()
	}

	r := relay.NewRelay(cfg.RelayConfig(), log)

	rec := metrics.NewRecorder()
	r.Metrics = rec

	if cfg.AuthJWTSecret != "" {
		r.Auth = auth.NewJWTManager(cfg.AuthJWTSecret, time.Hour)
	}

	if cfg.EnableObjectLogging && cfg.LogFolder != "" {
		ol, err := objectlog.New(cfg.LogFolder, func() int64 { return time.Now().UnixMilli() })
		if err != nil {
			return fmt.Errorf("relayd: object log: %w", err)
		}
		defer ol.Close()
		r.ObjectLog = ol
	}

	if cfg.ClusterNATSURL != "" {
		fanout, err := cluster.Connect(cfg.ClusterNATSURL, cfg.ClusterSubject, uuid.NewString(), log)
		if err != nil {
			return fmt.Errorf("relayd: cluster fanout: %w", err)
		}
		defer fanout.Close()
		r.Cluster = fanout
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	wtSrv := &webtransport.Server{
		H3: http3.Server{
			Addr:      addr,
			TLSConfig: tlsConfig,
			QUICConfig: &quic.Config{
				MaxIdleTimeout:  cfg.MaxIdleTimeout,
				KeepAlivePeriod: cfg.KeepAlive,
				Allow0RTT:       true,
			},
		},
		CheckOrigin: func(_ *http.Request) bool {
			return true
		},
	}

	sampler := sysinfo.NewSampler()

	mux := http.NewServeMux()
	mux.HandleFunc("/moq", func(w http.ResponseWriter, req *http.Request) {
		handleMoQ(req.Context(), r, wtSrv, w, req, log)
	})
	mux.Handle("/metrics", rec.Handler())
	mux.HandleFunc("/api/debug", func(w http.ResponseWriter, _ *http.Request) {
		writeDebugSnapshot(w, sampler)
	})
	wtSrv.H3.Handler = mux

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("moqrelay starting", "version", version, "addr", addr)
		if err := wtSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("webtransport server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		return wtSrv.Close()
	})

	return g.Wait()
}

func handleMoQ(ctx context.Context, r *relay.Relay, wtSrv *webtransport.Server, w http.ResponseWriter, req *http.Request, log *slog.Logger) {
	session, err := wtSrv.Upgrade(w, req)
	if err != nil {
		log.Warn("webtransport upgrade failed", "error", err, "remote", req.RemoteAddr)
		return
	}
	if err := r.AcceptSession(ctx, session); err != nil {
		log.Debug("moq session ended", "remote", req.RemoteAddr, "error", err)
	}
}

func loadTLS(cfg config.Config, log *slog.Logger) (*tls.Config, func(), error) {
	if cfg.CertFile != "" && cfg.KeyFile != "" {
		w, err := certs.WatchFile(cfg.CertFile, cfg.KeyFile, log)
		if err != nil {
			return nil, nil, fmt.Errorf("relayd: load operator certificate: %w", err)
		}
		return &tls.Config{GetCertificate: w.GetCertificate}, func() { _ = w.Close() }, nil
	}

	log.Info("no certificate configured, generating a self-signed identity")
	cert, err := certs.Generate(14 * 24 * time.Hour)
	if err != nil {
		return nil, nil, fmt.Errorf("relayd: generate self-signed certificate: %w", err)
	}
	log.Info("certificate generated", "fingerprint", cert.FingerprintBase64(), "expires", cert.NotAfter.Format(time.RFC3339))
	return &tls.Config{Certificates: []tls.Certificate{cert.TLSCert}}, nil, nil
}

func writeDebugSnapshot(w http.ResponseWriter, sampler *sysinfo.Sampler) {
	snap := sampler.Snapshot(200 * time.Millisecond)
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"cpuPercent":%.2f,"memoryUsedMB":%.1f,"heapAllocMB":%.1f,"goroutines":%d}`,
		snap.CPUPercent, snap.MemoryUsedMB, snap.HeapAllocMB, snap.Goroutines)
}
