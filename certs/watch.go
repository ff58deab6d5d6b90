package certs

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
)

// Watcher serves an operator-supplied certificate/key pair from disk and
// hot-reloads it on change, so rotating a certificate does not require
// restarting the relay.
type Watcher struct {
	certFile, keyFile string
	log               *slog.Logger
	current           atomic.Pointer[tls.Certificate]
	watcher           *fsnotify.Watcher
}

// WatchFile loads certFile/keyFile and begins watching both for writes. The
// returned Watcher's GetCertificate is suitable for tls.Config.
func WatchFile(certFile, keyFile string, log *slog.Logger) (*Watcher, error) {
	if log == nil {
		log = slog.Default()
	}
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("certs: load key pair: %w", err)
	}

	w := &Watcher{certFile: certFile, keyFile: keyFile, log: log.With("component", "certs")}
	w.current.Store(&cert)

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("certs: new watcher: %w", err)
	}
	if err := fw.Add(certFile); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("certs: watch cert file: %w", err)
	}
	if err := fw.Add(keyFile); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("certs: watch key file: %w", err)
	}
	w.watcher = fw

	go w.run()
	return w, nil
}

func (w *Watcher) run() {
	for {
		select {
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.reload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Warn("certificate watch error", "error", err)
		}
	}
}

func (w *Watcher) reload() {
	cert, err := tls.LoadX509KeyPair(w.certFile, w.keyFile)
	if err != nil {
		w.log.Warn("certificate reload failed, keeping previous identity", "error", err)
		return
	}
	w.current.Store(&cert)
	w.log.Info("certificate reloaded", "cert_file", w.certFile)
}

// GetCertificate implements the signature tls.Config.GetCertificate expects.
func (w *Watcher) GetCertificate(_ *tls.ClientHelloInfo) (*tls.Certificate, error) {
	return w.current.Load(), nil
}

// Close stops watching the underlying files.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}
