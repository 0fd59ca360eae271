// Command bboxd is the client backup daemon: it reads a YAML config
// file, dials the store over TLS, and repeatedly syncs every
// configured location, exposing a control socket for the usual
// sync/force-sync/reload/terminate commands. Grounded on
// BackupDaemon.cpp's startup sequence (load config, load keys, dial
// store, open command socket, then loop) and on the teacher's own
// flag-driven, config-file-first main functions.
package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"boxbackup.io/box"
	"boxbackup.io/boxcrypto"
	"boxbackup.io/boxlog"
	"boxbackup.io/client/control"
	"boxbackup.io/client/rpcstore"
	"boxbackup.io/client/sync"
	"boxbackup.io/config"
)

var (
	configPath = flag.String("config", "/etc/bboxd/bboxd.conf", "path to the daemon's YAML config file")
	logLevel   = flag.String("log", "info", "log level: debug, info, error, disabled")
)

func main() {
	flag.Parse()
	setLogLevel(*logLevel)

	cfg, err := config.Load(*configPath)
	if err != nil {
		boxlog.Error.Fatalf("bboxd: %v", err)
	}

	keyData, err := os.ReadFile(cfg.KeysFile)
	if err != nil {
		boxlog.Error.Fatalf("bboxd: reading KeysFile: %v", err)
	}
	keys, err := boxcrypto.Load(keyData)
	if err != nil {
		boxlog.Error.Fatalf("bboxd: KeysFile: %v", err)
	}

	store, err := dialStore(cfg, keys)
	if err != nil {
		boxlog.Error.Fatalf("bboxd: connecting to store: %v", err)
	}

	daemon := sync.NewDaemon(cfg, *configPath, keys, store, boxlog.Info)

	summary := func() string {
		return fmt.Sprintf("bbackupd: %d %d %d %d",
			boolToInt(cfg.AutomaticBackup), cfg.UpdateStoreIntervalSeconds,
			cfg.MinimumFileAgeSeconds, cfg.MaxUploadWaitSeconds)
	}
	ctlServer, err := control.Listen(cfg.CommandSocket, daemon, summary, boxlog.Info)
	if err != nil {
		boxlog.Error.Fatalf("bboxd: opening command socket: %v", err)
	}
	go func() {
		if err := ctlServer.Serve(); err != nil {
			boxlog.Info.Printf("bboxd: command socket closed: %v", err)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigs
		boxlog.Info.Printf("bboxd: received signal, shutting down")
		ctlServer.Close()
		cancel()
	}()

	onCycle := func(start bool) {
		if start {
			ctlServer.SetState(stateSyncing)
			ctlServer.NotifySyncStart()
		} else {
			ctlServer.SetState(stateIdle)
			ctlServer.NotifySyncFinish()
		}
	}

	if err := daemon.Run(ctx, onCycle); err != nil {
		boxlog.Error.Fatalf("bboxd: %v", err)
	}
}

// State values mirror the original command socket's numeric states
// (idle/syncing/error), reported to connected bboxctl clients.
const (
	stateIdle    = 0
	stateSyncing = 1
)

func dialStore(cfg *config.Config, keys *boxcrypto.Keys) (*rpcstore.Store, error) {
	conn, err := net.Dial("tcp", cfg.StoreHostname)
	if err != nil {
		return nil, err
	}
	tlsConn, err := wrapTLS(conn, cfg)
	if err != nil {
		conn.Close()
		return nil, err
	}
	store, confirmed, err := rpcstore.Dial(tlsConn, keys, box.AccountID(cfg.AccountNumber), true)
	if err != nil {
		tlsConn.Close()
		return nil, err
	}
	boxlog.Info.Printf("bboxd: logged in, marker=%d blocks=%d/%d", confirmed.Marker, confirmed.BlocksUsed, confirmed.BlocksHardLimit)
	return store, nil
}

func wrapTLS(conn net.Conn, cfg *config.Config) (net.Conn, error) {
	host, _, err := net.SplitHostPort(cfg.StoreHostname)
	if err != nil {
		host = cfg.StoreHostname
	}
	tlsConfig := &tls.Config{ServerName: host}
	if cfg.CertificateFile != "" && cfg.PrivateKeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.CertificateFile, cfg.PrivateKeyFile)
		if err != nil {
			return nil, err
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}
	if cfg.TrustedCAsFile != "" {
		pem, err := os.ReadFile(cfg.TrustedCAsFile)
		if err != nil {
			return nil, err
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in %s", cfg.TrustedCAsFile)
		}
		tlsConfig.RootCAs = pool
	}
	tlsConn := tls.Client(conn, tlsConfig)
	if err := tlsConn.Handshake(); err != nil {
		return nil, err
	}
	return tlsConn, nil
}

func setLogLevel(level string) {
	switch level {
	case "debug":
		boxlog.SetLevel(boxlog.Ldebug)
	case "info":
		boxlog.SetLevel(boxlog.Linfo)
	case "error":
		boxlog.SetLevel(boxlog.Lerror)
	case "disabled":
		boxlog.SetLevel(boxlog.Ldisabled)
	default:
		boxlog.Error.Fatalf("bboxd: bad -log level %q", level)
	}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
