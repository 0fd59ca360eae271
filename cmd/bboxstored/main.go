// Command bboxstored is the store server: it accepts boxproto
// connections, dispatches them against an objectstore.Store backend,
// and runs periodic housekeeping sweeps. Grounded on
// cmd/storeserver's flag-driven backend switch and TLS setup, adapted
// from an HTTP/gRPC front end to a raw framed-protocol listener since
// boxproto is its own wire format, not an RPC layer carried over
// HTTP.
package main

import (
	"context"
	"crypto/tls"
	"flag"
	"fmt"
	"os"
	"time"

	"cloud.google.com/go/storage"
	"rsc.io/letsencrypt"

	"boxbackup.io/account"
	"boxbackup.io/box"
	"boxbackup.io/boxcrypto"
	"boxbackup.io/boxlog"
	"boxbackup.io/housekeeping"
	"boxbackup.io/objectstore"
	"boxbackup.io/objectstore/gcsstore"
	"boxbackup.io/objectstore/memstore"
	"boxbackup.io/storesrv"
)

var (
	addr       = flag.String("addr", ":2201", "address to listen on")
	accountDir = flag.String("account_dir", "", "directory holding account-<n>.json records")
	kind       = flag.String("kind", "memstore", "object store backend: memstore or gcs")
	bucket     = flag.String("bucket", "", "GCS bucket name, required when -kind=gcs")
	keysFile   = flag.String("keys_file", "", "path to the account's key material file, required for GetFile patch-chain resolution")
	certFile   = flag.String("cert_file", "", "TLS certificate file; if empty, Let's Encrypt provisions one")
	keyFile    = flag.String("key_file", "", "TLS private key file, paired with -cert_file")
	leCache    = flag.String("letsencrypt_cache", "", "Let's Encrypt cache file; used when -cert_file is empty")
	sweepEvery = flag.Duration("sweep_interval", time.Hour, "how often to run a housekeeping sweep per account")
	logLevel   = flag.String("log", "info", "log level: debug, info, error, disabled")
)

func main() {
	flag.Parse()
	setLogLevel(*logLevel)

	if *accountDir == "" {
		boxlog.Error.Fatal("bboxstored: -account_dir is required")
	}

	store, err := openStore(context.Background(), *kind, *bucket)
	if err != nil {
		boxlog.Error.Fatalf("bboxstored: %v", err)
	}

	var keys *boxcrypto.Keys
	if *keysFile != "" {
		data, err := os.ReadFile(*keysFile)
		if err != nil {
			boxlog.Error.Fatalf("bboxstored: reading -keys_file: %v", err)
		}
		keys, err = boxcrypto.Load(data)
		if err != nil {
			boxlog.Error.Fatalf("bboxstored: -keys_file: %v", err)
		}
	}

	tlsConfig, err := tlsConfig(*certFile, *keyFile, *leCache)
	if err != nil {
		boxlog.Error.Fatalf("bboxstored: TLS setup: %v", err)
	}

	ln, err := tls.Listen("tcp", *addr, tlsConfig)
	if err != nil {
		boxlog.Error.Fatalf("bboxstored: listen on %s: %v", *addr, err)
	}
	boxlog.Info.Printf("bboxstored: listening on %s (backend=%s)", *addr, *kind)

	go runHousekeeping(store, keys, *accountDir, *sweepEvery)

	locks := storesrv.NewWriteLocks()
	loadAccount := func(id box.AccountID) (*box.Account, error) { return account.Load(*accountDir, id) }
	saveAccount := func(a *box.Account) error { return account.Save(*accountDir, a) }

	for {
		conn, err := ln.Accept()
		if err != nil {
			boxlog.Error.Printf("bboxstored: accept: %v", err)
			continue
		}
		go func() {
			defer conn.Close()
			if err := storesrv.Serve(context.Background(), conn, locks, store, keys, loadAccount, saveAccount); err != nil {
				boxlog.Info.Printf("bboxstored: connection from %s ended: %v", conn.RemoteAddr(), err)
			}
		}()
	}
}

func openStore(ctx context.Context, kind, bucket string) (objectstore.Store, error) {
	switch kind {
	case "memstore":
		return memstore.New(), nil
	case "gcs":
		if bucket == "" {
			return nil, fmt.Errorf("-bucket is required when -kind=gcs")
		}
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("creating GCS client: %w", err)
		}
		return gcsstore.New(client, bucket), nil
	default:
		return nil, fmt.Errorf("bad -kind %q", kind)
	}
}

// tlsConfig mirrors cloud/https.ListenAndServe's two-way split between
// a static certificate pair and a Let's Encrypt-managed one, minus
// the GCE-metadata-bucket path that front end doesn't need here.
func tlsConfig(certFile, keyFile, leCacheFile string) (*tls.Config, error) {
	if certFile != "" {
		cert, err := tls.LoadX509KeyPair(certFile, keyFile)
		if err != nil {
			return nil, err
		}
		return &tls.Config{Certificates: []tls.Certificate{cert}}, nil
	}
	if leCacheFile == "" {
		return nil, fmt.Errorf("one of -cert_file or -letsencrypt_cache is required")
	}
	var m letsencrypt.Manager
	if err := m.CacheFile(leCacheFile); err != nil {
		return nil, err
	}
	return &tls.Config{GetCertificate: m.GetCertificate}, nil
}

// runHousekeeping sweeps every account record found in accountDir on a
// fixed interval. A real deployment would want a work queue rather
// than a directory scan, but account counts for a single store server
// are small enough that this stays simple, matching the original
// daemon's single-process housekeeping pass.
func runHousekeeping(store objectstore.Store, keys *boxcrypto.Keys, accountDir string, interval time.Duration) {
	sweeper := &housekeeping.Sweeper{Store: store, Keys: keys}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for range ticker.C {
		entries, err := os.ReadDir(accountDir)
		if err != nil {
			boxlog.Error.Printf("housekeeping: reading %s: %v", accountDir, err)
			continue
		}
		for _, e := range entries {
			id, ok := accountIDFromRecordName(e.Name())
			if !ok {
				continue
			}
			acct, err := account.Load(accountDir, id)
			if err != nil {
				boxlog.Error.Printf("housekeeping: loading account %d: %v", id, err)
				continue
			}
			report, err := sweeper.Sweep(context.Background(), acct, box.RootDirectory, housekeeping.Options{})
			if err != nil {
				boxlog.Error.Printf("housekeeping: sweeping account %d: %v", id, err)
				continue
			}
			if err := account.Save(accountDir, acct); err != nil {
				boxlog.Error.Printf("housekeeping: saving account %d: %v", id, err)
				continue
			}
			boxlog.Info.Printf("housekeeping: account %d: merged=%d deleted=%d notify=%v", id, report.Merged, report.Deleted, report.Notify)
		}
	}
}

func accountIDFromRecordName(name string) (box.AccountID, bool) {
	var id uint32
	if n, err := fmt.Sscanf(name, "account-%d.json", &id); err != nil || n != 1 {
		return 0, false
	}
	return box.AccountID(id), true
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
		boxlog.Error.Fatalf("bboxstored: bad -log level %q", level)
	}
}
