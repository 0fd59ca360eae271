package sync

import (
	"context"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"boxbackup.io/boxcrypto"
	"boxbackup.io/boxlog"
	"boxbackup.io/config"
)

// Daemon drives repeated sync cycles across every configured backup
// location, consulting an optional allow-script before each one and
// invoking a notify-script on entry into a failure state, grounded on
// BackupDaemon.cpp's main loop.
type Daemon struct {
	Cfg        *config.Config
	ConfigPath string // re-read by Reload; empty disables config reload
	Keys       *boxcrypto.Keys
	Store      Store
	Logger     boxlog.Logger

	records map[string]*Record // by location name

	syncRequested chan struct{}
	forceSync     bool
	reload        chan struct{}
	terminate     chan struct{}

	storeFullSent bool
}

// NewDaemon returns a Daemon ready to Run, with an empty record set —
// callers load persisted records for each location before the first
// Run call via LoadRecord, or let Run start fresh.
func NewDaemon(cfg *config.Config, configPath string, keys *boxcrypto.Keys, store Store, logger boxlog.Logger) *Daemon {
	return &Daemon{
		Cfg:           cfg,
		ConfigPath:    configPath,
		Keys:          keys,
		Store:         store,
		Logger:        logger,
		records:       make(map[string]*Record),
		syncRequested: make(chan struct{}, 1),
		reload:        make(chan struct{}, 1),
		terminate:     make(chan struct{}, 1),
	}
}

// Sync implements control.Commands.
func (d *Daemon) Sync() {
	select {
	case d.syncRequested <- struct{}{}:
	default:
	}
}

// ForceSync implements control.Commands.
func (d *Daemon) ForceSync() {
	d.forceSync = true
	d.Sync()
}

// Reload implements control.Commands.
func (d *Daemon) Reload() {
	select {
	case d.reload <- struct{}{}:
	default:
	}
}

// Terminate implements control.Commands.
func (d *Daemon) Terminate() {
	select {
	case d.terminate <- struct{}{}:
	default:
	}
}

// recordPath returns where a location's directory record is persisted
// under the configured DataDirectory.
func (d *Daemon) recordPath(name string) string {
	return filepath.Join(d.Cfg.DataDirectory, "record-"+name+".json")
}

// RunOnce performs a single sync cycle across every configured
// location, consulting SyncAllowScript first unless forced.
func (d *Daemon) RunOnce(ctx context.Context) error {
	if !d.forceSync {
		if delay, ok := d.consultAllowScript(); ok && delay > 0 {
			d.Logger.Printf("sync delayed %s by SyncAllowScript", delay)
			return nil
		}
	}
	d.forceSync = false

	syncer := &Syncer{Store: d.Store, Keys: d.Keys}
	opts := Options{
		MinFileAge:                d.Cfg.MinimumFileAge(),
		MaxUploadWait:              d.Cfg.MaxUploadWait(),
		MaxFileTimeInFuture:        d.Cfg.MaxFileTimeInFuture(),
		DiffingUploadSizeThreshold: d.Cfg.DiffingUploadSizeThreshold,
		MaximumDiffingTime:         d.Cfg.MaximumDiffingTime(),
		KeepAliveTime:              d.Cfg.KeepAliveTime(),
	}

	anyQuotaRefused := false
	for name, loc := range d.Cfg.BackupLocations {
		record := d.records[name]
		if record == nil {
			path := d.recordPath(name)
			var err error
			record, err = LoadRecord(path, 0)
			if err != nil {
				d.Logger.Printf("loading record for %s: %v", name, err)
				continue
			}
			d.records[name] = record
		}

		report, err := syncer.SyncLocation(loc.Path, loc.Exclude, record, opts)
		if err != nil {
			d.Logger.Printf("sync of %s failed: %v", loc.Path, err)
			continue
		}
		if report.QuotaRefused {
			anyQuotaRefused = true
		}
		if err := record.Save(d.recordPath(name)); err != nil {
			d.Logger.Printf("saving record for %s: %v", name, err)
		}
	}

	d.handleStoreFullTransition(anyQuotaRefused)
	return nil
}

// handleStoreFullTransition invokes NotifyScript at most once per
// transition into the StoreFull state, per spec §4.9/§7.
func (d *Daemon) handleStoreFullTransition(full bool) {
	if full && !d.storeFullSent {
		d.runNotifyScript("StoreFull")
		d.storeFullSent = true
	} else if !full {
		d.storeFullSent = false
	}
}

func (d *Daemon) runNotifyScript(event string) {
	if d.Cfg.NotifyScript == "" {
		d.Logger.Printf("not notifying administrator about event %s -- set NotifyScript to do this", event)
		return
	}
	cmd := exec.Command(d.Cfg.NotifyScript, event)
	if err := cmd.Run(); err != nil {
		d.Logger.Printf("error running NotifyScript for %s: %v", event, err)
	}
}

// consultAllowScript runs SyncAllowScript, if configured, and parses
// its stdout as a delay in seconds (matching the original's
// LocalProcessStream-based convention); ok is false if no script is
// configured or its output isn't a valid delay.
func (d *Daemon) consultAllowScript() (delay time.Duration, ok bool) {
	if d.Cfg.SyncAllowScript == "" {
		return 0, false
	}
	out, err := exec.Command(d.Cfg.SyncAllowScript).Output()
	if err != nil {
		d.Logger.Printf("error running SyncAllowScript %q: %v", d.Cfg.SyncAllowScript, err)
		return 0, false
	}
	seconds, err := strconv.Atoi(strings.TrimSpace(string(out)))
	if err != nil || seconds <= 0 {
		return 0, false
	}
	return time.Duration(seconds) * time.Second, true
}

// Run loops RunOnce on UpdateStoreInterval until ctx is cancelled or
// Terminate is called, waking early on Sync/ForceSync/Reload.
func (d *Daemon) Run(ctx context.Context, onCycle func(start bool)) error {
	ticker := time.NewTicker(d.Cfg.UpdateStoreInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-d.terminate:
			return nil
		case <-d.reload:
			if d.ConfigPath != "" {
				if cfg, err := config.Load(d.ConfigPath); err == nil {
					d.Cfg = cfg
				} else {
					d.Logger.Printf("reload: %v", err)
				}
			}
			continue
		case <-ticker.C:
		case <-d.syncRequested:
		}
		if onCycle != nil {
			onCycle(true)
		}
		if err := d.RunOnce(ctx); err != nil {
			d.Logger.Printf("sync cycle failed: %v", err)
		}
		if onCycle != nil {
			onCycle(false)
		}
	}
}
