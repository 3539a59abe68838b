package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/go-cmp/cmp"

	"github.com/wslabel/wslabel/internal/config"
	"github.com/wslabel/wslabel/internal/util"
)

// configMonitor reports edits to the config file. The lookup table is fixed
// for the process lifetime, so valid edits only produce a restart notice.
type configMonitor struct {
	path           string
	logger         *util.Logger
	loaded         *config.Config
	lastSerialized []byte
}

func newConfigMonitor(path string, logger *util.Logger, cfg *config.Config, serialized []byte) *configMonitor {
	return &configMonitor{
		path:           path,
		logger:         logger,
		loaded:         cfg,
		lastSerialized: append([]byte(nil), serialized...),
	}
}

// Check re-reads the config file and logs how it differs from the running
// configuration. It returns an error when the new file is invalid.
func (m *configMonitor) Check(reason string) error {
	raw, err := os.ReadFile(m.path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if bytes.Equal(raw, m.lastSerialized) {
		m.logger.Debugf("%s, config contents unchanged", reason)
		return nil
	}
	m.lastSerialized = append([]byte(nil), raw...)

	cfg, err := config.Decode(raw)
	if err != nil {
		m.logger.Warnf("config change rejected: %v", err)
		return err
	}
	if lintErrs := cfg.Lint(); len(lintErrs) > 0 {
		m.logLintErrors(lintErrs)
		m.logDiff("config change rejected", cfg)
		return lintErrs[0]
	}
	if cmp.Equal(m.loaded, cfg) {
		m.logger.Infof("%s, no effective changes", reason)
		return nil
	}
	m.logDiff(reason+"; restart wslabel to apply", cfg)
	return nil
}

func (m *configMonitor) logDiff(headline string, current *config.Config) {
	diff := config.Diff(m.loaded, current)
	if diff == "" {
		m.logger.Warnf("%s; no label changes vs running config", headline)
		return
	}
	m.logger.Warnf("%s; diff vs running config:\n%s", headline, diff)
}

func (m *configMonitor) logLintErrors(errs []config.LintError) {
	m.logger.Warnf("config validation failed with %d issue(s):", len(errs))
	for _, lintErr := range errs {
		m.logger.Warnf(" - %s", lintErr.Error())
	}
}

// watchConfig turns filesystem events on target into debounced change
// notifications.
func watchConfig(logger *util.Logger, watcher *fsnotify.Watcher, target string, changes chan<- string) {
	const debounceWindow = 250 * time.Millisecond
	var (
		timer   *time.Timer
		timerCh <-chan time.Time
	)
	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounceWindow)
				timerCh = timer.C
			} else {
				if !timer.Stop() {
					<-timerCh
				}
				timer.Reset(debounceWindow)
			}
		case <-timerCh:
			timer = nil
			timerCh = nil
			select {
			case changes <- "config file updated":
			default:
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logger.Warnf("config watcher error: %v", err)
		}
	}
}
