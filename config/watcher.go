package config

import (
	"context"
	"sync"
	"time"

	"github.com/bep/debounce"
	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"go.viam.com/utils"

	"go.viam.com/swerve/logging"
)

// A Watcher is responsible for delivering new configs whenever the config file changes.
type Watcher interface {
	Config() <-chan *Config
	Close() error
}

// writes closer together than this are read once.
const writeSettleTime = 100 * time.Millisecond

type fsConfigWatcher struct {
	fsWatcher               *fsnotify.Watcher
	configCh                <-chan *Config
	cancel                  func()
	activeBackgroundWorkers sync.WaitGroup
}

// NewWatcher returns a Watcher that re-reads configPath once writes to it settle. Configs that
// fail to read or validate are logged and skipped.
func NewWatcher(ctx context.Context, configPath string, logger logging.Logger) (Watcher, error) {
	if configPath == "" {
		return nil, errors.New("config watcher needs a file path")
	}
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsWatcher.Add(configPath); err != nil {
		utils.UncheckedError(fsWatcher.Close())
		return nil, errors.Wrapf(err, "watching %q", configPath)
	}

	cancelCtx, cancel := context.WithCancel(ctx)
	configCh := make(chan *Config)
	watcher := &fsConfigWatcher{
		fsWatcher: fsWatcher,
		configCh:  configCh,
		cancel:    cancel,
	}
	reload := make(chan struct{}, 1)
	debounced := debounce.New(writeSettleTime)
	watcher.activeBackgroundWorkers.Add(1)
	utils.ManagedGo(func() {
		for {
			select {
			case <-cancelCtx.Done():
				return
			case err, ok := <-fsWatcher.Errors:
				if !ok {
					return
				}
				logger.Warnw("config watcher error", "error", err)
			case event, ok := <-fsWatcher.Events:
				if !ok {
					return
				}
				if event.Has(fsnotify.Write) {
					debounced(func() {
						select {
						case reload <- struct{}{}:
						default:
						}
					})
				}
			case <-reload:
				newConfig, err := Read(cancelCtx, configPath, logger)
				if err != nil {
					logger.Errorw("error reading config after write", "error", err)
					continue
				}
				select {
				case <-cancelCtx.Done():
					return
				case configCh <- newConfig:
				}
			}
		}
	}, watcher.activeBackgroundWorkers.Done)
	return watcher, nil
}

func (w *fsConfigWatcher) Config() <-chan *Config {
	return w.configCh
}

func (w *fsConfigWatcher) Close() error {
	w.cancel()
	w.activeBackgroundWorkers.Wait()
	return w.fsWatcher.Close()
}
