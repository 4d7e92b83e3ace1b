package daemon

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"git.home.luguber.info/inful/ghillie/internal/catalogue"
	gerrors "git.home.luguber.info/inful/ghillie/internal/errors"
	"git.home.luguber.info/inful/ghillie/internal/logfields"
	"git.home.luguber.info/inful/ghillie/internal/observability"
	"git.home.luguber.info/inful/ghillie/internal/registry"
)

// CatalogueWatcher hot-reloads the estate catalogue when its file changes,
// then reconciles the repository registry against the new snapshot.
type CatalogueWatcher struct {
	path         string
	store        *catalogue.FileStore
	registry     *registry.Registry
	emitter      observability.Emitter
	watcher      *fsnotify.Watcher
	stopChan     chan struct{}
	reloadChan   chan struct{}
	debounceTime time.Duration
	logger       *slog.Logger
}

func NewCatalogueWatcher(path string, store *catalogue.FileStore, reg *registry.Registry,
	emitter observability.Emitter, logger *slog.Logger,
) (*CatalogueWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, gerrors.InternalError("create catalogue watcher", err)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		watcher.Close()
		return nil, gerrors.InternalError("resolve catalogue path", err)
	}

	if emitter == nil {
		emitter = observability.NopEmitter{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &CatalogueWatcher{
		path:         absPath,
		store:        store,
		registry:     reg,
		emitter:      emitter,
		watcher:      watcher,
		stopChan:     make(chan struct{}),
		reloadChan:   make(chan struct{}, 1),
		debounceTime: 2 * time.Second,
		logger:       logger.With(logfields.Component("catalogue_watcher")),
	}, nil
}

// Start watches the directory holding the catalogue file. Watching the
// directory instead of the file survives editors that replace on save.
func (cw *CatalogueWatcher) Start(ctx context.Context) error {
	dir := filepath.Dir(cw.path)
	if err := cw.watcher.Add(dir); err != nil {
		return gerrors.InternalError("watch catalogue directory "+dir, err)
	}

	cw.logger.Info("watching catalogue file", logfields.Path(cw.path))

	go cw.watchLoop(ctx)
	go cw.reloadLoop(ctx)
	return nil
}

// Stop closes the watcher and its goroutines.
func (cw *CatalogueWatcher) Stop() {
	select {
	case <-cw.stopChan:
	default:
		close(cw.stopChan)
	}
	if err := cw.watcher.Close(); err != nil {
		cw.logger.Error("error closing catalogue watcher", logfields.Error(err))
	}
}

func (cw *CatalogueWatcher) watchLoop(ctx context.Context) {
	fileName := filepath.Base(cw.path)

	for {
		select {
		case <-ctx.Done():
			return
		case <-cw.stopChan:
			return
		case event, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != fileName {
				continue
			}
			switch {
			case event.Op.Has(fsnotify.Write), event.Op.Has(fsnotify.Create), event.Op.Has(fsnotify.Rename):
				cw.logger.Debug("catalogue file changed", logfields.Path(event.Name))
				cw.triggerReload()
			case event.Op.Has(fsnotify.Remove):
				cw.logger.Warn("catalogue file removed; keeping last snapshot", logfields.Path(event.Name))
			}
		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			cw.logger.Error("catalogue watcher error", logfields.Error(err))
		}
	}
}

// reloadLoop debounces rapid sequences of file events into one reload.
func (cw *CatalogueWatcher) reloadLoop(ctx context.Context) {
	var reloadTimer *time.Timer

	for {
		select {
		case <-ctx.Done():
			if reloadTimer != nil {
				reloadTimer.Stop()
			}
			return
		case <-cw.stopChan:
			if reloadTimer != nil {
				reloadTimer.Stop()
			}
			return
		case <-cw.reloadChan:
			if reloadTimer != nil {
				reloadTimer.Stop()
			}
			reloadTimer = time.AfterFunc(cw.debounceTime, func() {
				if err := cw.performReload(ctx); err != nil {
					cw.logger.Error("catalogue reload failed; previous snapshot stays active", logfields.Error(err))
				}
			})
		}
	}
}

func (cw *CatalogueWatcher) triggerReload() {
	select {
	case cw.reloadChan <- struct{}{}:
	default:
	}
}

// performReload swaps in the new catalogue snapshot and reconciles the
// repository registry against it.
func (cw *CatalogueWatcher) performReload(ctx context.Context) error {
	if err := cw.store.Reload(ctx); err != nil {
		return err
	}

	stats, err := cw.registry.SyncFromCatalogue(ctx)
	if err != nil {
		return err
	}

	revision := cw.store.Revision()
	cw.logger.Info("catalogue reloaded",
		slog.String("revision", revision),
		slog.Int("created", stats.Created),
		slog.Int("enabled", stats.Enabled),
		slog.Int("disabled", stats.Disabled))

	cw.emitter.Emit(ctx, observability.NewEvent(observability.CatalogueReloaded, map[string]any{
		"revision": revision,
		"created":  stats.Created,
		"enabled":  stats.Enabled,
		"disabled": stats.Disabled,
	}))
	return nil
}
