package config

import (
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// Watch reloads the YAML override at yamlPath whenever it changes on disk
// and hands the fresh Config to onReload; which settings take effect
// depends on what onReload does with it. Returns a stop function that tears
// the watcher down.
func Watch(yamlPath string, log *logrus.Logger, onReload func(*Config)) (func(), error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	// Watch the directory, not the file: editors replace files on save and
	// a file-level watch dies with the old inode.
	if err := watcher.Add(filepath.Dir(yamlPath)); err != nil {
		watcher.Close()
		return nil, err
	}

	target := filepath.Clean(yamlPath)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target {
					continue
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
					continue
				}
				cfg, err := Load(yamlPath)
				if err != nil {
					log.WithError(err).Warn("config: reload failed, keeping previous configuration")
					continue
				}
				log.WithField("path", yamlPath).Info("config: reloaded")
				onReload(cfg)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.WithError(err).Warn("config: watcher error")
			}
		}
	}()

	return func() {
		watcher.Close()
		<-done
	}, nil
}
