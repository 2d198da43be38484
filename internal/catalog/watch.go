package catalog

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// Watch reloads the catalog whenever path is written or recreated, until ctx
// is done. The parent directory is watched so editors that replace the file
// are still noticed.
func (c *Catalog) Watch(ctx context.Context, path string, sample bool, log *logrus.Logger) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}

			files, err := ReadLines(abs)
			if err != nil {
				log.WithField("file", abs).Warnf("catalog reload failed: %v", err)
				continue
			}
			if sample {
				files = Sample(files, nil)
			}
			c.Replace(files)
			log.WithField("file", abs).Infof("catalog reloaded, %d files shared", len(files))
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warnf("catalog watcher: %v", err)
		}
	}
}
