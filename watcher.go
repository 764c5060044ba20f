package main

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/phuslu/log"
)

// watchStatements ingests statement files dropped into
// <dir>/<subjectID>/<file>. Create events are debounced so half-written
// files are not picked up. Best effort: failures are logged and the watcher
// keeps running.
func (s *server) watchStatements(dir string) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		log.Error().Err(err).Msg("cannot start statement watcher")
		return
	}
	defer w.Close()

	if err := w.Add(dir); err != nil {
		log.Error().Err(err).Str("dir", dir).Msg("cannot watch statement dir")
		return
	}
	// watch pre-existing per-subject folders too
	entries, _ := os.ReadDir(dir)
	for _, e := range entries {
		if e.IsDir() {
			_ = w.Add(filepath.Join(dir, e.Name()))
		}
	}
	log.Info().Str("dir", dir).Msg("watching for dropped statements")

	// debounce map of pending files
	pending := map[string]time.Time{}
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if ev.Op&fsnotify.Create != fsnotify.Create {
				continue
			}
			if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
				// new per-subject folder
				_ = w.Add(ev.Name)
				continue
			}
			if isStatementExt(ev.Name) {
				pending[ev.Name] = time.Now()
			}
		case <-ticker.C:
			now := time.Now()
			for path, t := range pending {
				if now.Sub(t) > 500*time.Millisecond { // stable
					delete(pending, path)
					s.ingestDroppedFile(dir, path)
				}
			}
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Msg("watch error")
		}
	}
}

func isStatementExt(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".pdf", ".xlsx", ".xls":
		return true
	}
	return false
}

// ingestDroppedFile resolves the owning subject from the parent folder name
// and runs the normal ingestion pipeline.
func (s *server) ingestDroppedFile(root, path string) {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) != 2 {
		log.Warn().Str("path", path).Msg("dropped file not in a per-subject folder, skipping")
		return
	}
	subjectID, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil || subjectID == 0 {
		log.Warn().Str("folder", parts[0]).Msg("folder name is not a subject id, skipping")
		return
	}
	data, err := os.ReadFile(path)
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("cannot read dropped file")
		return
	}
	res, err := s.ingestStatement(context.Background(), uint(subjectID), filepath.Base(path), data)
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("dropped file ingestion failed")
		return
	}
	log.Info().
		Str("file", res.FileName).
		Int("inserted", res.InsertedRows).
		Int("duplicates", res.DuplicateRows).
		Msg("dropped statement ingested")
}
