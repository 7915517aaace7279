package ingest

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"parley/pkg/convo"

	"github.com/fsnotify/fsnotify"
)

// DefaultFallbackPoll is the spool re-scan interval used as a safety net
// when an fsnotify event is missed.
const DefaultFallbackPoll = 60 * time.Second

// consumedSuffix marks spool files that have been fully ingested.
const consumedSuffix = ".done"

// SpoolSource is a file-based MessageSource. The transport collaborator
// drops line-delimited JSON chat events as *.jsonl files into a spool
// directory; SpoolSource watches the directory, pushes each event onto the
// queue in file order, and renames consumed files aside.
type SpoolSource struct {
	dir          string
	queue        *Queue
	fallbackPoll time.Duration

	malformed atomic.Int64
}

// NewSpoolSource creates a SpoolSource feeding queue from dir.
func NewSpoolSource(dir string, queue *Queue) *SpoolSource {
	return &SpoolSource{
		dir:          dir,
		queue:        queue,
		fallbackPoll: DefaultFallbackPoll,
	}
}

// SetFallbackPoll overrides the safety-net scan interval (for testing).
func (s *SpoolSource) SetFallbackPoll(d time.Duration) {
	s.fallbackPoll = d
}

// MalformedCount returns the number of lines discarded as unparseable.
func (s *SpoolSource) MalformedCount() int64 {
	return s.malformed.Load()
}

// Run watches the spool directory until ctx is cancelled. Falls back to
// pure polling if the watcher cannot be created.
func (s *SpoolSource) Run(ctx context.Context) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create spool dir %s: %w", s.dir, err)
	}

	// Pick up files that arrived before the daemon started.
	s.scan(ctx)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		s.runPoll(ctx)
		return nil
	}
	defer func() { _ = watcher.Close() }()

	if err := watcher.Add(s.dir); err != nil {
		s.runPoll(ctx)
		return nil
	}

	fallback := time.NewTicker(s.fallbackPoll)
	defer fallback.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) != 0 {
				s.scan(ctx)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			if err != nil {
				log.Printf("[spool] watcher error: %v", err)
			}
		case <-fallback.C:
			s.scan(ctx)
		}
	}
}

// runPoll is the fallback loop when fsnotify is unavailable.
func (s *SpoolSource) runPoll(ctx context.Context) {
	ticker := time.NewTicker(s.fallbackPoll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.scan(ctx)
		}
	}
}

// scan ingests every unconsumed spool file in name order.
func (s *SpoolSource) scan(ctx context.Context) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		log.Printf("[spool] read dir %s: %v", s.dir, err)
		return
	}

	var files []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".jsonl") {
			continue
		}
		files = append(files, name)
	}
	sort.Strings(files)

	for _, name := range files {
		if ctx.Err() != nil {
			return
		}
		s.consumeFile(filepath.Join(s.dir, name))
	}
}

// consumeFile pushes each parseable line of the file onto the queue, then
// renames the file aside so it is not ingested twice.
func (s *SpoolSource) consumeFile(path string) {
	f, err := os.Open(path)
	if err != nil {
		log.Printf("[spool] open %s: %v", path, err)
		return
	}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var m convo.Message
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			s.malformed.Add(1)
			log.Printf("[spool] discard malformed line in %s: %v", path, err)
			continue
		}
		s.queue.Push(m)
	}
	if err := scanner.Err(); err != nil {
		log.Printf("[spool] read %s: %v", path, err)
	}
	_ = f.Close()

	if err := os.Rename(path, path+consumedSuffix); err != nil {
		log.Printf("[spool] mark consumed %s: %v", path, err)
	}
}
