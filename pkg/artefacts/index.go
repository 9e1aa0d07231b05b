package artefacts

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/natefinch/atomic"

	"github.com/frontier-framework/fmf/pkg/chain"
	"github.com/frontier-framework/fmf/pkg/errdefs"
)

// IndexEntry is one run in the global index.json.
type IndexEntry struct {
	RunID     string `json:"run_id"`
	Chain     string `json:"chain"`
	Path      string `json:"path"`
	CreatedAt string `json:"created_at"`
	Docs      int    `json:"docs"`
	Steps     int    `json:"steps"`
}

// ReadIndex loads the run index from an artefacts root. A missing file
// is an empty index.
func ReadIndex(dir string) ([]IndexEntry, error) {
	data, err := os.ReadFile(filepath.Join(dir, "index.json"))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errdefs.WrapExport(err, "reading run index")
	}
	var entries []IndexEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, errdefs.WrapExport(err, "parsing run index")
	}
	return entries, nil
}

// updateIndex appends the run, replacing any existing entry with the
// same run id, and rewrites index.json atomically.
func (w *Writer) updateIndex(result *chain.Result, runDir string) error {
	entries, err := ReadIndex(w.Dir)
	if err != nil {
		return err
	}

	abs, err := filepath.Abs(runDir)
	if err != nil {
		abs = runDir
	}
	entry := IndexEntry{
		RunID:     result.RunID,
		Chain:     result.ChainName,
		Path:      abs,
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
		Docs:      len(result.Docs),
		Steps:     len(result.Steps),
	}

	replaced := false
	for i := range entries {
		if entries[i].RunID == entry.RunID {
			entries[i] = entry
			replaced = true
			break
		}
	}
	if !replaced {
		entries = append(entries, entry)
	}

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return errdefs.WrapExport(err, "marshalling run index")
	}
	path := filepath.Join(w.Dir, "index.json")
	if err := atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return errdefs.WrapExport(err, "writing run index")
	}
	return nil
}

// applyRetention keeps the RetainLast most recently modified run
// directories and removes the rest.
func (w *Writer) applyRetention() error {
	if w.RetainLast <= 0 {
		return nil
	}

	entries, err := os.ReadDir(w.Dir)
	if err != nil {
		return errdefs.WrapExport(err, "listing artefacts directory")
	}

	type runDir struct {
		path  string
		mtime time.Time
	}
	var dirs []runDir
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		dirs = append(dirs, runDir{
			path:  filepath.Join(w.Dir, entry.Name()),
			mtime: info.ModTime(),
		})
	}
	sort.Slice(dirs, func(i, j int) bool { return dirs[i].mtime.After(dirs[j].mtime) })

	for _, old := range dirs[min(w.RetainLast, len(dirs)):] {
		if err := os.RemoveAll(old.path); err != nil {
			return errdefs.WrapExport(err, "removing expired run %s", old.path)
		}
		slog.Info("expired run removed", "dir", old.path)
	}
	return nil
}
