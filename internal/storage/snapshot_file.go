package storage

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"stockwatch/internal/catalog"
	logx "stockwatch/pkg/logx"
)

// LoadFile reads a snapshot document. It never fails: a missing, unreadable or
// malformed file yields an empty snapshot and a log line.
func LoadFile(path string, log logx.Logger) catalog.Snapshot {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			log.Info("snapshot not found", logx.String("path", path))
		} else {
			log.Warn("snapshot unreadable", logx.String("path", path), logx.Err(err))
		}
		return catalog.Snapshot{}
	}
	snap, err := decodeSnapshot(data)
	if err != nil {
		log.Warn("snapshot parse failed", logx.String("path", path), logx.Err(err))
		return catalog.Snapshot{}
	}
	log.Info("snapshot loaded", logx.String("path", path), logx.Int("items", len(snap)))
	return snap
}

func decodeSnapshot(data []byte) (catalog.Snapshot, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, errors.New("empty document")
	}

	var raw map[string]catalog.Variant
	if err := json.Unmarshal(data, &raw); err != nil {
		// Older snapshot files carry bare NaN/Infinity for unknown prices.
		fixed, n := nullNonFinite(data)
		if n == 0 {
			return nil, err
		}
		raw = nil
		if err := json.Unmarshal(fixed, &raw); err != nil {
			return nil, err
		}
	}
	snap := make(catalog.Snapshot, len(raw))
	for k, v := range raw {
		key := strings.ToLower(strings.TrimSpace(k))
		if key == "" {
			continue
		}
		v.Key = key
		snap[key] = v.Normalize()
	}
	return snap, nil
}

// nullNonFinite replaces NaN, Infinity and -Infinity tokens outside string
// literals with null and reports how many it replaced.
func nullNonFinite(data []byte) ([]byte, int) {
	var (
		out      = make([]byte, 0, len(data))
		n        int
		inString bool
		escaped  bool
	)
	for i := 0; i < len(data); i++ {
		c := data[i]
		if inString {
			out = append(out, c)
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		if c == '"' {
			inString = true
			out = append(out, c)
			continue
		}
		rest := data[i:]
		var tok string
		switch {
		case bytes.HasPrefix(rest, []byte("-Infinity")):
			tok = "-Infinity"
		case bytes.HasPrefix(rest, []byte("Infinity")):
			tok = "Infinity"
		case bytes.HasPrefix(rest, []byte("NaN")):
			tok = "NaN"
		}
		if tok != "" {
			out = append(out, "null"...)
			i += len(tok) - 1
			n++
			continue
		}
		out = append(out, c)
	}
	return out, n
}

func encodeSnapshot(snap catalog.Snapshot) ([]byte, error) {
	if snap == nil {
		snap = catalog.Snapshot{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(snap); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// SaveFile writes snap to path atomically: temp file in the same directory,
// fsync, rename over path. The temp file never outlives the call.
func SaveFile(path string, snap catalog.Snapshot) error {
	data, err := encodeSnapshot(snap)
	if err != nil {
		return fmt.Errorf("save snapshot: encode: %w", err)
	}
	if err := writeFileAtomic(path, data, 0o644); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		if tmp != nil {
			_ = tmp.Close()
		}
		// After a successful rename there is nothing left to remove.
		if tmpName != "" {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Chmod(perm); err != nil {
		return fmt.Errorf("chmod temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		tmp = nil
		return fmt.Errorf("close temp: %w", err)
	}
	tmp = nil
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename: %w", err)
	}
	tmpName = ""
	syncDir(dir)
	return nil
}

// syncDir makes the rename durable. Best-effort: not every platform can fsync a directory.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}
