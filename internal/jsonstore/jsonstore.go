// Package jsonstore persists JSON documents with write-temp-then-rename
// semantics and quarantines files that fail to decode.
package jsonstore

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
)

// WriteAtomic encodes v with two-space indentation into <path>.tmp, fsyncs it
// and renames it over path.
func WriteAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	data = append(data, '\n')
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Read decodes path into v. It reports false when the file is missing, empty
// or was quarantined; v is left untouched in those cases.
func Read(path string, v any, log *zap.Logger) (bool, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return false, nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		dest, qerr := Quarantine(path, time.Now())
		if log != nil {
			log.Warn("quarantined unreadable json store",
				zap.String("path", path),
				zap.String("quarantine_path", dest),
				zap.Error(err))
		}
		if qerr != nil {
			return false, fmt.Errorf("quarantine %s: %w", path, qerr)
		}
		return false, nil
	}
	return true, nil
}

// Quarantine moves path to <path>.<timestamp>.corrupt, falling back to
// <path>.corrupt when the timestamped name is taken.
func Quarantine(path string, now time.Time) (string, error) {
	utc := now.UTC()
	stamp := utc.Format("20060102150405") + fmt.Sprintf("%06d", utc.Nanosecond()/1000)
	dest := fmt.Sprintf("%s.%s.corrupt", path, stamp)
	if _, err := os.Stat(dest); err == nil {
		dest = path + ".corrupt"
	}
	if err := os.Rename(path, dest); err != nil {
		return "", err
	}
	return dest, nil
}
