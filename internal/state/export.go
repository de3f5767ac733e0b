package state

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"
)

// exportLine is one JSONL line of a state export. Exactly one of the
// payload fields is set, selected by Kind.
type exportLine struct {
	Kind     string        `json:"kind"` // meta, frontier, history
	Meta     *Meta         `json:"meta,omitempty"`
	Frontier *time.Time    `json:"frontier,omitempty"`
	History  *HistoryEntry `json:"history,omitempty"`
}

// ImportResult reports what an import applied.
type ImportResult struct {
	MetaImported    int
	HistoryImported int
	FrontierSet     bool
	BackupCreated   string
}

// ExportJSONL writes the full sync state (metadata, frontier, history) to
// a JSONL file, one object per line. Written atomically via temp file.
func (s *Store) ExportJSONL(ctx context.Context, path string) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create export file: %w", err)
	}

	err = s.writeExport(ctx, f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmp)
		return err
	}

	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to rename export file: %w", err)
	}
	return nil
}

func (s *Store) writeExport(ctx context.Context, w io.Writer) error {
	enc := json.NewEncoder(w)

	if last, err := s.LastSync(ctx); err != nil {
		return err
	} else if last != nil {
		if err := enc.Encode(exportLine{Kind: "frontier", Frontier: last}); err != nil {
			return fmt.Errorf("failed to encode frontier: %w", err)
		}
	}

	metas, err := s.AllMeta(ctx)
	if err != nil {
		return err
	}
	for _, m := range metas {
		if err := enc.Encode(exportLine{Kind: "meta", Meta: m}); err != nil {
			return fmt.Errorf("failed to encode metadata: %w", err)
		}
	}

	entries, err := s.RecentHistory(ctx, 0)
	if err != nil {
		return err
	}
	for i := len(entries) - 1; i >= 0; i-- { // oldest first
		e := entries[i]
		if err := enc.Encode(exportLine{Kind: "history", History: &e}); err != nil {
			return fmt.Errorf("failed to encode history: %w", err)
		}
	}

	return nil
}

// ImportJSONL loads sync state from a JSONL export. With backup set, the
// current database file is copied aside first (timestamped suffix).
// Imported rows merge into the existing state; they do not clear it.
func (s *Store) ImportJSONL(ctx context.Context, path string, backup bool) (*ImportResult, error) {
	result := &ImportResult{}

	if backup {
		backupPath := s.path + ".backup." + time.Now().Format("20060102-150405")
		data, err := os.ReadFile(s.path)
		if err != nil {
			return nil, fmt.Errorf("failed to read state database for backup: %w", err)
		}
		if err := os.WriteFile(backupPath, data, 0o600); err != nil {
			return nil, fmt.Errorf("failed to create backup: %w", err)
		}
		result.BackupCreated = backupPath
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open import file: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}

		var line exportLine
		if err := json.Unmarshal(raw, &line); err != nil {
			return nil, fmt.Errorf("invalid JSON at line %d: %w", lineNum, err)
		}

		switch line.Kind {
		case "meta":
			if line.Meta == nil {
				return nil, fmt.Errorf("meta line %d has no payload", lineNum)
			}
			if err := s.UpsertMeta(ctx, []*Meta{line.Meta}); err != nil {
				return nil, err
			}
			result.MetaImported++
		case "frontier":
			if line.Frontier != nil {
				if err := s.AdvanceLastSync(ctx, *line.Frontier); err != nil {
					return nil, err
				}
				result.FrontierSet = true
			}
		case "history":
			if line.History == nil {
				return nil, fmt.Errorf("history line %d has no payload", lineNum)
			}
			if err := s.AppendHistory(ctx, *line.History); err != nil {
				return nil, err
			}
			result.HistoryImported++
		default:
			return nil, fmt.Errorf("unknown kind %q at line %d", line.Kind, lineNum)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan import file: %w", err)
	}

	return result, nil
}
