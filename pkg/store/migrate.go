package store

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// legacyVideoMeta is the shape of one entry in the legacy
// processed-messages-metadata.json sidecar file.
type legacyVideoMeta struct {
	FileName       string   `json:"fileName"`
	NormalizedName string   `json:"normalizedName"`
	Topic          string   `json:"topic"`
	DurationSec    *int     `json:"durationSec,omitempty"`
	SizeMB         *float64 `json:"sizeMB,omitempty"`
	Width          *int     `json:"width,omitempty"`
	Height         *int     `json:"height,omitempty"`
	MimeType       *string  `json:"mimeType,omitempty"`
}

// migrateLegacy performs the one-shot legacy migration described in
// spec.md §4.3: if legacy plaintext files exist alongside dbPath, their
// contents are ingested, then the legacy files are renamed with a
// ".backup" suffix. Migration is atomic per-table: each table's legacy
// file is either fully ingested and renamed, or left untouched on error.
// Returns true if any migration occurred.
func migrateLegacy(ctx context.Context, s *Store, dbPath string) (bool, error) {
	dir := filepath.Dir(dbPath)
	messagesPath := filepath.Join(dir, "processed-messages.txt")
	videosPath := filepath.Join(dir, "processed-messages-videos.txt")
	metadataPath := filepath.Join(dir, "processed-messages-metadata.json")

	didAny := false

	if ok, err := migrateMessagesFile(ctx, s, messagesPath); err != nil {
		return didAny, fmt.Errorf("migrate messages file: %w", err)
	} else if ok {
		didAny = true
	}

	if ok, err := migrateVideosFile(ctx, s, videosPath, metadataPath); err != nil {
		return didAny, fmt.Errorf("migrate videos file: %w", err)
	} else if ok {
		didAny = true
	}

	return didAny, nil
}

func migrateMessagesFile(ctx context.Context, s *Store, path string) (bool, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		key := strings.TrimSpace(scanner.Text())
		if key == "" {
			continue
		}
		if err := s.PutMessage(ctx, key); err != nil {
			return false, err
		}
	}
	if err := scanner.Err(); err != nil {
		return false, err
	}

	if err := os.Rename(path, path+".backup"); err != nil {
		return false, fmt.Errorf("rename legacy messages file: %w", err)
	}
	return true, nil
}

func migrateVideosFile(ctx context.Context, s *Store, videosPath, metadataPath string) (bool, error) {
	metaByKey, hasMeta := loadLegacyMetadata(metadataPath)

	f, err := os.Open(videosPath)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		lineNo++

		// Legacy line formats seen across variants: either a bare
		// normalized name (topic unknown -> wildcard), or
		// "normalizedName|topic" pairs. Both are supported.
		fileName := line
		normalizedName := line
		topic := WildcardTopic
		if idx := strings.LastIndex(line, "|"); idx >= 0 {
			normalizedName = line[:idx]
			topic = line[idx+1:]
			if topic == "" {
				topic = WildcardTopic
			}
		}

		rec := VideoRecord{
			FileName:       fileName,
			NormalizedName: normalizedName,
			TopicName:      topic,
		}
		if hasMeta {
			if meta, ok := metaByKey[normalizedName+"|"+topic]; ok {
				rec.FileName = meta.FileName
				rec.DurationSec = meta.DurationSec
				rec.SizeMB = meta.SizeMB
				rec.Width = meta.Width
				rec.Height = meta.Height
				rec.MimeType = meta.MimeType
			}
		}

		if err := s.PutVideo(ctx, rec); err != nil {
			return false, fmt.Errorf("line %d: %w", lineNo, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return false, err
	}

	if err := os.Rename(videosPath, videosPath+".backup"); err != nil {
		return false, fmt.Errorf("rename legacy videos file: %w", err)
	}
	if hasMeta {
		if err := os.Rename(metadataPath, metadataPath+".backup"); err != nil {
			return false, fmt.Errorf("rename legacy metadata file: %w", err)
		}
	}
	return true, nil
}

func loadLegacyMetadata(path string) (map[string]legacyVideoMeta, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}

	var entries []legacyVideoMeta
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, false
	}

	out := make(map[string]legacyVideoMeta, len(entries))
	for _, e := range entries {
		topic := e.Topic
		if topic == "" {
			topic = WildcardTopic
		}
		out[e.NormalizedName+"|"+topic] = e
	}
	return out, true
}
