package ledger

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var audioExtensions = map[string]bool{
	".wav":  true,
	".mp3":  true,
	".flac": true,
	".m4a":  true,
	".ogg":  true,
}

// Dir reads samples from <root>/<Speaker_Name>/<clip>. The speaker name is
// derived from the directory and each clip is dated by its modification time.
type Dir struct {
	root   string
	filter Filter
}

// NewDir returns a directory ledger rooted at root.
func NewDir(root string, filter Filter) *Dir {
	return &Dir{root: root, filter: filter}
}

func (d *Dir) Speakers(ctx context.Context) ([]string, error) {
	all, err := d.All(ctx)
	if err != nil {
		return nil, err
	}
	return sortedKeys(all), nil
}

func (d *Dir) Samples(ctx context.Context, speaker string) ([]SampleRecord, error) {
	all, err := d.All(ctx)
	if err != nil {
		return nil, err
	}
	return all[NormalizeName(speaker)], nil
}

func (d *Dir) All(ctx context.Context) (map[string][]SampleRecord, error) {
	entries, err := os.ReadDir(d.root)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string][]SampleRecord{}, nil
		}
		return nil, fmt.Errorf("read samples dir: %w", err)
	}
	var records []SampleRecord
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") || IsPlaceholder(entry.Name()) {
			continue
		}
		speaker := NameFromDir(entry.Name())
		speakerDir := filepath.Join(d.root, entry.Name())
		clips, err := os.ReadDir(speakerDir)
		if err != nil {
			return nil, fmt.Errorf("read speaker dir %q: %w", speakerDir, err)
		}
		for _, clip := range clips {
			if clip.IsDir() || !audioExtensions[strings.ToLower(filepath.Ext(clip.Name()))] {
				continue
			}
			info, err := clip.Info()
			if err != nil {
				return nil, fmt.Errorf("stat clip %q: %w", clip.Name(), err)
			}
			path := filepath.Join(speakerDir, clip.Name())
			records = append(records, SampleRecord{
				ID:           path,
				SpeakerName:  speaker,
				ClipPath:     path,
				RecordedDate: info.ModTime().UTC(),
				Source:       "directory",
			})
		}
	}
	return group(records, d.filter), nil
}
