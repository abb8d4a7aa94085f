package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"group-chatter/internal/history"
)

// ErrSnapshotCorrupt is returned by Read when the cache file cannot be decoded.
var ErrSnapshotCorrupt = errors.New("snapshot corrupt")

// record is the on-disk form of one history entry.
type record struct {
	User          string    `json:"user"`
	Content       string    `json:"content"`
	Timestamp     time.Time `json:"timestamp"`
	ChannelName   string    `json:"channel_name"`
	ReplyAuthor   string    `json:"reply_author,omitempty"`
	ReplyContent  string    `json:"reply_content,omitempty"`
	ReplyHasMedia bool      `json:"reply_has_media,omitempty"`
}

// document maps category -> channel id -> entries.
type document map[string]map[string][]record

// SnapshotFile saves and restores the whole history store as a single JSON
// document. Saves are serialized and replace the live file atomically.
type SnapshotFile struct {
	path   string
	mu     sync.Mutex
	logger zerolog.Logger
	encode func(w io.Writer, v any) error
}

func NewSnapshotFile(path string, logger zerolog.Logger) (*SnapshotFile, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("ensure cache dir: %w", err)
	}
	return &SnapshotFile{
		path:   path,
		logger: logger.With().Str("component", "snapshot").Str("path", path).Logger(),
		encode: encodeIndented,
	}, nil
}

func (f *SnapshotFile) Path() string { return f.path }

// Snapshotter is the live cache a SnapshotFile persists.
type Snapshotter interface {
	Snapshot() history.Snapshot
}

// SaveFrom copies src and writes it while holding the file lock, so files
// land on disk in the order their snapshots were taken. Callers persisting a
// live store must use SaveFrom rather than Save.
func (f *SnapshotFile) SaveFrom(src Snapshotter) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writeLocked(src.Snapshot())
}

// Save writes a snapshot taken earlier. snap must not be mutated while Save
// runs.
func (f *SnapshotFile) Save(snap history.Snapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writeLocked(snap)
}

func (f *SnapshotFile) writeLocked(snap history.Snapshot) error {
	doc := toDocument(snap)
	if err := WriteFileAtomic(f.path, func(w io.Writer) error { return f.encode(w, doc) }); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// Read decodes the cache file. A missing or empty file yields an empty snapshot.
func (f *SnapshotFile) Read() (history.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return history.Snapshot{}, nil
		}
		return history.Snapshot{}, fmt.Errorf("read snapshot: %w", err)
	}
	if len(data) == 0 {
		return history.Snapshot{}, nil
	}
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return history.Snapshot{}, fmt.Errorf("%w: %v", ErrSnapshotCorrupt, err)
	}
	return fromDocument(doc), nil
}

// Load is Read for startup: any failure is logged and an empty snapshot
// returned, since a lost cache is recoverable.
func (f *SnapshotFile) Load() history.Snapshot {
	snap, err := f.Read()
	if err != nil {
		f.logger.Error().Err(err).Msg("discarding unreadable conversation cache")
		return history.Snapshot{}
	}
	n := 0
	for _, chans := range snap {
		for _, es := range chans {
			n += len(es)
		}
	}
	f.logger.Info().Int("messages", n).Msg("conversation cache loaded")
	return snap
}

func encodeIndented(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func toDocument(snap history.Snapshot) document {
	doc := make(document, len(snap))
	for category, chans := range snap {
		doc[category] = make(map[string][]record, len(chans))
		for id, es := range chans {
			recs := make([]record, 0, len(es))
			for _, e := range es {
				r := record{
					User:        e.Speaker,
					Content:     e.Text,
					Timestamp:   e.CreatedAt.UTC(),
					ChannelName: e.ChannelLabel,
				}
				if e.ReplyTo != nil {
					r.ReplyAuthor = e.ReplyTo.Speaker
					r.ReplyContent = e.ReplyTo.Excerpt
					r.ReplyHasMedia = e.ReplyTo.HasMedia
				}
				recs = append(recs, r)
			}
			doc[category][id] = recs
		}
	}
	return doc
}

func fromDocument(doc document) history.Snapshot {
	snap := make(history.Snapshot, len(doc))
	for category, chans := range doc {
		snap[category] = make(map[string][]history.Entry, len(chans))
		for id, recs := range chans {
			es := make([]history.Entry, 0, len(recs))
			for _, r := range recs {
				e := history.Entry{
					Speaker:      r.User,
					Text:         r.Content,
					CreatedAt:    r.Timestamp,
					ChannelLabel: r.ChannelName,
				}
				if r.ReplyAuthor != "" || r.ReplyContent != "" {
					e.ReplyTo = &history.ReplyRef{Speaker: r.ReplyAuthor, Excerpt: r.ReplyContent, HasMedia: r.ReplyHasMedia}
				}
				es = append(es, e)
			}
			snap[category][id] = es
		}
	}
	return snap
}
