// Package journal keeps an append-only log of the notifications the agent delivered,
// written before they are acted upon.
package journal

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/vadiminshakov/endorser/core/dto"
	"github.com/vadiminshakov/gowal"
)

const (
	segmentThreshold = 4 * 1024 * 1024
	maxSegments      = 64
)

// Entry is one journaled notification.
type Entry struct {
	Index      uint64          `json:"-"`
	Topic      string          `json:"-"`
	State      string          `json:"-"`
	ReceivedAt time.Time       `json:"received_at"`
	Payload    json.RawMessage `json:"payload"`
}

// Journal appends entries to a gowal write-ahead log under consecutive indexes.
type Journal struct {
	wal  *gowal.Wal
	mu   sync.Mutex
	next uint64
}

// Open opens (or creates) the journal in dir and resumes after its last entry.
func Open(dir string) (*Journal, error) {
	if dir == "" {
		return nil, errors.New("journal dir is empty")
	}

	w, err := gowal.NewWAL(gowal.Config{
		Dir:              dir,
		Prefix:           "webhook_",
		SegmentThreshold: segmentThreshold,
		MaxSegments:      maxSegments,
	})
	if err != nil {
		return nil, errors.Wrap(err, "open journal")
	}

	var (
		next       uint64
		hasEntries bool
	)
	for msg := range w.Iterator() {
		hasEntries = true
		if msg.Idx >= next {
			next = msg.Idx + 1
		}
	}
	if hasEntries {
		log.Infof("journal resumed at index %d", next)
	}

	return &Journal{wal: w, next: next}, nil
}

// Append journals a notification and returns its index.
func (j *Journal) Append(topic, state string, payload []byte) (uint64, error) {
	value, err := json.Marshal(Entry{ReceivedAt: time.Now().UTC(), Payload: asJSON(payload)})
	if err != nil {
		return 0, errors.Wrap(err, "encode journal entry")
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	idx := j.next
	if err := j.wal.Write(idx, key(topic, state), value); err != nil {
		return 0, errors.Wrapf(err, "write journal entry %d", idx)
	}
	j.next++

	return idx, nil
}

// Get returns the entry at idx, or dto.ErrNotFound when nothing was journaled there.
func (j *Journal) Get(idx uint64) (*Entry, error) {
	k, value, err := j.wal.Get(idx)
	if err != nil {
		return nil, errors.Wrapf(err, "read journal entry %d", idx)
	}
	if value == nil {
		return nil, errors.Wrapf(dto.ErrNotFound, "journal entry %d", idx)
	}

	e := &Entry{}
	if err := json.Unmarshal(value, e); err != nil {
		return nil, errors.Wrapf(err, "decode journal entry %d", idx)
	}
	e.Index = idx
	e.Topic, e.State = splitKey(k)

	return e, nil
}

// Close closes the underlying log.
func (j *Journal) Close() error {
	return j.wal.Close()
}

func key(topic, state string) string {
	return topic + "/" + state
}

func splitKey(k string) (topic, state string) {
	topic, state, _ = strings.Cut(k, "/")
	return topic, state
}

// asJSON keeps valid JSON as is and stores anything else as a JSON string.
func asJSON(payload []byte) json.RawMessage {
	if len(payload) == 0 || !json.Valid(payload) {
		b, _ := json.Marshal(string(payload))
		return b
	}
	return payload
}
