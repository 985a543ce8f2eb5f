package store

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"github.com/leapstack/leap-collector/internal/models"
)

var (
	logsBucket          = []byte("logs")
	incidentsBucket     = []byte("incidents")
	openIncidentsBucket = []byte("open_incidents")
)

// BoltOptions configures a bolt-backed Store.
type BoltOptions struct {
	// OpenTimeout bounds how long Open waits for the file lock.
	OpenTimeout time.Duration
	// CompressLogs stores log entries zstd-compressed.
	CompressLogs bool
}

// Bolt is a Store persisted in a single bbolt file.
//
// Logs are keyed by the bucket sequence (big endian, so cursor order is
// insertion order). The open_incidents bucket maps a DedupKey to the id of
// its OPEN incident and is maintained in the same transaction as the
// incident record itself.
type Bolt struct {
	db    *bolt.DB
	codec *logCodec
}

// OpenBolt opens (creating if needed) the bolt file at path.
func OpenBolt(path string, opts BoltOptions) (*Bolt, error) {
	if path == "" {
		return nil, errors.New("bolt path is required")
	}
	if opts.OpenTimeout <= 0 {
		opts.OpenTimeout = time.Second
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: opts.OpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("open bolt %s: %w", path, unavailable(err))
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{logsBucket, incidentsBucket, openIncidentsBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init bolt buckets: %w", err)
	}
	codec, err := newLogCodec(opts.CompressLogs)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Bolt{db: db, codec: codec}, nil
}

// AppendLog implements LogStore.
func (b *Bolt) AppendLog(ctx context.Context, entry models.LogEntry) (models.LogEntry, error) {
	if err := ctx.Err(); err != nil {
		return models.LogEntry{}, err
	}
	err := b.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(logsBucket)
		seq, err := bucket.NextSequence()
		if err != nil {
			return err
		}
		entry.ID = strconv.FormatUint(seq, 10)
		value, err := b.codec.encode(entry)
		if err != nil {
			return err
		}
		return bucket.Put(seqKey(seq), value)
	})
	if err != nil {
		return models.LogEntry{}, unavailable(err)
	}
	return entry, nil
}

// ListLogs implements LogStore.
func (b *Bolt) ListLogs(ctx context.Context, filter models.LogFilter) ([]models.LogEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]models.LogEntry, 0)
	err := b.db.View(func(tx *bolt.Tx) error {
		cursor := tx.Bucket(logsBucket).Cursor()
		for k, v := cursor.Last(); k != nil; k, v = cursor.Prev() {
			entry, err := b.codec.decode(v)
			if err != nil {
				return fmt.Errorf("decode log %x: %w", k, err)
			}
			if !filter.Matches(entry) {
				continue
			}
			out = append(out, entry)
			if filter.Limit > 0 && len(out) == filter.Limit {
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return nil, unavailable(err)
	}
	return out, nil
}

// FindOpen implements IncidentStore.
func (b *Bolt) FindOpen(ctx context.Context, key models.DedupKey) ([]models.Incident, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var found []models.Incident
	err := b.db.View(func(tx *bolt.Tx) error {
		id := tx.Bucket(openIncidentsBucket).Get([]byte(key.String()))
		if id == nil {
			return nil
		}
		incident, err := getIncident(tx, string(id))
		if err != nil {
			return err
		}
		found = append(found, incident)
		return nil
	})
	if err != nil {
		return nil, unavailable(err)
	}
	return found, nil
}

// CreateIncident implements IncidentStore.
func (b *Bolt) CreateIncident(ctx context.Context, incident models.Incident) (models.Incident, error) {
	if err := ctx.Err(); err != nil {
		return models.Incident{}, err
	}
	if incident.ID == "" {
		incident.ID = uuid.NewString()
	}
	err := b.db.Update(func(tx *bolt.Tx) error {
		open := tx.Bucket(openIncidentsBucket)
		indexKey := []byte(incident.Key().String())
		if incident.IsOpen() && open.Get(indexKey) != nil {
			return ErrOpenIncidentExists
		}
		if tx.Bucket(incidentsBucket).Get([]byte(incident.ID)) != nil {
			return fmt.Errorf("incident %s already exists", incident.ID)
		}
		if err := putIncident(tx, incident); err != nil {
			return err
		}
		if incident.IsOpen() {
			return open.Put(indexKey, []byte(incident.ID))
		}
		return nil
	})
	if err != nil {
		return models.Incident{}, unavailable(err)
	}
	return incident, nil
}

// GetIncident implements IncidentStore.
func (b *Bolt) GetIncident(ctx context.Context, id string) (models.Incident, error) {
	if err := ctx.Err(); err != nil {
		return models.Incident{}, err
	}
	var incident models.Incident
	err := b.db.View(func(tx *bolt.Tx) error {
		var err error
		incident, err = getIncident(tx, id)
		return err
	})
	if err != nil {
		return models.Incident{}, unavailable(err)
	}
	return incident, nil
}

// UpdateIncident implements IncidentStore.
func (b *Bolt) UpdateIncident(ctx context.Context, incident models.Incident) (models.Incident, error) {
	if err := ctx.Err(); err != nil {
		return models.Incident{}, err
	}
	err := b.db.Update(func(tx *bolt.Tx) error {
		stored, err := getIncident(tx, incident.ID)
		if err != nil {
			return err
		}
		if stored.Version != incident.Version {
			return ErrVersionConflict
		}
		incident.ServiceName = stored.ServiceName
		incident.Endpoint = stored.Endpoint
		incident.Version = stored.Version + 1
		if err := putIncident(tx, incident); err != nil {
			return err
		}
		if stored.IsOpen() && !incident.IsOpen() {
			return tx.Bucket(openIncidentsBucket).Delete([]byte(stored.Key().String()))
		}
		return nil
	})
	if err != nil {
		return models.Incident{}, unavailable(err)
	}
	return incident, nil
}

// ListIncidents implements IncidentStore.
func (b *Bolt) ListIncidents(ctx context.Context, status models.IncidentStatus) ([]models.Incident, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]models.Incident, 0)
	err := b.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(incidentsBucket).ForEach(func(k, v []byte) error {
			var incident models.Incident
			if err := json.Unmarshal(v, &incident); err != nil {
				return fmt.Errorf("decode incident %s: %w", k, err)
			}
			if status == "" || incident.Status == status {
				out = append(out, incident)
			}
			return nil
		})
	})
	if err != nil {
		return nil, unavailable(err)
	}
	sortIncidents(out)
	return out, nil
}

// Close releases the bolt file. Later calls fail with models.ErrStoreUnavailable.
func (b *Bolt) Close() error {
	return errors.Join(b.codec.close(), b.db.Close())
}

func getIncident(tx *bolt.Tx, id string) (models.Incident, error) {
	data := tx.Bucket(incidentsBucket).Get([]byte(id))
	if data == nil {
		return models.Incident{}, models.ErrNotFound
	}
	var incident models.Incident
	if err := json.Unmarshal(data, &incident); err != nil {
		return models.Incident{}, fmt.Errorf("decode incident %s: %w", id, err)
	}
	return incident, nil
}

func putIncident(tx *bolt.Tx, incident models.Incident) error {
	data, err := json.Marshal(incident)
	if err != nil {
		return fmt.Errorf("encode incident %s: %w", incident.ID, err)
	}
	return tx.Bucket(incidentsBucket).Put([]byte(incident.ID), data)
}

func seqKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}

// unavailable maps bolt's connectivity failures onto models.ErrStoreUnavailable
// and leaves every other error untouched.
func unavailable(err error) error {
	if errors.Is(err, bolt.ErrDatabaseNotOpen) || errors.Is(err, bolt.ErrTimeout) {
		return fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
	}
	return err
}

var (
	_ Store = (*Bolt)(nil)
	_ Store = (*Memory)(nil)
)
