// Package metacache implements C7: a TTL-bounded, boltdb-backed cache of
// (VersionSet, arg schema) pairs keyed by a VersionSource's unique_source_id,
// grounded directly on the teacher's internal/gps/source_cache_bolt.go,
// which keeps one bucket per source type the same way this package does.
// Keys are prefixed with a github.com/jmank88/nuts fixed-width big-endian
// encoding of the entry's store time, so PruneExpired can cursor-scan a
// bucket in chronological order and stop at the first still-valid entry
// instead of deserializing every value in the bucket to check its age.
package metacache

import (
	"encoding/json"
	"path/filepath"
	"time"

	"github.com/boltdb/bolt"
	"github.com/jmank88/nuts"
	"github.com/pkg/errors"

	"github.com/bringpkg/bring/cachepath"
	"github.com/bringpkg/bring/log"
	"github.com/bringpkg/bring/pkgsource"
)

// DefaultTTL is how long a cached VersionSet stays valid before
// get_versions (spec §4.7) treats it as a miss, matching metadata_max_age's
// documented default of 24h.
const DefaultTTL = 24 * time.Hour

// Cache wraps one boltdb file under cachepath.Roots, bucketed by source
// type the way the teacher buckets its source cache by repository root.
type Cache struct {
	db     *bolt.DB
	ttl    time.Duration
	logger *log.Logger
}

// Open opens (creating if needed) the metadata cache database under roots.
func Open(roots cachepath.Roots, ttl time.Duration, logger *log.Logger) (*Cache, error) {
	if logger == nil {
		logger = log.Std
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	dbDir := filepath.Join(roots.Root, "pkg_metadata")
	if err := cachepath.EnsureDir(dbDir); err != nil {
		return nil, err
	}
	db, err := bolt.Open(filepath.Join(dbDir, "meta.db"), 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, errors.Wrap(err, "opening metadata cache")
	}
	return &Cache{db: db, ttl: ttl, logger: logger}, nil
}

// Close releases the underlying boltdb file.
func (c *Cache) Close() error { return c.db.Close() }

type entry struct {
	StoredAt  time.Time                      `json:"stored_at"`
	SourceID  string                         `json:"source_id"`
	Versions  []map[string]interface{}       `json:"versions"`
	ArgSchema map[string]pkgsource.ArgSchema `json:"arg_schema"`
}

// recordKey builds a lexicographically time-ordered key: an 8-byte
// big-endian unix-nano timestamp (via nuts.Key) followed by a NUL and the
// source id, so two writes for the same source at different times don't
// collide and a bucket cursor visits oldest-first.
func recordKey(storedAt time.Time, sourceID string) []byte {
	ts := make(nuts.Key, 8)
	ts.Put(uint64(storedAt.UnixNano()))
	key := make([]byte, 0, len(ts)+1+len(sourceID))
	key = append(key, ts...)
	key = append(key, 0)
	key = append(key, sourceID...)
	return key
}

func sourceIDFromKey(key []byte) string {
	// Skip the fixed-width timestamp: its bytes may themselves be zero.
	if len(key) < 9 || key[8] != 0 {
		return ""
	}
	return string(key[9:])
}

// bucketFor returns sourceType's bucket, creating it if needed.
func bucketFor(tx *bolt.Tx, sourceType string, create bool) (*bolt.Bucket, error) {
	if create {
		return tx.CreateBucketIfNotExists([]byte(sourceType))
	}
	return tx.Bucket([]byte(sourceType)), nil
}

// GetVersions implements get_versions (spec §4.7): return a cached
// VersionSet if one exists, is non-empty, and is younger than the cache's
// TTL; otherwise call vs.RetrieveVersions, store the result, and return it.
// This function is the non-overridable wrapper spec §4.6 calls out — plugins
// implement RetrieveVersions, never this.
func (c *Cache) GetVersions(sourceType string, vs pkgsource.VersionSource) (*pkgsource.VersionSet, error) {
	sourceID := vs.UniqueSourceID()

	if cached, ok, err := c.lookup(sourceType, sourceID); err != nil {
		c.logger.Warnf("metadata cache for %s: %v, treating as miss", sourceID, err)
	} else if ok {
		return cached, nil
	}

	versions, schema, err := vs.RetrieveVersions()
	if err != nil {
		return nil, err
	}
	result := pkgsource.NewVersionSet(sourceID, versions, schema, c.logger)

	if err := c.store(sourceType, sourceID, result); err != nil {
		c.logger.Warnf("metadata cache for %s: failed to persist: %v", sourceID, err)
	}
	return result, nil
}

// lookup returns (set, true, nil) on a valid cache hit; (nil, false, nil) on
// a clean miss (absent or expired); (nil, false, err) when the stored entry
// is corrupt and should be treated as a miss after logging.
func (c *Cache) lookup(sourceType, sourceID string) (*pkgsource.VersionSet, bool, error) {
	var raw []byte
	err := c.db.View(func(tx *bolt.Tx) error {
		b, err := bucketFor(tx, sourceType, false)
		if err != nil || b == nil {
			return err
		}
		// Newest entry for sourceID wins; scan in reverse so the first
		// match found is the most recent write.
		c := b.Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if sourceIDFromKey(k) == sourceID {
				raw = append([]byte(nil), v...)
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if len(raw) == 0 {
		return nil, false, nil
	}

	var e entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, false, errors.Wrap(err, "corrupt metadata cache entry")
	}
	if time.Since(e.StoredAt) > c.ttl {
		return nil, false, nil
	}

	versions := make([]*pkgsource.PkgVersion, 0, len(e.Versions))
	for _, vm := range e.Versions {
		pv, err := pkgsource.FromMap(vm)
		if err != nil {
			return nil, false, errors.Wrap(err, "corrupt cached PkgVersion")
		}
		versions = append(versions, pv)
	}
	return pkgsource.NewVersionSet(sourceID, versions, e.ArgSchema, c.logger), true, nil
}

func (c *Cache) store(sourceType, sourceID string, set *pkgsource.VersionSet) error {
	vms := make([]map[string]interface{}, len(set.Versions))
	for i, v := range set.Versions {
		vms[i] = v.ToMap()
	}
	now := time.Now()
	e := entry{StoredAt: now, SourceID: sourceID, Versions: vms, ArgSchema: set.ArgSchema}
	raw, err := json.Marshal(e)
	if err != nil {
		return err
	}

	return c.db.Update(func(tx *bolt.Tx) error {
		b, err := bucketFor(tx, sourceType, true)
		if err != nil {
			return err
		}
		return b.Put(recordKey(now, sourceID), raw)
	})
}

// Invalidate drops every cached entry for sourceID under sourceType,
// used when a caller knows a source's upstream changed out from under the
// TTL (e.g. a forced `bring update`).
func (c *Cache) Invalidate(sourceType, sourceID string) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		b, err := bucketFor(tx, sourceType, false)
		if err != nil || b == nil {
			return err
		}
		cur := b.Cursor()
		var toDelete [][]byte
		for k, _ := cur.First(); k != nil; k, _ = cur.Next() {
			if sourceIDFromKey(k) == sourceID {
				toDelete = append(toDelete, append([]byte(nil), k...))
			}
		}
		for _, k := range toDelete {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

// PruneExpired removes entries older than the cache's TTL from sourceType's
// bucket, walking oldest-first and stopping at the first still-valid entry.
func (c *Cache) PruneExpired(sourceType string) (int, error) {
	cutoff := time.Now().Add(-c.ttl)
	removed := 0
	err := c.db.Update(func(tx *bolt.Tx) error {
		b, err := bucketFor(tx, sourceType, false)
		if err != nil || b == nil {
			return err
		}
		cur := b.Cursor()
		for k, _ := cur.First(); k != nil; k, _ = cur.First() {
			ts := recordTimestamp(k)
			if ts.After(cutoff) {
				break
			}
			if err := b.Delete(k); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	return removed, err
}

func recordTimestamp(key []byte) time.Time {
	if len(key) < 8 {
		return time.Time{}
	}
	var n uint64
	for i := 0; i < 8; i++ {
		n = n<<8 | uint64(key[i])
	}
	return time.Unix(0, int64(n))
}
