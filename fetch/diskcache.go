package fetch

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Directory names within the disk cache root.
const (
	objectsDir = "objects"
	tmpDir     = "tmp"
)

const metaSuffix = ".meta"

// diskMeta is the sidecar record stored next to each object.
type diskMeta struct {
	Timestamp   time.Time     `json:"timestamp"`
	TTL         time.Duration `json:"ttl"`
	ContentType string        `json:"contentType,omitempty"`
	ExactType   bool          `json:"exactType,omitempty"`
}

// diskCache is the persistent content-addressed tier. Objects survive
// process restarts; the tier is consulted only on a tier-1 miss and
// repopulates tier-1 on a hit. Writes go through a temp file and an
// atomic rename.
type diskCache struct {
	root string
}

func newDiskCache(root string) (*diskCache, error) {
	for _, dir := range []string{
		root,
		filepath.Join(root, objectsDir),
		filepath.Join(root, tmpDir),
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating cache directory %s: %w", dir, err)
		}
	}
	return &diskCache{root: root}, nil
}

func (c *diskCache) objectPath(key Key) string {
	return filepath.Join(c.root, objectsDir, key.Hex())
}

func (c *diskCache) get(key Key, now time.Time) (*entry, bool) {
	path := c.objectPath(key)

	metaBytes, err := os.ReadFile(path + metaSuffix)
	if err != nil {
		return nil, false
	}
	var meta diskMeta
	if err := json.Unmarshal(metaBytes, &meta); err != nil {
		c.remove(key)
		return nil, false
	}

	ent := &entry{
		Timestamp:   meta.Timestamp,
		TTL:         meta.TTL,
		ContentType: meta.ContentType,
		ExactType:   meta.ExactType,
	}
	if !ent.valid(now) {
		c.remove(key)
		return nil, false
	}

	data, err := os.ReadFile(path)
	if err != nil {
		c.remove(key)
		return nil, false
	}
	ent.Bytes = data
	return ent, true
}

func (c *diskCache) put(key Key, ent *entry) error {
	metaBytes, err := json.Marshal(diskMeta{
		Timestamp:   ent.Timestamp,
		TTL:         ent.TTL,
		ContentType: ent.ContentType,
		ExactType:   ent.ExactType,
	})
	if err != nil {
		return err
	}

	path := c.objectPath(key)
	if err := c.writeAtomic(path, ent.Bytes); err != nil {
		return err
	}
	return c.writeAtomic(path+metaSuffix, metaBytes)
}

// writeAtomic writes through a temp file and renames into place so a
// crash never leaves a partial object visible.
func (c *diskCache) writeAtomic(dst string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Join(c.root, tmpDir), "obj-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, dst)
}

func (c *diskCache) remove(key Key) {
	path := c.objectPath(key)
	os.Remove(path)
	os.Remove(path + metaSuffix)
}

// pruneExpired walks the object directory and removes entries whose
// TTL has elapsed. Called on open; misses during reads also purge.
func (c *diskCache) pruneExpired(now time.Time) {
	dir := filepath.Join(c.root, objectsDir)
	names, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, de := range names {
		if !strings.HasSuffix(de.Name(), metaSuffix) {
			continue
		}
		metaBytes, err := os.ReadFile(filepath.Join(dir, de.Name()))
		if err != nil {
			continue
		}
		var meta diskMeta
		if err := json.Unmarshal(metaBytes, &meta); err != nil || now.Sub(meta.Timestamp) >= meta.TTL {
			base := strings.TrimSuffix(de.Name(), metaSuffix)
			os.Remove(filepath.Join(dir, base))
			os.Remove(filepath.Join(dir, de.Name()))
		}
	}
}

func (c *diskCache) clear() {
	dir := filepath.Join(c.root, objectsDir)
	names, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, de := range names {
		os.Remove(filepath.Join(dir, de.Name()))
	}
}
