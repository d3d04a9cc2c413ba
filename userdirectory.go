package chatlogd

import (
	"context"
	"fmt"
	"sync"

	bolt "go.etcd.io/bbolt"
)

// UserDirectory resolves a login name to its stable numeric id.
// Implementations may cache however they like; BoltUserDirectory below is
// the one this repo ships.
type UserDirectory interface {
	Resolve(ctx context.Context, login string) (id string, err error)
}

// ResolverFunc performs the actual upstream lookup against the chat
// platform's user-lookup API, kept external to this repo. BoltUserDirectory
// calls it only on a cache miss.
type ResolverFunc func(ctx context.Context, login string) (string, error)

var usersBucket = []byte("users")

// ErrResolverNotConfigured is returned by a ResolverFunc placeholder when
// no real upstream user-lookup API has been wired in yet.
var ErrResolverNotConfigured = fmt.Errorf("user directory: no resolver configured")

// BoltUserDirectory fronts ResolverFunc with an in-process LRU and a
// bbolt-backed durable cache, so a process restart does not re-incur
// network lookups for logins it has already resolved.
type BoltUserDirectory struct {
	db      *bolt.DB
	resolve ResolverFunc
	memCap  int

	mu  sync.Mutex
	mem map[string]string
	lru []string // most-recent login at the end
}

// OpenBoltUserDirectory opens (creating if needed) a bbolt database at
// dbPath to back the durable login->id cache.
func OpenBoltUserDirectory(dbPath string, memCacheSize int, resolve ResolverFunc) (*BoltUserDirectory, error) {
	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("user directory: open %q: %w", dbPath, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(usersBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("user directory: create bucket: %w", err)
	}
	return &BoltUserDirectory{
		db:      db,
		resolve: resolve,
		memCap:  memCacheSize,
		mem:     make(map[string]string),
	}, nil
}

// Resolve returns the id for login, checking the in-process LRU, then the
// bbolt cache, then finally calling the injected resolver and persisting
// the result.
func (d *BoltUserDirectory) Resolve(ctx context.Context, login string) (string, error) {
	if id, ok := d.memGet(login); ok {
		return id, nil
	}

	if id, ok, err := d.boltGet(login); err != nil {
		return "", err
	} else if ok {
		d.memPut(login, id)
		return id, nil
	}

	id, err := d.resolve(ctx, login)
	if err != nil {
		return "", fmt.Errorf("user directory: resolve %q: %w", login, err)
	}

	if err := d.boltPut(login, id); err != nil {
		return "", err
	}
	d.memPut(login, id)
	return id, nil
}

func (d *BoltUserDirectory) memGet(login string) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	id, ok := d.mem[login]
	if ok {
		for i, l := range d.lru {
			if l == login {
				d.lru = append(d.lru[:i], d.lru[i+1:]...)
				break
			}
		}
		d.lru = append(d.lru, login)
	}
	return id, ok
}

func (d *BoltUserDirectory) memPut(login, id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.mem[login]; !exists && d.memCap > 0 && len(d.mem) >= d.memCap {
		oldest := d.lru[0]
		d.lru = d.lru[1:]
		delete(d.mem, oldest)
	}
	d.mem[login] = id
	d.lru = append(d.lru, login)
}

func (d *BoltUserDirectory) boltGet(login string) (string, bool, error) {
	var id string
	err := d.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(usersBucket).Get([]byte(login))
		if v != nil {
			id = string(v)
		}
		return nil
	})
	if err != nil {
		return "", false, fmt.Errorf("user directory: read %q: %w", login, err)
	}
	return id, id != "", nil
}

func (d *BoltUserDirectory) boltPut(login, id string) error {
	err := d.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(usersBucket).Put([]byte(login), []byte(id))
	})
	if err != nil {
		return fmt.Errorf("user directory: write %q: %w", login, err)
	}
	return nil
}

// Close closes the underlying bbolt database.
func (d *BoltUserDirectory) Close() error {
	return d.db.Close()
}
