package evalcache

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"tlog.app/go/errors"
	"tlog.app/go/tlog"
	_ "modernc.org/sqlite"

	"github.com/slowlang/mir/compiler/interp"
)

type (
	// Cache stores evaluated constants in a sqlite database.
	Cache struct {
		db *sql.DB

		mu sync.Mutex
	}
)

const schema = `CREATE TABLE IF NOT EXISTS results (
	key TEXT PRIMARY KEY,
	value BLOB NOT NULL,
	created INTEGER NOT NULL
)`

var encMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(err)
	}

	encMode = em
}

// Open opens or creates the cache at path.
func Open(ctx context.Context, path string) (c *Cache, err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "open eval cache", "path", path)
	defer tr.Finish("err", &err)

	if dir := filepath.Dir(path); dir != "." {
		err = os.MkdirAll(dir, 0o755)
		if err != nil {
			return nil, errors.Wrap(err, "mkdir")
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "open db")
	}

	defer func() {
		if err != nil {
			_ = db.Close()
		}
	}()

	_, err = db.ExecContext(ctx, "PRAGMA busy_timeout = 5000")
	if err != nil {
		return nil, errors.Wrap(err, "busy timeout")
	}

	_, err = db.ExecContext(ctx, schema)
	if err != nil {
		return nil, errors.Wrap(err, "create table")
	}

	return &Cache{db: db}, nil
}

func (c *Cache) Close() error {
	return c.db.Close()
}

// Get returns the cached value for key, nil if there is none.
// The value type is a name, callers bind it with SetType.
func (c *Cache) Get(ctx context.Context, key string) (*interp.ConstValue, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var data []byte

	err := c.db.QueryRowContext(ctx, "SELECT value FROM results WHERE key = ?", key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "query")
	}

	v, err := Decode(data)
	if err != nil {
		tlog.SpanFromContext(ctx).Printw("drop broken cache entry", "key", key, "err", err)

		return nil, nil
	}

	return v, nil
}

func (c *Cache) Put(ctx context.Context, key string, v *interp.ConstValue) error {
	data, err := Encode(v)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	_, err = c.db.ExecContext(ctx, "INSERT OR REPLACE INTO results (key, value, created) VALUES (?, ?, ?)", key, data, time.Now().Unix())
	if err != nil {
		return errors.Wrap(err, "insert")
	}

	tlog.V("cache").Printw("cache put", "key", key, "size", len(data))

	return nil
}

// Len returns the number of cached entries.
func (c *Cache) Len(ctx context.Context) (n int, err error) {
	err = c.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM results").Scan(&n)
	if err != nil {
		return 0, errors.Wrap(err, "count")
	}

	return n, nil
}

// Encode serializes v as canonical CBOR.
func Encode(v *interp.ConstValue) ([]byte, error) {
	data, err := encMode.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(err, "encode value")
	}

	return data, nil
}

func Decode(data []byte) (*interp.ConstValue, error) {
	var v interp.ConstValue

	err := cbor.Unmarshal(data, &v)
	if err != nil {
		return nil, errors.Wrap(err, "decode value")
	}

	if v.Type == "" {
		return nil, errors.New("value without a type")
	}

	return &v, nil
}
