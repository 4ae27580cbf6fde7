package queue

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/scanrelay/scanrelay/internal/conf"
	"github.com/scanrelay/scanrelay/internal/errors"
)

// Store persists opaque values under string keys. Load returns nil, nil for a
// key that was never saved.
type Store interface {
	Load(key string) ([]byte, error)
	Save(key string, value []byte) error
	Close() error
}

// OpenStore opens the backend selected in settings.
func OpenStore(settings *conf.QueueSettings) (Store, error) {
	switch settings.Backend {
	case "", "file":
		return NewFileStore(settings.Path), nil
	case "sqlite":
		return OpenSQLite(settings.Path)
	case "mysql":
		return OpenMySQL(settings.DSN)
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, errors.Newf("unknown queue backend %q", settings.Backend).
			Component("queue").
			Category(errors.CategoryConfiguration).
			Build()
	}
}

// MemoryStore keeps values in process memory. It is the fallback when the
// configured backend cannot be opened.
type MemoryStore struct {
	mu     sync.Mutex
	values map[string][]byte
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string][]byte)}
}

func (m *MemoryStore) Load(key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), v...), nil
}

func (m *MemoryStore) Save(key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = append([]byte(nil), value...)
	return nil
}

func (m *MemoryStore) Close() error { return nil }

// FileStore keeps all keys in one JSON document written atomically.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore creates a store backed by path. The file is created on first save.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (f *FileStore) readAll() (map[string]json.RawMessage, error) {
	data, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return map[string]json.RawMessage{}, nil
	}
	if err != nil {
		return nil, f.wrap(err, "read")
	}
	doc := map[string]json.RawMessage{}
	if len(data) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, f.wrap(err, "decode")
	}
	return doc, nil
}

// Load implements Store.
func (f *FileStore) Load(key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	doc, err := f.readAll()
	if err != nil {
		return nil, err
	}
	v, ok := doc[key]
	if !ok {
		return nil, nil
	}
	return v, nil
}

// Save implements Store. value must be valid JSON.
func (f *FileStore) Save(key string, value []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	doc, err := f.readAll()
	if err != nil {
		// A corrupt document is replaced rather than blocking every future save.
		doc = map[string]json.RawMessage{}
	}
	doc[key] = json.RawMessage(value)

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return f.wrap(err, "encode")
	}
	if dir := filepath.Dir(f.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return f.wrap(err, "mkdir")
		}
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".queue-*.tmp")
	if err != nil {
		return f.wrap(err, "create temp")
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return f.wrap(err, "write")
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return f.wrap(err, "sync")
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return f.wrap(err, "close")
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		_ = os.Remove(tmpName)
		return f.wrap(err, "rename")
	}
	return nil
}

func (f *FileStore) Close() error { return nil }

func (f *FileStore) wrap(err error, op string) error {
	return errors.New(err).
		Component("queue").
		Category(errors.CategoryPersistence).
		Context("operation", op).
		Context("path", f.path).
		Build()
}

// KeyValue is the row type of the SQL store.
type KeyValue struct {
	Key       string `gorm:"primaryKey;size:191"`
	Value     string `gorm:"type:text"`
	UpdatedAt time.Time
}

// TableName pins the table name independent of gorm naming strategy.
func (KeyValue) TableName() string { return "scanrelay_kv" }

// SQLStore keeps values in a single key/value table via gorm.
type SQLStore struct {
	db *gorm.DB
}

// OpenSQLite opens (or creates) a SQLite database at path. ":memory:" is accepted.
func OpenSQLite(path string) (*SQLStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, errors.New(err).Component("queue").Category(errors.CategoryPersistence).Build()
		}
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	if err != nil {
		return nil, errors.New(err).
			Component("queue").
			Category(errors.CategoryPersistence).
			Context("backend", "sqlite").
			Build()
	}
	return NewSQLStore(db)
}

// OpenMySQL connects to MySQL using dsn.
func OpenMySQL(dsn string) (*SQLStore, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	if err != nil {
		return nil, errors.New(err).
			Component("queue").
			Category(errors.CategoryPersistence).
			Context("backend", "mysql").
			Build()
	}
	return NewSQLStore(db)
}

// NewSQLStore migrates the key/value table on db.
func NewSQLStore(db *gorm.DB) (*SQLStore, error) {
	if err := db.AutoMigrate(&KeyValue{}); err != nil {
		return nil, errors.New(err).
			Component("queue").
			Category(errors.CategoryPersistence).
			Context("operation", "migrate").
			Build()
	}
	return &SQLStore{db: db}, nil
}

// Load implements Store.
func (s *SQLStore) Load(key string) ([]byte, error) {
	var kv KeyValue
	err := s.db.Where("`key` = ?", key).Limit(1).Find(&kv).Error
	if err != nil {
		return nil, errors.New(err).Component("queue").Category(errors.CategoryPersistence).Build()
	}
	if kv.Key == "" {
		return nil, nil
	}
	return []byte(kv.Value), nil
}

// Save implements Store.
func (s *SQLStore) Save(key string, value []byte) error {
	kv := KeyValue{Key: key, Value: string(value)}
	if err := s.db.Save(&kv).Error; err != nil {
		return errors.New(err).
			Component("queue").
			Category(errors.CategoryPersistence).
			Context("operation", "save").
			Build()
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *SQLStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
