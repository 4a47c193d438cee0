package schema

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/querydesk/querydesk/internal/storage"
)

var ErrCacheMiss = errors.New("schema cache miss")

// EncodeColumns renders the persisted cache format: a JSON array of columns.
func EncodeColumns(columns []Column) ([]byte, error) {
	if columns == nil {
		columns = []Column{}
	}
	payload, err := json.MarshalIndent(columns, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode schema columns: %w", err)
	}
	return payload, nil
}

func DecodeColumns(payload []byte) ([]Column, error) {
	var columns []Column
	if err := json.Unmarshal(payload, &columns); err != nil {
		return nil, fmt.Errorf("decode schema columns: %w", err)
	}
	return columns, nil
}

// FileCache stores the snapshot in a local JSON file. The file mtime is the
// snapshot publish time on load.
type FileCache struct {
	Path string
}

func (c FileCache) Load(_ context.Context) ([]Column, time.Time, error) {
	info, err := os.Stat(c.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, time.Time{}, ErrCacheMiss
	}
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("stat schema cache %s: %w", c.Path, err)
	}
	payload, err := os.ReadFile(c.Path)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("read schema cache %s: %w", c.Path, err)
	}
	columns, err := DecodeColumns(payload)
	if err != nil {
		return nil, time.Time{}, err
	}
	return columns, info.ModTime().UTC(), nil
}

func (c FileCache) Save(_ context.Context, snapshot *Snapshot) error {
	payload, err := EncodeColumns(snapshot.Columns())
	if err != nil {
		return err
	}
	dir := filepath.Dir(c.Path)
	tmp, err := os.CreateTemp(dir, ".schema-cache-*")
	if err != nil {
		return fmt.Errorf("create schema cache temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(payload); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write schema cache: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close schema cache: %w", err)
	}
	if err := os.Rename(tmpName, c.Path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace schema cache %s: %w", c.Path, err)
	}
	if published := snapshot.PublishedAt(); !published.IsZero() {
		_ = os.Chtimes(c.Path, published, published)
	}
	return nil
}

// ObjectCache mirrors the snapshot to an object store key.
type ObjectCache struct {
	Store storage.ObjectStore
	Key   string
}

func (c ObjectCache) Load(ctx context.Context) ([]Column, time.Time, error) {
	info, err := c.Store.Stat(ctx, c.Key)
	if errors.Is(err, storage.ErrObjectNotFound) {
		return nil, time.Time{}, ErrCacheMiss
	}
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("stat schema cache object %s: %w", c.Key, err)
	}
	reader, err := c.Store.Get(ctx, c.Key)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("get schema cache object %s: %w", c.Key, err)
	}
	defer reader.Close()
	payload, err := io.ReadAll(reader)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("read schema cache object %s: %w", c.Key, err)
	}
	columns, err := DecodeColumns(payload)
	if err != nil {
		return nil, time.Time{}, err
	}
	return columns, info.LastModified.UTC(), nil
}

func (c ObjectCache) Save(ctx context.Context, snapshot *Snapshot) error {
	payload, err := EncodeColumns(snapshot.Columns())
	if err != nil {
		return err
	}
	if _, err := c.Store.Put(ctx, c.Key, bytes.NewReader(payload), int64(len(payload)), storage.PutOptions{ContentType: "application/json"}); err != nil {
		return fmt.Errorf("put schema cache object %s: %w", c.Key, err)
	}
	return nil
}
