package storage

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"
)

const tempPrefix = ".fluxpack-"

// LocalStorage publishes bundles into a directory tree, typically the document
// root of a static file server.
type LocalStorage struct {
	root string
}

// NewLocalStorage creates root if needed.
func NewLocalStorage(root string) (*LocalStorage, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create publish directory: %w", err)
	}
	return &LocalStorage{root: root}, nil
}

func (ls *LocalStorage) Name() string {
	return "local"
}

// Check creates and removes a scratch file in the root directory.
func (ls *LocalStorage) Check(ctx context.Context) error {
	info, err := os.Stat(ls.root)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTargetUnavailable, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", ErrTargetUnavailable, ls.root)
	}
	scratch, err := os.CreateTemp(ls.root, tempPrefix+"check-*")
	if err != nil {
		return fmt.Errorf("%w: %s is not writable: %v", ErrTargetUnavailable, ls.root, err)
	}
	scratch.Close()
	return os.Remove(scratch.Name())
}

func (ls *LocalStorage) path(key string) string {
	return filepath.Join(ls.root, filepath.FromSlash(key))
}

// Put writes through a temporary file renamed into place, so a server never
// sees a partial bundle.
func (ls *LocalStorage) Put(ctx context.Context, key string, data io.Reader, size int64) (*Object, error) {
	dst := ls.path(key)
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), tempPrefix+"*")
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", key, err)
	}
	defer os.Remove(tmp.Name())

	sum := md5.New()
	n, err := io.Copy(io.MultiWriter(tmp, sum), data)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return nil, fmt.Errorf("failed to write %s: %w", key, err)
	}
	if size >= 0 && n != size {
		return nil, fmt.Errorf("failed to write %s: got %d bytes, want %d", key, n, size)
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		return nil, fmt.Errorf("failed to write %s: %w", key, err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return nil, fmt.Errorf("failed to move %s into place: %w", key, err)
	}
	info, err := os.Stat(dst)
	if err != nil {
		return nil, err
	}

	log.Debug().Str("path", dst).Int64("size", n).Msg("Bundle written")
	return &Object{
		Key:          key,
		Size:         info.Size(),
		ContentType:  ContentType(key),
		CacheControl: CacheControl(key),
		LastModified: info.ModTime(),
		ETag:         hex.EncodeToString(sum.Sum(nil)),
	}, nil
}

func (ls *LocalStorage) Has(ctx context.Context, key string) (bool, error) {
	info, err := os.Stat(ls.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return info.Mode().IsRegular(), nil
}

func (ls *LocalStorage) Remove(ctx context.Context, key string) error {
	err := os.Remove(ls.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return ErrObjectNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to remove %s: %w", key, err)
	}
	log.Debug().Str("key", key).Msg("Bundle removed")
	return nil
}

// Keys walks the root directory. Temporary files of unfinished writes are
// not listed.
func (ls *LocalStorage) Keys(ctx context.Context, prefix string) ([]Object, error) {
	var objects []Object
	err := filepath.WalkDir(ls.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), tempPrefix) {
			return nil
		}
		rel, err := filepath.Rel(ls.root, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if !strings.HasPrefix(key, prefix) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		objects = append(objects, Object{
			Key:          key,
			Size:         info.Size(),
			ContentType:  ContentType(key),
			CacheControl: CacheControl(key),
			LastModified: info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", ls.root, err)
	}
	sort.Slice(objects, func(i, j int) bool { return objects[i].Key < objects[j].Key })
	return objects, nil
}
