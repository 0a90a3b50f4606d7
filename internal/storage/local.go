package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

type LocalProvider struct {
	baseDir string
}

var _ Provider = &LocalProvider{}

func NewLocalProvider(dir string) (*LocalProvider, error) {
	baseDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path for %s: %w", dir, err)
	}

	return &LocalProvider{baseDir: baseDir}, nil
}

func (p *LocalProvider) fullpath(bucket, key string) string {
	return filepath.Join(p.baseDir, bucket, filepath.FromSlash(key))
}

func (p *LocalProvider) CreateBucket(ctx context.Context, bucket string) error {
	if err := os.MkdirAll(filepath.Join(p.baseDir, bucket), os.ModePerm); err != nil {
		return fmt.Errorf("failed to create bucket dir %s: %w", bucket, err)
	}
	return nil
}

func (p *LocalProvider) GetObject(ctx context.Context, bucket, key string) ([]byte, error) {
	data, err := os.ReadFile(p.fullpath(bucket, key))
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s/%s: %w", bucket, key, err)
	}
	return data, nil
}

func (p *LocalProvider) GetObjectStream(bucket, key string) (io.Reader, error) {
	data, err := p.GetObject(context.Background(), bucket, key)
	if err != nil {
		return nil, err
	}
	return bytes.NewReader(data), nil
}

func (p *LocalProvider) PutObject(ctx context.Context, bucket, key string, data io.Reader) error {
	path := p.fullpath(bucket, key)
	if err := os.MkdirAll(filepath.Dir(path), os.ModePerm); err != nil {
		return fmt.Errorf("failed to create directory for %s/%s: %w", bucket, key, err)
	}

	dst, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file %s/%s: %w", bucket, key, err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, data); err != nil {
		return fmt.Errorf("failed to write file %s/%s: %w", bucket, key, err)
	}

	return nil
}

func (p *LocalProvider) ListObjects(ctx context.Context, bucket, prefix string) ([]Object, error) {
	root := filepath.Join(p.baseDir, bucket)

	var objects []Object
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) && path == root {
				return filepath.SkipAll
			}
			return err
		}
		if d.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(root, path)
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

		objects = append(objects, Object{Name: key, Size: info.Size()})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list objects in %s/%s: %w", bucket, prefix, err)
	}

	return objects, nil
}

func (p *LocalProvider) DeleteObjects(ctx context.Context, bucket, prefix string) error {
	objects, err := p.ListObjects(ctx, bucket, prefix)
	if err != nil {
		return err
	}

	for _, obj := range objects {
		if err := os.Remove(p.fullpath(bucket, obj.Name)); err != nil {
			return fmt.Errorf("failed to delete object %s/%s: %w", bucket, obj.Name, err)
		}
	}

	return nil
}
