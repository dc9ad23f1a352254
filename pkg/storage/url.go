package storage

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
)

// Open resolves a storage URL to a backend. "s3://bucket/prefix" selects
// S3; anything else is treated as a local directory.
func Open(rawURL string, cfg aws.Config) (BlobStore, error) {
	if strings.HasPrefix(rawURL, "s3://") {
		u, err := url.Parse(rawURL)
		if err != nil {
			return nil, fmt.Errorf("invalid s3 url: %v", err)
		}
		if u.Host == "" {
			return nil, fmt.Errorf("s3 url %q has no bucket", rawURL)
		}
		store := NewS3Store(cfg, u.Host)
		if prefix := strings.TrimPrefix(u.Path, "/"); prefix != "" {
			return &prefixedStore{inner: store, prefix: prefix}, nil
		}
		return store, nil
	}
	return NewLocalStore(rawURL), nil
}

// prefixedStore namespaces every key under a fixed prefix.
type prefixedStore struct {
	inner  BlobStore
	prefix string
}

func (p *prefixedStore) key(k string) string {
	return p.prefix + "/" + k
}

func (p *prefixedStore) Put(ctx context.Context, key string, data []byte) error {
	return p.inner.Put(ctx, p.key(key), data)
}

func (p *prefixedStore) Get(ctx context.Context, key string) ([]byte, error) {
	return p.inner.Get(ctx, p.key(key))
}

func (p *prefixedStore) List(ctx context.Context, prefix string) ([]string, error) {
	keys, err := p.inner.List(ctx, p.key(prefix))
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, strings.TrimPrefix(k, p.prefix+"/"))
	}
	return out, nil
}
