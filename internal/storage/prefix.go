package storage

import (
	"context"
	"strings"
)

type prefixAdapter struct {
	base   Adapter
	prefix string
}

// WithPrefix returns a view of base scoped under prefix. Keys are
// rewritten to "prefix/key" on the way in and trimmed on the way out;
// List only reports keys under the prefix. Closing the view is a no-op
// so the shared base adapter stays open.
func WithPrefix(base Adapter, prefix string) Adapter {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return base
	}
	return &prefixAdapter{base: base, prefix: prefix + "/"}
}

func (p *prefixAdapter) Read(ctx context.Context, key string) ([]byte, error) {
	return p.base.Read(ctx, p.prefix+key)
}

func (p *prefixAdapter) Write(ctx context.Context, key string, data []byte) error {
	return p.base.Write(ctx, p.prefix+key, data)
}

func (p *prefixAdapter) Remove(ctx context.Context, key string) error {
	return p.base.Remove(ctx, p.prefix+key)
}

func (p *prefixAdapter) List(ctx context.Context) ([]string, error) {
	keys, err := p.base.List(ctx)
	if err != nil {
		return nil, err
	}
	var scoped []string
	for _, key := range keys {
		if strings.HasPrefix(key, p.prefix) {
			scoped = append(scoped, strings.TrimPrefix(key, p.prefix))
		}
	}
	return scoped, nil
}

func (p *prefixAdapter) Close() error { return nil }
