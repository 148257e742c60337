package artifacts

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"

	"mediaflow/internal/objectstore"
)

// Materialize downloads remote artifact references in value into dir and
// returns the value rewritten to local paths. Strings the store does not
// recognise (plain paths, unrelated URLs) are returned unchanged, and lists
// are handled element by element.
func (m *Manager) Materialize(ctx context.Context, value any, dir string) (any, error) {
	if !m.Enabled() {
		return value, nil
	}
	switch v := value.(type) {
	case string:
		return m.materializeOne(ctx, v, dir)
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			local, err := m.Materialize(ctx, item, dir)
			if err != nil {
				return nil, err
			}
			out[i] = local
		}
		return out, nil
	case []string:
		out := make([]any, len(v))
		for i, item := range v {
			local, err := m.materializeOne(ctx, item, dir)
			if err != nil {
				return nil, err
			}
			out[i] = local
		}
		return out, nil
	}
	return value, nil
}

// MaterializeParams applies Materialize to every parameter value.
func (m *Manager) MaterializeParams(ctx context.Context, params map[string]any, dir string) (map[string]any, error) {
	if !m.Enabled() || len(params) == 0 {
		return params, nil
	}
	out := make(map[string]any, len(params))
	for key, value := range params {
		local, err := m.Materialize(ctx, value, dir)
		if err != nil {
			return nil, fmt.Errorf("materialize %s: %w", key, err)
		}
		out[key] = local
	}
	return out, nil
}

func (m *Manager) materializeOne(ctx context.Context, value, dir string) (any, error) {
	if !objectstore.IsRemoteURL(value) {
		return value, nil
	}
	u, err := url.Parse(value)
	if err != nil {
		return value, nil
	}
	name := path.Base(u.Path)
	if name == "." || name == "/" || name == "" {
		return value, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create materialize dir: %w", err)
	}
	local := filepath.Join(dir, name)
	if info, err := os.Stat(local); err == nil && !info.IsDir() {
		return local, nil
	}
	if err := m.store.Get(ctx, value, local); err != nil {
		if errors.Is(err, objectstore.ErrUnsupportedURL) {
			return value, nil
		}
		return nil, err
	}
	return local, nil
}
