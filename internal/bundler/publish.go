package bundler

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/fluxbase-eu/fluxpack/internal/naming"
	"github.com/fluxbase-eu/fluxpack/internal/observability"
	"github.com/fluxbase-eu/fluxpack/internal/storage"
	"github.com/rs/zerolog/log"
)

// PublishOptions configures Publish.
type PublishOptions struct {
	// Prune deletes published hashed bundles that are not part of the result.
	Prune bool
}

// PublishResult lists what Publish changed at the target.
type PublishResult struct {
	Uploaded []string `json:"uploaded"`
	Skipped  []string `json:"skipped"`
	Pruned   []string `json:"pruned"`
}

// Publish copies every registered bundle of res from buildDir to the target
// under "_aleph/<filename>". Bundles already present are skipped since hashed
// names are immutable. Nothing is written unless the target passes its check.
func Publish(ctx context.Context, res *Result, buildDir string, target storage.Provider, opts PublishOptions) (*PublishResult, error) {
	if err := target.Check(ctx); err != nil {
		return nil, err
	}

	out := &PublishResult{}
	current := make(map[string]struct{}, len(res.Files))

	for _, name := range res.Names() {
		filename := res.Files[name]
		key := publishKey(filename)
		current[key] = struct{}{}

		exists, err := target.Has(ctx, key)
		if err != nil {
			return out, fmt.Errorf("failed to check %s: %w", key, err)
		}
		if exists {
			out.Skipped = append(out.Skipped, key)
			continue
		}

		if err := upload(ctx, target, filepath.Join(buildDir, filepath.FromSlash(filename)), key); err != nil {
			return out, err
		}
		out.Uploaded = append(out.Uploaded, key)
	}

	if opts.Prune {
		pruned, err := prune(ctx, target, current)
		out.Pruned = pruned
		if err != nil {
			return out, err
		}
	}

	log.Info().
		Str("provider", target.Name()).
		Int("uploaded", len(out.Uploaded)).
		Int("skipped", len(out.Skipped)).
		Int("pruned", len(out.Pruned)).
		Msg("Bundles published")
	return out, nil
}

func publishKey(filename string) string {
	return PublicDir + "/" + strings.TrimPrefix(filename, "/")
}

func upload(ctx context.Context, target storage.Provider, src, key string) (err error) {
	ctx, span := observability.StartStorageSpan(ctx, "upload", target.Name(), key)
	defer func() { observability.EndSpan(span, err) }()

	f, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open bundle: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat bundle: %w", err)
	}
	if _, err := target.Put(ctx, key, f, info.Size()); err != nil {
		return fmt.Errorf("failed to publish %s: %w", key, err)
	}
	return nil
}

// prune removes published hashed bundles whose logical name has a current
// bundle with a different hash.
func prune(ctx context.Context, target storage.Provider, current map[string]struct{}) ([]string, error) {
	live := make(map[string]struct{}, len(current))
	for key := range current {
		live[path.Join(path.Dir(key), naming.LogicalName(path.Base(key)))] = struct{}{}
	}

	objects, err := target.Keys(ctx, PublicDir+"/")
	if err != nil {
		return nil, fmt.Errorf("failed to list published bundles: %w", err)
	}

	var pruned []string
	for _, obj := range objects {
		if _, ok := current[obj.Key]; ok || !naming.IsHashedJS(obj.Key) {
			continue
		}
		logical := path.Join(path.Dir(obj.Key), naming.LogicalName(path.Base(obj.Key)))
		if _, ok := live[logical]; !ok {
			continue
		}
		if err := target.Remove(ctx, obj.Key); err != nil {
			return pruned, fmt.Errorf("failed to prune %s: %w", obj.Key, err)
		}
		pruned = append(pruned, obj.Key)
	}
	return pruned, nil
}
