package config

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/hyp3rd/ewrap"
	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultConfigFile is read by FileLoader when no path is set.
	DefaultConfigFile = "statsock.yaml"
	// DefaultEnvPrefix is the variable prefix EnvLoader looks for.
	DefaultEnvPrefix = "STATSOCK_"

	errMsgUnableToReadConfigFromPath = "read config file %q"
)

// Loader transforms external sources into configuration maps that are decoded onto Config.
type Loader interface {
	Load(ctx context.Context) (map[string]any, error)
}

// LoaderFunc adapts ordinary functions into Loader.
type LoaderFunc func(ctx context.Context) (map[string]any, error)

// Load implements Loader.
func (lf LoaderFunc) Load(ctx context.Context) (map[string]any, error) {
	return lf(ctx)
}

// errLoaderSkip marks a source that has nothing to contribute.
var errLoaderSkip = ewrap.New("config loader skip")

// Load runs loaders sequentially, layering their fields over DefaultConfig().
func Load(ctx context.Context, loaders ...Loader) (Config, error) {
	cfg := DefaultConfig()

	for _, loader := range loaders {
		if loader == nil {
			continue
		}

		values, err := loader.Load(ctx)
		if err != nil {
			if errors.Is(err, errLoaderSkip) {
				continue
			}

			return Config{}, err
		}

		if len(values) == 0 {
			continue
		}

		err = decodeInto(&cfg, values)
		if err != nil {
			return Config{}, ewrap.Wrap(err, "decode config")
		}
	}

	err := Validate(cfg)
	if err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func decodeInto(target *Config, input map[string]any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "yaml",
		Result:           target,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
		),
	})
	if err != nil {
		return ewrap.Wrap(err, "create decoder")
	}

	err = decoder.Decode(input)
	if err != nil {
		return ewrap.Wrap(err, "decode values")
	}

	return nil
}

// FileLoader loads configuration from a YAML file. A missing file is skipped.
type FileLoader struct {
	Path string
	FS   fs.FS
}

// ResolvedPath returns the file the loader reads.
func (fl FileLoader) ResolvedPath() string {
	if fl.Path == "" {
		return DefaultConfigFile
	}

	return fl.Path
}

// Load implements Loader.
func (fl FileLoader) Load(_ context.Context) (map[string]any, error) {
	path := fl.ResolvedPath()

	data, err := readFile(fl.FS, path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, errLoaderSkip
		}

		return nil, err
	}

	var out map[string]any

	err = yaml.Unmarshal(data, &out)
	if err != nil {
		return nil, ewrap.Wrapf(err, "unmarshal yaml %q", path)
	}

	return sanitizeMap(out), nil
}

func readFile(fsys fs.FS, path string) ([]byte, error) {
	var (
		data []byte
		err  error
	)

	if fsys != nil {
		data, err = fs.ReadFile(fsys, filepath.Clean(path))
	} else {
		data, err = os.ReadFile(filepath.Clean(path))
	}

	if err != nil {
		return nil, ewrap.Wrapf(err, errMsgUnableToReadConfigFromPath, path)
	}

	return data, nil
}

// EnvLoader reads configuration overrides from environment variables.
// Nesting is expressed with a double underscore: STATSOCK_SOCKET__PATH.
type EnvLoader struct {
	Prefix string
}

// Load implements Loader.
func (el EnvLoader) Load(ctx context.Context) (map[string]any, error) {
	prefix := el.Prefix
	if prefix == "" {
		prefix = DefaultEnvPrefix
	}

	result := map[string]any{}

	for _, kv := range os.Environ() {
		select {
		case <-ctx.Done():
			return nil, ewrap.Wrap(ctx.Err(), "context canceled")
		default:
		}

		key, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(key, prefix) {
			continue
		}

		path := envKeyToPath(strings.TrimPrefix(key, prefix))
		if len(path) == 0 {
			continue
		}

		result = setNested(result, path, value)
	}

	if len(result) == 0 {
		return nil, errLoaderSkip
	}

	return result, nil
}

func envKeyToPath(key string) []string {
	key = strings.ToLower(key)
	key = strings.ReplaceAll(key, "__", ".")
	key = strings.ReplaceAll(key, "-", "_")

	segments := strings.Split(key, ".")

	filtered := segments[:0]
	for _, seg := range segments {
		if seg == "" {
			continue
		}

		filtered = append(filtered, seg)
	}

	return filtered
}

func setNested(root map[string]any, path []string, value any) map[string]any {
	if root == nil {
		root = map[string]any{}
	}

	cursor := root

	for idx, segment := range path {
		if idx == len(path)-1 {
			cursor[segment] = value

			return root
		}

		next, ok := cursor[segment].(map[string]any)
		if !ok || next == nil {
			next = map[string]any{}
			cursor[segment] = next
		}

		cursor = next
	}

	return root
}

// sanitizeMap round-trips YAML output through JSON so nested maps become map[string]any.
func sanitizeMap(in map[string]any) map[string]any {
	data, err := json.Marshal(in)
	if err != nil {
		return in
	}

	var out map[string]any

	err = json.Unmarshal(data, &out)
	if err != nil {
		return in
	}

	return out
}
