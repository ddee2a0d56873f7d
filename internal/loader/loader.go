// Package loader implements the file-kind dispatch step: data files are
// parsed through the sandbox's own parser, native addons
// go through the host's addon loader, and everything else is handed to
// the Executor. The Loader never resolves paths itself; it is always
// called with an already-resolved path and a pre-registered Record.
package loader

import (
	"path/filepath"
	"strings"

	"github.com/quartz-run/quartz/internal/executor"
	"github.com/quartz-run/quartz/internal/policy"
	"github.com/quartz-run/quartz/internal/registry"
	"github.com/quartz-run/quartz/pkg/quartz/v1/hostfs"
	"github.com/quartz-run/quartz/pkg/quartz/v1/resolver"
	"github.com/quartz-run/quartz/pkg/quartz/v1/transform"
)

const (
	dataExtension        = ".json"
	nativeAddonExtension = ".node"
	byteOrderMark        = "\uFEFF"
)

// Loader dispatches a pre-registered record to the right loading path
// for its resolved file's kind.
type Loader struct {
	fs          hostfs.FS
	transformer transform.Transformer
	executor    *executor.Executor
}

// New constructs a Loader.
func New(fs hostfs.FS, t transform.Transformer, x *executor.Executor) *Loader {
	return &Loader{fs: fs, transformer: t, executor: x}
}

// Load populates record.Exports per record's resolved path's kind and
// marks it loaded on success. request is the original require() request
// string; Load dispatches on path alone and does not consult it.
func (l *Loader) Load(record *registry.Record, request string, path resolver.ModuleKey, intent policy.Intent) error {
	switch filepath.Ext(path) {
	case dataExtension:
		if err := l.loadData(record, path); err != nil {
			return err
		}
	case nativeAddonExtension:
		exports, err := l.executor.LoadNativeAddon(path)
		if err != nil {
			return err
		}
		record.Exports = exports
	default:
		if err := l.executor.Run(record, intent); err != nil {
			return err
		}
	}

	record.Loaded = true
	return nil
}

func (l *Loader) loadData(record *registry.Record, path resolver.ModuleKey) error {
	text, err := l.fs.ReadFile(path)
	if err != nil {
		return err
	}
	text = strings.TrimPrefix(text, byteOrderMark)

	parsed, err := l.transformer.TransformJSON(path, nil, text)
	if err != nil {
		return err
	}

	value, err := l.executor.EvalJSON(parsed)
	if err != nil {
		return err
	}
	record.Exports = value
	return nil
}
