package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/driftline/nasgate/internal/gate"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// filterConfigFile is the on-disk shape of the gating configuration.
// YAML and JSON are both accepted, chosen by file extension.
type filterConfigFile struct {
	TaskTypeAllowlists map[string][]string `json:"task_type_allowlists" yaml:"task_type_allowlists"`
	MaxTools           int                 `json:"max_tools" yaml:"max_tools"`
	Blocklist          []string            `json:"blocklist" yaml:"blocklist"`
	IntentKeywords     map[string][]string `json:"intent_keywords" yaml:"intent_keywords"`
}

// LoadFilterConfig reads the gating config from disk. A missing or
// malformed file falls back to allowlists auto-generated from the
// catalog's own task-type tags, an empty blocklist, and the default
// tool cap. The second return value is the intent keyword override
// mapping, nil when absent.
func LoadFilterConfig(path string, catalog map[string]*gate.Tool, defaultMaxTools int, logger *zap.Logger) (gate.FilterConfig, map[string][]string) {
	fallback := gate.FilterConfig{
		TaskTypeAllowlists: defaultAllowlists(catalog),
		MaxTools:           defaultMaxTools,
		Blocklist:          []string{},
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		logger.Warn("filter config not found; using automatic defaults",
			zap.String("path", path),
		)
		return fallback, nil
	}

	var file filterConfigFile
	if isYAMLPath(path) {
		err = yaml.Unmarshal(raw, &file)
	} else {
		err = json.Unmarshal(raw, &file)
	}
	if err != nil {
		logger.Error("invalid filter config; using automatic defaults",
			zap.String("path", path),
			zap.Error(err),
		)
		return fallback, nil
	}

	cfg := gate.FilterConfig{
		TaskTypeAllowlists: file.TaskTypeAllowlists,
		MaxTools:           file.MaxTools,
		Blocklist:          file.Blocklist,
	}
	if len(cfg.TaskTypeAllowlists) == 0 {
		cfg.TaskTypeAllowlists = fallback.TaskTypeAllowlists
	}
	if cfg.MaxTools <= 0 {
		cfg.MaxTools = defaultMaxTools
	}
	if cfg.Blocklist == nil {
		cfg.Blocklist = []string{}
	}

	return cfg, file.IntentKeywords
}

// defaultAllowlists enumerates the task types declared on every
// registered tool.
func defaultAllowlists(catalog map[string]*gate.Tool) map[string][]string {
	allowlists := make(map[string][]string)
	for name, tool := range catalog {
		for _, tt := range tool.TaskTypes {
			allowlists[tt] = append(allowlists[tt], name)
		}
	}
	return allowlists
}

func isYAMLPath(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	default:
		return false
	}
}
