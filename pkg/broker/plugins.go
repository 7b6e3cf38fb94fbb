package broker

import (
	"fmt"
	"sort"

	"github.com/cuemby/comet/pkg/config"
	"github.com/cuemby/comet/pkg/handler"
)

// pluginFactory builds a named handler from the broker configuration
type pluginFactory func(cfg *config.Config) (handler.Handler, error)

// plugins is the static table of handlers selectable by name
var plugins = map[string]pluginFactory{
	"save-event": func(cfg *config.Config) (handler.Handler, error) {
		return handler.NewEventWriter(cfg.SaveEventDir), nil
	},
}

// PluginNames lists the handlers that can be enabled by name
func PluginNames() []string {
	names := make([]string, 0, len(plugins))
	for name := range plugins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func loadPlugins(cfg *config.Config) ([]handler.Handler, error) {
	var handlers []handler.Handler
	seen := make(map[string]bool)
	for _, name := range cfg.Plugins {
		if seen[name] {
			continue
		}
		seen[name] = true

		factory, ok := plugins[name]
		if !ok {
			return nil, fmt.Errorf("unknown plugin %q (available: %v)", name, PluginNames())
		}
		h, err := factory(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to load plugin %q: %w", name, err)
		}
		handlers = append(handlers, h)
	}
	return handlers, nil
}
