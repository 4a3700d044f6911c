package gate

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

type rulesFile struct {
	PublicRoutes []string `yaml:"public_routes"`
}

// LoadRulesFile reads public route patterns from a YAML document of the form
//
//	public_routes:
//	  - /auth
//	  - /auth/(.*)
func LoadRulesFile(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("gate: read rules file: %w", err)
	}
	var doc rulesFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("gate: parse rules file: %w", err)
	}
	if len(doc.PublicRoutes) == 0 {
		return nil, errors.New("gate: rules file lists no public_routes")
	}
	return doc.PublicRoutes, nil
}

// Reload re-reads path and swaps in its rules. The previous rules are kept
// when the file is unreadable or invalid.
func (g *Gate) Reload(path string) error {
	patterns, err := LoadRulesFile(path)
	if err != nil {
		return err
	}
	if err := g.SetRules(patterns); err != nil {
		return err
	}
	g.logger.Info("gate rules reloaded", "path", path, "rules", len(patterns))
	return nil
}

// Watch reloads the rules whenever path changes until ctx is done. The parent
// directory is watched so that editors replacing the file are noticed.
func (g *Gate) Watch(ctx context.Context, path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("gate: create watcher: %w", err)
	}
	defer watcher.Close()

	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("gate: resolve rules path: %w", err)
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("gate: watch rules dir: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if err := g.Reload(abs); err != nil {
				g.logger.Warn("gate rules reload failed, keeping previous rules", "path", abs, "error", err)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			g.logger.Warn("gate rules watcher error", "error", err)
		}
	}
}
