package logging

import (
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap/zapcore"

	"github.com/eugenenazirov/minimal-api/internal/config"
)

// levelTable resolves the minimum level for a logger name. Overrides match the
// exact name or any dotted child of it; the longest match wins.
type levelTable struct {
	def       zapcore.Level
	min       zapcore.Level
	overrides []levelOverride
}

type levelOverride struct {
	name  string
	level zapcore.Level
}

func newLevelTable(cfg config.LoggingConfig) (*levelTable, error) {
	def, err := ParseLevel(cfg.MinimumLevel)
	if err != nil {
		return nil, fmt.Errorf("minimum level: %w", err)
	}

	t := &levelTable{def: def, min: def}
	for name, raw := range cfg.Overrides {
		lvl, err := ParseLevel(raw)
		if err != nil {
			return nil, fmt.Errorf("minimum level override %s: %w", name, err)
		}
		t.overrides = append(t.overrides, levelOverride{name: name, level: lvl})
		if lvl < t.min {
			t.min = lvl
		}
	}
	sort.Slice(t.overrides, func(i, j int) bool {
		return len(t.overrides[i].name) > len(t.overrides[j].name)
	})

	return t, nil
}

func (t *levelTable) levelFor(name string) zapcore.Level {
	for _, o := range t.overrides {
		if name == o.name || strings.HasPrefix(name, o.name+".") {
			return o.level
		}
	}
	return t.def
}

// ParseLevel accepts zap level names as well as "verbose", "information" and "warning".
func ParseLevel(raw string) (zapcore.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return zapcore.InfoLevel, nil
	case "verbose":
		return zapcore.DebugLevel, nil
	case "information":
		return zapcore.InfoLevel, nil
	case "warning":
		return zapcore.WarnLevel, nil
	}
	return zapcore.ParseLevel(strings.ToLower(strings.TrimSpace(raw)))
}

// levelFilterCore drops entries below the minimum level of their logger name.
type levelFilterCore struct {
	zapcore.Core
	levels *levelTable
}

func newLevelFilterCore(core zapcore.Core, levels *levelTable) zapcore.Core {
	return &levelFilterCore{Core: core, levels: levels}
}

func (c *levelFilterCore) Enabled(lvl zapcore.Level) bool {
	return lvl >= c.levels.min && c.Core.Enabled(lvl)
}

func (c *levelFilterCore) With(fields []zapcore.Field) zapcore.Core {
	return &levelFilterCore{Core: c.Core.With(fields), levels: c.levels}
}

func (c *levelFilterCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if ent.Level < c.levels.levelFor(ent.LoggerName) {
		return ce
	}
	return c.Core.Check(ent, ce)
}
