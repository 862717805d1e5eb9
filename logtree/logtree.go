// Package logtree gives every core subsystem a named, hierarchical
// logger, mirroring the original LogTree (dotted path, per-subtree
// child) while delegating formatting and level filtering to logrus.
package logtree

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// LogTree is one node in a dotted-path logger hierarchy rooted at some
// top-level label (e.g. "ipmc"). Each node carries its own *logrus.Entry
// with a "path" field so log aggregation can filter on subsystem.
type LogTree struct {
	label  string
	path   string
	parent *LogTree
	logger *logrus.Logger
	entry  *logrus.Entry

	mu       sync.Mutex
	children map[string]*LogTree
}

// NewRoot creates a root LogTree node backed by a fresh logrus.Logger.
func NewRoot(rootLabel string) *LogTree {
	logger := logrus.New()
	t := &LogTree{
		label:    rootLabel,
		path:     rootLabel,
		logger:   logger,
		children: make(map[string]*LogTree),
	}
	t.entry = logger.WithField("path", t.path)
	return t
}

// Child returns (creating if necessary) the named child of this node,
// sharing the root logrus.Logger so level/output configuration applies
// tree-wide.
func (t *LogTree) Child(label string) *LogTree {
	t.mu.Lock()
	defer t.mu.Unlock()
	if c, ok := t.children[label]; ok {
		return c
	}
	c := &LogTree{
		label:    label,
		path:     t.path + "." + label,
		parent:   t,
		logger:   t.logger,
		children: make(map[string]*LogTree),
	}
	c.entry = t.logger.WithField("path", c.path)
	t.children[label] = c
	return c
}

// Path returns the dotted path of this node, e.g. "ipmc.ipmb.a".
func (t *LogTree) Path() string { return t.path }

// SetLevel sets the logrus level for the entire tree (logrus.Logger is
// shared across all nodes descended from one root).
func (t *LogTree) SetLevel(level logrus.Level) { t.logger.SetLevel(level) }

func (t *LogTree) Entry() *logrus.Entry { return t.entry }

func (t *LogTree) Debugf(format string, args ...any) { t.entry.Debugf(format, args...) }
func (t *LogTree) Infof(format string, args ...any)  { t.entry.Infof(format, args...) }
func (t *LogTree) Warnf(format string, args ...any)  { t.entry.Warnf(format, args...) }
func (t *LogTree) Errorf(format string, args ...any) { t.entry.Errorf(format, args...) }

// Criticalf logs at Error level tagged critical=true: the closest
// logrus-native analog to the original's LOG_CRITICAL, used by the
// watchdog supervisor for corruption reports that must never be
// filtered out.
func (t *LogTree) Criticalf(format string, args ...any) {
	t.entry.WithField("critical", true).Errorf(format, args...)
}
