// Package logging provides categorized structured logging for helmsman,
// backed by go.uber.org/zap. Each subsystem logs under a named category so
// a single session transcript can be filtered per concern. Diagnostic
// detail stays in the logs; the conversation sink is what the user sees.
package logging

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category names a logging subsystem.
type Category string

const (
	CategoryLoop      Category = "loop"      // Control loop phases and turns
	CategoryPacemaker Category = "pacemaker" // Budget, vitals, health checks
	CategoryDispatch  Category = "dispatch"  // Action filtering and execution
	CategoryTools     Category = "tools"     // Tool registry and tool bodies
	CategoryPolicy    Category = "policy"    // LLM proposal calls
	CategoryApproval  Category = "approval"  // Confirmation decisions
	CategoryStore     Category = "store"     // Snapshot persistence
	CategoryConfig    Category = "config"    // Config load and reload
	CategorySession   Category = "session"   // Session lifecycle
)

var (
	mu      sync.RWMutex
	root    = zap.NewNop()
	loggers = make(map[Category]*zap.SugaredLogger)
)

// SetRoot installs the process-wide zap logger. Called once at startup by
// cmd; before that every call is a no-op, which keeps tests quiet.
func SetRoot(l *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()
	if l == nil {
		l = zap.NewNop()
	}
	root = l
	loggers = make(map[Category]*zap.SugaredLogger)
}

// NewDevelopmentRoot builds a console logger at the given level. Used by
// cmd for --verbose runs and by tests that want visible output.
func NewDevelopmentRoot(debug bool) (*zap.Logger, error) {
	cfg := zap.NewDevelopmentConfig()
	if !debug {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}
	return cfg.Build()
}

// Get returns the sugared logger for a category.
func Get(c Category) *zap.SugaredLogger {
	mu.RLock()
	if l, ok := loggers[c]; ok {
		mu.RUnlock()
		return l
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if l, ok := loggers[c]; ok {
		return l
	}
	l := root.Named(string(c)).Sugar()
	loggers[c] = l
	return l
}

// Package-level helpers for the chatty categories. These mirror the
// printf-style call sites used throughout the packages below.

func Loop(format string, args ...any)      { Get(CategoryLoop).Infof(format, args...) }
func LoopDebug(format string, args ...any) { Get(CategoryLoop).Debugf(format, args...) }

func Pacemaker(format string, args ...any)      { Get(CategoryPacemaker).Infof(format, args...) }
func PacemakerDebug(format string, args ...any) { Get(CategoryPacemaker).Debugf(format, args...) }

func Dispatch(format string, args ...any)      { Get(CategoryDispatch).Infof(format, args...) }
func DispatchDebug(format string, args ...any) { Get(CategoryDispatch).Debugf(format, args...) }
func DispatchError(format string, args ...any) { Get(CategoryDispatch).Errorf(format, args...) }

func Tools(format string, args ...any)      { Get(CategoryTools).Infof(format, args...) }
func ToolsDebug(format string, args ...any) { Get(CategoryTools).Debugf(format, args...) }
func ToolsError(format string, args ...any) { Get(CategoryTools).Errorf(format, args...) }

func Policy(format string, args ...any)      { Get(CategoryPolicy).Infof(format, args...) }
func PolicyDebug(format string, args ...any) { Get(CategoryPolicy).Debugf(format, args...) }

func Store(format string, args ...any)      { Get(CategoryStore).Infof(format, args...) }
func StoreDebug(format string, args ...any) { Get(CategoryStore).Debugf(format, args...) }

func Config(format string, args ...any)      { Get(CategoryConfig).Infof(format, args...) }
func ConfigError(format string, args ...any) { Get(CategoryConfig).Errorf(format, args...) }

func Session(format string, args ...any) { Get(CategorySession).Infof(format, args...) }
