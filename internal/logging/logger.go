// Package logging provides categorized zap logging for the fhiemdien engine.
// One shared core writes console or JSON output plus an optional file sink
// under the engine home dir. Child loggers are named per subsystem and
// individual categories can be switched off in config without touching
// call sites.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category names a logging subsystem
type Category string

const (
	// Core engine categories
	CategoryBoot Category = "boot" // Boot/initialization
	CategoryRun  Category = "run"  // Run lifecycle, state transitions
	CategoryTick Category = "tick" // Per-tick progression

	// Generation categories
	CategoryProvider Category = "provider" // Output provider calls and failover
	CategoryAPI      Category = "api"      // Raw LLM API traffic
	CategoryGovernor Category = "governor" // Rate governor admissions

	// Graph categories
	CategoryRouting Category = "routing" // Routing decisions, loop suppression
	CategorySchema  Category = "schema"  // Schema resolution and validation
	CategoryPrune   Category = "prune"   // Context pruning decisions

	// Downstream categories
	CategoryAnalysis Category = "analysis" // Post-run analysis pipeline
	CategoryMemory   Category = "memory"   // Run memory store
	CategoryPersona  Category = "persona"  // Persona catalog, hot reload
	CategoryWatch    Category = "watch"    // Live watch UI
	CategoryCLI      Category = "cli"      // Command surface
)

// Options configures the shared logging core.
type Options struct {
	Level      string          // debug, info, warn, error (default info)
	Format     string          // "console" or "json" (default console)
	Dir        string          // when set, a dated log file is written here too
	Categories map[string]bool // per-category enable map, nil = all enabled
	Quiet      bool            // suppress console output, file sink only
}

var (
	mu      sync.RWMutex
	root    = zap.NewNop()
	nop     = zap.NewNop()
	perCat  map[string]bool
	logFile *os.File
	logsDir string
	active  bool
)

// Init builds the shared core from options. Safe to call again; the
// previous file sink is closed first.
func Init(opts Options) error {
	mu.Lock()
	defer mu.Unlock()

	if logFile != nil {
		logFile.Close()
		logFile = nil
	}

	level := zapcore.InfoLevel
	if opts.Level != "" {
		parsed, err := zapcore.ParseLevel(opts.Level)
		if err != nil {
			return fmt.Errorf("parse log level %q: %w", opts.Level, err)
		}
		level = parsed
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	var encoder zapcore.Encoder
	if opts.Format == "json" {
		encoder = zapcore.NewJSONEncoder(encCfg)
	} else {
		devCfg := zap.NewDevelopmentEncoderConfig()
		devCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		encoder = zapcore.NewConsoleEncoder(devCfg)
	}

	var cores []zapcore.Core
	if !opts.Quiet {
		cores = append(cores, zapcore.NewCore(encoder, zapcore.Lock(os.Stderr), level))
	}

	logsDir = ""
	if opts.Dir != "" {
		if err := os.MkdirAll(opts.Dir, 0755); err != nil {
			return fmt.Errorf("create log dir: %w", err)
		}
		name := fmt.Sprintf("%s_engine.log", time.Now().Format("2006-01-02"))
		f, err := os.OpenFile(filepath.Join(opts.Dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		logFile = f
		logsDir = opts.Dir
		fileEnc := zapcore.NewJSONEncoder(encCfg)
		cores = append(cores, zapcore.NewCore(fileEnc, zapcore.AddSync(f), level))
	}

	if len(cores) == 0 {
		root = zap.NewNop()
	} else {
		root = zap.New(zapcore.NewTee(cores...))
	}

	perCat = nil
	if opts.Categories != nil {
		perCat = make(map[string]bool, len(opts.Categories))
		for k, v := range opts.Categories {
			perCat[k] = v
		}
	}
	active = true
	return nil
}

// For returns the child logger for a category. Disabled categories get a
// no-op logger so call sites never have to check.
func For(category Category) *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	if !active {
		return nop
	}
	if perCat != nil {
		if on, ok := perCat[string(category)]; ok && !on {
			return nop
		}
	}
	return root.Named(string(category))
}

// S returns the sugared child logger for a category.
func S(category Category) *zap.SugaredLogger {
	return For(category).Sugar()
}

// IsCategoryEnabled reports whether a category would produce output.
func IsCategoryEnabled(category Category) bool {
	mu.RLock()
	defer mu.RUnlock()
	if !active {
		return false
	}
	if perCat != nil {
		if on, ok := perCat[string(category)]; ok {
			return on
		}
	}
	return true
}

// Dir returns the active log directory, empty when file logging is off.
func Dir() string {
	mu.RLock()
	defer mu.RUnlock()
	return logsDir
}

// Sync flushes buffered log entries.
func Sync() {
	mu.RLock()
	l := root
	mu.RUnlock()
	_ = l.Sync()
}

// Close flushes and closes the file sink. Call at shutdown.
func Close() {
	Sync()
	mu.Lock()
	defer mu.Unlock()
	if logFile != nil {
		logFile.Close()
		logFile = nil
	}
	root = zap.NewNop()
	active = false
	logsDir = ""
}

// Timer measures the duration of an operation for performance logging
type Timer struct {
	category Category
	name     string
	start    time.Time
}

// StartTimer begins timing an operation
func StartTimer(category Category, name string) *Timer {
	return &Timer{category: category, name: name, start: time.Now()}
}

// Stop ends timing, logs the elapsed duration, and returns it
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	S(t.category).Debugf("%s took %v", t.name, elapsed)
	return elapsed
}

// =============================================================================
// CONVENIENCE FUNCTIONS - Quick logging without getting a logger first
// These are no-ops if the category is disabled
// =============================================================================

// Boot logs to the boot category
func Boot(format string, args ...interface{}) {
	S(CategoryBoot).Infof(format, args...)
}

// Run logs to the run category
func Run(format string, args ...interface{}) {
	S(CategoryRun).Infof(format, args...)
}

// RunDebug logs debug to the run category
func RunDebug(format string, args ...interface{}) {
	S(CategoryRun).Debugf(format, args...)
}

// Tick logs to the tick category
func Tick(format string, args ...interface{}) {
	S(CategoryTick).Infof(format, args...)
}

// TickDebug logs debug to the tick category
func TickDebug(format string, args ...interface{}) {
	S(CategoryTick).Debugf(format, args...)
}

// Provider logs to the provider category
func Provider(format string, args ...interface{}) {
	S(CategoryProvider).Infof(format, args...)
}

// ProviderDebug logs debug to the provider category
func ProviderDebug(format string, args ...interface{}) {
	S(CategoryProvider).Debugf(format, args...)
}

// API logs to the api category
func API(format string, args ...interface{}) {
	S(CategoryAPI).Infof(format, args...)
}

// APIDebug logs debug to the api category
func APIDebug(format string, args ...interface{}) {
	S(CategoryAPI).Debugf(format, args...)
}

// Governor logs to the governor category
func Governor(format string, args ...interface{}) {
	S(CategoryGovernor).Debugf(format, args...)
}

// Routing logs to the routing category
func Routing(format string, args ...interface{}) {
	S(CategoryRouting).Infof(format, args...)
}

// RoutingDebug logs debug to the routing category
func RoutingDebug(format string, args ...interface{}) {
	S(CategoryRouting).Debugf(format, args...)
}

// Schema logs to the schema category
func Schema(format string, args ...interface{}) {
	S(CategorySchema).Debugf(format, args...)
}

// Prune logs to the prune category
func Prune(format string, args ...interface{}) {
	S(CategoryPrune).Debugf(format, args...)
}

// Analysis logs to the analysis category
func Analysis(format string, args ...interface{}) {
	S(CategoryAnalysis).Infof(format, args...)
}

// Memory logs to the memory category
func Memory(format string, args ...interface{}) {
	S(CategoryMemory).Debugf(format, args...)
}

// Persona logs to the persona category
func Persona(format string, args ...interface{}) {
	S(CategoryPersona).Infof(format, args...)
}

// Watch logs to the watch category
func Watch(format string, args ...interface{}) {
	S(CategoryWatch).Debugf(format, args...)
}

// CLI logs to the cli category
func CLI(format string, args ...interface{}) {
	S(CategoryCLI).Infof(format, args...)
}
