package cli

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/roach88/oql/internal/binder"
	"github.com/roach88/oql/internal/config"
	"github.com/roach88/oql/internal/engine"
	"github.com/roach88/oql/internal/hql"
	"github.com/roach88/oql/internal/metamodel"
	"github.com/roach88/oql/internal/querysql"
	"github.com/roach88/oql/internal/store"
)

// Error code constants - unified across all CLI commands.
const (
	ErrCodeGeneric   = "E001" // Generic/unknown error
	ErrCodeSettings  = "E002" // Settings file missing or invalid
	ErrCodeNoFiles   = "E003" // No CUE files found
	ErrCodeModel     = "E004" // CUE model failed to load or build
	ErrCodeNotFound  = "E005" // Path not found
	ErrCodeDatabase  = "E006" // Database could not be opened
	ErrCodeReadInput = "E007" // Query input could not be read

	// Query errors
	ErrCodeParse       = "E101" // Malformed query text
	ErrCodeBind        = "E102" // Unknown path, ambiguous alias or type mismatch
	ErrCodeUnsupported = "E103" // Construct the dialect cannot express
	ErrCodeParameter   = "E104" // Unknown, missing or invalid parameter
	ErrCodeIllegalOp   = "E105" // Select run as an update or the reverse

	// Execution errors
	ErrCodeExecution = "E201" // Statement failed in the database
	ErrCodeTimeout   = "E202" // Statement exceeded its timeout
)

// LoadError is a setup failure with its error code.
type LoadError struct {
	Code    string
	Message string
	Err     error
}

func (e *LoadError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *LoadError) Unwrap() error { return e.Err }

// ErrorCode maps an error to the code reported for it.
func ErrorCode(err error) string {
	var le *LoadError
	switch {
	case errors.As(err, &le):
		return le.Code
	case hql.IsParseError(err):
		return ErrCodeParse
	case binder.IsPathResolutionError(err), binder.IsAmbiguousAliasError(err), binder.IsTypeMismatchError(err):
		return ErrCodeBind
	case querysql.IsUnsupportedConstructError(err):
		return ErrCodeUnsupported
	case engine.IsParameterError(err):
		return ErrCodeParameter
	case engine.IsIllegalQueryOperationError(err):
		return ErrCodeIllegalOp
	case store.IsQueryTimeoutError(err):
		return ErrCodeTimeout
	case store.IsStatementExecutionError(err):
		return ErrCodeExecution
	default:
		return ErrCodeGeneric
	}
}

// environment is what every command works with: settings, the model and a
// logger writing to stderr.
type environment struct {
	settings config.Settings
	meta     *metamodel.Metamodel
	logger   *slog.Logger
}

// loadEnvironment reads the settings file, applies flag overrides and loads
// the CUE model.
func loadEnvironment(opts *RootOptions, logs io.Writer) (*environment, error) {
	s := config.Defaults()
	if opts.Config != "" {
		var err error
		if s, err = config.Load(opts.Config); err != nil {
			return nil, &LoadError{Code: ErrCodeSettings, Message: "loading settings", Err: err}
		}
	}
	if opts.Model != "" {
		s.Model = opts.Model
	}
	if opts.Dialect != "" {
		s.Dialect = opts.Dialect
	}
	if opts.Verbose {
		s.LogLevel = "debug"
	}
	if err := s.Validate(); err != nil {
		return nil, &LoadError{Code: ErrCodeSettings, Message: "invalid settings", Err: err}
	}
	if s.Model == "" {
		return nil, &LoadError{Code: ErrCodeSettings, Message: "no model directory: set model in the settings file or pass --model"}
	}
	meta, err := LoadModel(s.Model)
	if err != nil {
		return nil, err
	}
	level, _ := s.Level()
	logger := slog.New(slog.NewTextHandler(logs, &slog.HandlerOptions{Level: level}))
	return &environment{settings: s, meta: meta, logger: logger}, nil
}

// LoadModel loads the CUE entity mappings in dir.
func LoadModel(dir string) (*metamodel.Metamodel, error) {
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("model directory not found: %s", dir)}
	}
	if err != nil {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: "error accessing model directory", Err: err}
	}
	if !info.IsDir() {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("not a directory: %s", dir)}
	}
	files, err := FindCUEFiles(dir)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: "error scanning model directory", Err: err}
	}
	if len(files) == 0 {
		return nil, &LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no CUE files found in %s", dir)}
	}
	meta, err := metamodel.LoadCUE(dir)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeModel, Message: "loading model", Err: err}
	}
	return meta, nil
}

// FindCUEFiles walks the directory and returns all .cue file paths.
func FindCUEFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && filepath.Ext(path) == ".cue" {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

// factory builds an engine factory from the environment's settings.
func (env *environment) factory(client store.Client) (*engine.Factory, error) {
	s := env.settings
	d, err := s.TargetDialect()
	if err != nil {
		return nil, &LoadError{Code: ErrCodeSettings, Message: "dialect", Err: err}
	}
	timeout, _ := s.Timeout()
	return engine.NewFactory(env.meta, d, client,
		engine.WithLogger(env.logger),
		engine.WithSchema(s.Schema()),
		engine.WithPadding(s.InClauseParameterPadding),
		engine.WithPlanCacheSize(s.PlanCacheSize),
		engine.WithBatchFetchSize(s.DefaultBatchFetchSize),
		engine.WithMaxFetchDepth(s.MaxFetchDepth),
		engine.WithQueryTimeout(timeout),
		engine.WithFetchSize(s.FetchSize),
	)
}

// openDatabase connects to the configured database.
func (env *environment) openDatabase() (*store.DB, error) {
	s := env.settings
	if s.DSN == "" {
		return nil, &LoadError{Code: ErrCodeSettings, Message: "no dsn configured"}
	}
	db, err := store.Open(s.Driver, s.DSN)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeDatabase, Message: "opening database", Err: err}
	}
	return db, nil
}
