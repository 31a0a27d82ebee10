package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/roach88/savepipe/internal/compiler"
	"github.com/roach88/savepipe/internal/registry"
)

// LoadResult is a compiled and validated metadata directory.
type LoadResult struct {
	Registry  *registry.Registry
	Warnings  []compiler.CycleWarning
	FileCount int
}

// LoadError is a metadata loading failure with its CLI error code.
type LoadError struct {
	Code    string
	Message string
	// Problems holds registry problems for ErrCodeRegistry.
	Problems []registry.Problem
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsCommandError reports whether the failure lies with the path rather
// than the metadata in it.
func (e *LoadError) IsCommandError() bool {
	return e.Code == ErrCodeNotFound || e.Code == ErrCodeNoFiles
}

// LoadMetadata compiles every CUE file in dir and builds the registry.
// All compile errors are collected; registry problems are reported as a
// single LoadError carrying the problem list.
func LoadMetadata(dir string) (*LoadResult, []error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("metadata directory not found: %s", dir)}}
	}
	if !info.IsDir() {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("not a directory: %s", dir)}}
	}
	files, err := compiler.FindCUEFiles(dir)
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: err.Error()}}
	}
	if len(files) == 0 {
		return nil, []error{&LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no CUE files found in %s", dir)}}
	}

	loaded, errs := compiler.LoadDir(dir)
	if len(errs) > 0 {
		out := make([]error, len(errs))
		for i, e := range errs {
			out[i] = &LoadError{Code: ErrCodeCompile, Message: e.Error()}
		}
		return nil, out
	}

	reg, err := registry.Build(loaded.Entities...)
	if err != nil {
		lerr := &LoadError{Code: ErrCodeRegistry, Message: err.Error()}
		var cfgErr *registry.ConfigurationError
		if errors.As(err, &cfgErr) {
			lerr.Message = fmt.Sprintf("%d metadata problem(s)", len(cfgErr.Problems))
			lerr.Problems = cfgErr.Problems
		}
		return nil, []error{lerr}
	}

	return &LoadResult{
		Registry:  reg,
		Warnings:  compiler.AnalyzeCycles(loaded.Entities),
		FileCount: loaded.FileCount,
	}, nil
}

// loadRegistry is LoadMetadata for commands that only need the registry.
// The first error is returned as an ExitError and written to f.
func loadRegistry(f *OutputFormatter, dir string) (*LoadResult, error) {
	result, errs := LoadMetadata(dir)
	if len(errs) == 0 {
		return result, nil
	}
	var lerr *LoadError
	if !errors.As(errs[0], &lerr) {
		return nil, f.Fail(ExitCommandError, ErrCodeInvalidInput, errs[0].Error(), nil)
	}
	exit := ExitFailure
	if lerr.IsCommandError() {
		exit = ExitCommandError
	}
	return nil, f.Fail(exit, lerr.Code, lerr.Message, errors.Join(errs...))
}
