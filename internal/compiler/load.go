package compiler

import (
	"fmt"
	"os"
	"path/filepath"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/parser"

	"github.com/roach88/savepipe/internal/model"
)

// LoadResult is the outcome of loading a metadata directory.
type LoadResult struct {
	Entities  []model.EntityMetadata
	CUEValue  cue.Value
	FileCount int
}

// LoadDir loads every .cue file in dir as one CUE instance and compiles the
// entities it declares. A non-nil result with errors means the directory
// loaded but some entities failed to compile.
func LoadDir(dir string) (*LoadResult, []error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, []error{fmt.Errorf("metadata directory %s: %w", dir, err)}
	}
	if !info.IsDir() {
		return nil, []error{fmt.Errorf("not a directory: %s", dir)}
	}

	files, err := FindCUEFiles(dir)
	if err != nil {
		return nil, []error{fmt.Errorf("scan %s: %w", dir, err)}
	}
	if len(files) == 0 {
		return nil, []error{fmt.Errorf("no CUE files found in %s", dir)}
	}

	if err := checkPackageClauses(files); err != nil {
		return nil, []error{err}
	}

	ctx := cuecontext.New()
	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, []error{fmt.Errorf("no CUE instances loaded from %s", dir)}
	}
	if inst := instances[0]; inst.Err != nil {
		return nil, []error{fmt.Errorf("load CUE files: %w", inst.Err)}
	}

	value := ctx.BuildInstance(instances[0])
	if err := value.Err(); err != nil {
		return nil, []error{formatCUEError(err)}
	}

	entities, errs := CompileAll(value)
	return &LoadResult{Entities: entities, CUEValue: value, FileCount: len(files)}, errs
}

// CompileString compiles CUE source text. Used by tests and embedded metadata.
func CompileString(src string) ([]model.EntityMetadata, []error) {
	value := cuecontext.New().CompileString(src)
	if err := value.Err(); err != nil {
		return nil, []error{formatCUEError(err)}
	}
	return CompileAll(value)
}

// checkPackageClauses requires every file to declare the same package. The
// CUE loader silently skips files without a package clause.
func checkPackageClauses(files []string) error {
	pkg, first := "", ""
	for _, file := range files {
		f, err := parser.ParseFile(file, nil, parser.PackageClauseOnly)
		if err != nil {
			return formatCUEError(err)
		}
		name := f.PackageName()
		if name == "" {
			return &CompileError{
				Field:   "package",
				Message: fmt.Sprintf("%s has no package clause (add `package <name>` as its first line)", filepath.Base(file)),
			}
		}
		if pkg == "" {
			pkg, first = name, file
			continue
		}
		if name != pkg {
			return &CompileError{
				Field: "package",
				Message: fmt.Sprintf("%s declares package %s but %s declares package %s",
					filepath.Base(file), name, filepath.Base(first), pkg),
			}
		}
	}
	return nil
}

// FindCUEFiles returns the .cue files directly inside dir.
func FindCUEFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".cue" {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	return files, nil
}
