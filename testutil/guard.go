// Package testutil holds import-boundary assertions shared by architecture
// tests across samplecore packages.
package testutil

import (
	"go/parser"
	"go/token"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"testing"
)

// importRef is one import declaration found in a non-test source file.
type importRef struct {
	file string
	path string
}

func (r importRef) String() string { return r.path + " (in " + r.file + ")" }

// InternalImportForbidden matches import paths below an internal/ directory.
func InternalImportForbidden(path string) bool {
	return strings.Contains(path, "/internal/")
}

// PrefixForbidden matches each prefix and every package nested under it.
func PrefixForbidden(prefixes ...string) func(string) bool {
	return func(path string) bool {
		return slices.ContainsFunc(prefixes, func(p string) bool {
			return path == p || strings.HasPrefix(path, p+"/")
		})
	}
}

// ModuleImportsExcept matches packages of module other than the allowed ones.
func ModuleImportsExcept(module string, allowed ...string) func(string) bool {
	return func(path string) bool {
		inModule := path == module || strings.HasPrefix(path, module+"/")
		return inModule && !slices.Contains(allowed, path)
	}
}

// AssertNoDirectImports fails t when a non-test file in dir imports a path
// matched by forbidden. Build tags are ignored.
func AssertNoDirectImports(t testing.TB, dir string, forbidden func(string) bool, reason string) {
	t.Helper()
	refs, err := scanImports(dir)
	if err != nil {
		t.Fatalf("scan %s: %v", dir, err)
	}
	report(t, reason, matching(refs, forbidden, ""))
}

// AssertNoTreeImports applies AssertNoDirectImports to every directory under
// root except those exempted by skip. Directories starting with "_" or "."
// and testdata are not visited.
func AssertNoTreeImports(t testing.TB, root string, skip func(rel string) bool, forbidden func(string) bool, reason string) {
	t.Helper()
	var found []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return err
		}
		if path != root && hiddenDir(d.Name()) {
			return filepath.SkipDir
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if skip != nil && skip(rel) {
			return nil
		}
		refs, err := scanImports(path)
		if err != nil {
			return err
		}
		found = append(found, matching(refs, forbidden, rel+": ")...)
		return nil
	})
	if err != nil {
		t.Fatalf("walk %s: %v", root, err)
	}
	report(t, reason, found)
}

func hiddenDir(name string) bool {
	return strings.HasPrefix(name, "_") || strings.HasPrefix(name, ".") || name == "testdata"
}

func scanImports(dir string) ([]importRef, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	fset := token.NewFileSet()
	var refs []importRef
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || filepath.Ext(name) != ".go" || strings.HasSuffix(name, "_test.go") {
			continue
		}
		f, err := parser.ParseFile(fset, filepath.Join(dir, name), nil, parser.ImportsOnly)
		if err != nil {
			return nil, err
		}
		for _, imp := range f.Imports {
			path, err := strconv.Unquote(imp.Path.Value)
			if err != nil {
				return nil, err
			}
			refs = append(refs, importRef{file: name, path: path})
		}
	}
	return refs, nil
}

func matching(refs []importRef, forbidden func(string) bool, prefix string) []string {
	var out []string
	for _, r := range refs {
		if forbidden(r.path) {
			out = append(out, prefix+r.String())
		}
	}
	return out
}

type fataler interface {
	Fatalf(format string, args ...any)
}

func report(t fataler, reason string, violations []string) {
	if len(violations) == 0 {
		return
	}
	t.Fatalf("forbidden imports (%s):\n%s", reason, strings.Join(violations, "\n"))
}
