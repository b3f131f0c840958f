package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/samcharles93/lantern/internal/inference"
)

// ResolveModelPath maps a model argument to an existing file. Arguments that
// look like paths are used as given; bare names are looked up in modelsDir,
// with ext appended when missing. A missing file is a load failure, reported
// before any backend is touched.
func ResolveModelPath(name, modelsDir, ext string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", inference.LoadError("resolve model", fmt.Errorf("model is required"))
	}

	if looksLikePath(name, ext) {
		path := filepath.Clean(name)
		if !filepath.IsAbs(path) && !strings.HasPrefix(name, ".") && modelsDir != "" {
			if cand := filepath.Join(modelsDir, path); fileExists(cand) {
				return cand, nil
			}
		}
		if fileExists(path) {
			return path, nil
		}
		return "", inference.LoadError("resolve model", fmt.Errorf("model file not found: %s", path))
	}

	modelsDir = strings.TrimSpace(modelsDir)
	if modelsDir == "" {
		return "", inference.LoadError("resolve model", fmt.Errorf("models directory is required to resolve %q", name))
	}
	if resolved := resolveInDir(modelsDir, name, ext); resolved != "" {
		return resolved, nil
	}
	return "", inference.LoadError("resolve model", fmt.Errorf("model file not found: %q in %s", name, modelsDir))
}

// DiscoverModels lists the model names (file names without ext) in dir.
func DiscoverModels(dir, ext string) ([]string, error) {
	files, err := ModelFiles(dir, ext)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(files))
	for i, f := range files {
		names[i] = TrimExt(filepath.Base(f), ext)
	}
	return names, nil
}

// ModelFiles lists the paths of the files in dir whose extension matches ext,
// ignoring case, sorted by file name.
func ModelFiles(dir, ext string) ([]string, error) {
	st, err := os.Stat(dir)
	if err != nil {
		return nil, err
	}
	if !st.IsDir() {
		return nil, fmt.Errorf("models path is not a directory: %s", dir)
	}
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	files := make([]string, 0, len(ents))
	for _, e := range ents {
		if e.IsDir() || !hasExt(e.Name(), ext) {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	slices.Sort(files)
	return files, nil
}

// TrimExt removes ext from the end of name, ignoring case.
func TrimExt(name, ext string) string {
	if ext == "" || !hasExt(name, ext) {
		return name
	}
	return name[:len(name)-len(ext)]
}

func hasExt(name, ext string) bool {
	return ext == "" || (len(name) >= len(ext) && strings.EqualFold(name[len(name)-len(ext):], ext))
}

func looksLikePath(v, ext string) bool {
	if strings.ContainsRune(v, filepath.Separator) || strings.Contains(v, "/") {
		return true
	}
	return ext != "" && hasExt(v, ext)
}

func resolveInDir(dir, name, ext string) string {
	cand := filepath.Join(dir, name)
	if fileExists(cand) {
		return cand
	}
	if ext == "" || hasExt(name, ext) {
		return ""
	}
	cand = filepath.Join(dir, name+ext)
	if fileExists(cand) {
		return cand
	}
	// extension differs only in case, e.g. Big.JSON
	files, err := ModelFiles(dir, ext)
	if err != nil {
		return ""
	}
	for _, f := range files {
		if TrimExt(filepath.Base(f), ext) == name {
			return f
		}
	}
	return ""
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	st, err := os.Stat(path)
	return err == nil && !st.IsDir()
}
