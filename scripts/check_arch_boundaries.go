package main

import (
	"fmt"
	"go/parser"
	"go/token"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

var allowed = map[string]map[string]bool{
	"cli": {
		"apperr":     true,
		"config":     true,
		"cost":       true,
		"download":   true,
		"generation": true,
		"jobfile":    true,
		"logging":    true,
		"matrix":     true,
		"model":      true,
		"profile":    true,
		"replicate":  true,
		"report":     true,
		"runstore":   true,
		"secrets":    true,
		"workspace":  true,
	},
	"matrix": {
		"apperr":     true,
		"cost":       true,
		"download":   true,
		"duration":   true,
		"generation": true,
		"logging":    true,
		"model":      true,
		"report":     true,
		"runstore":   true,
	},
	"workspace": {
		"jobfile":  true,
		"profile":  true,
		"runstore": true,
		"secrets":  true,
	},
	"report": {
		"cost":     true,
		"model":    true,
		"runstore": true,
	},
	"cost": {
		"duration": true,
		"model":    true,
	},
	"generation": {
		"apperr": true,
		"model":  true,
	},
	"replicate": {
		"apperr": true,
		"model":  true,
	},
	"download": {
		"runstore": true,
	},
	"duration": {"model": true},
	"jobfile":  {"model": true},
	"profile":  {"model": true},
	"apperr":   {},
	"config":   {},
	"logging":  {},
	"model":    {},
	"runstore": {},
	"secrets":  {},
}

func main() {
	violations := []string{}

	err := filepath.WalkDir("internal", func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		if !strings.HasSuffix(path, ".go") || strings.HasSuffix(path, "_test.go") {
			return nil
		}

		srcPkg := sourcePackage(path)
		if srcPkg == "" {
			return nil
		}
		allowMap, ok := allowed[srcPkg]
		if !ok {
			violations = append(violations, fmt.Sprintf("%s: unknown source package %q", path, srcPkg))
			return nil
		}

		fset := token.NewFileSet()
		file, err := parser.ParseFile(fset, path, nil, parser.ImportsOnly)
		if err != nil {
			return err
		}

		for _, imp := range file.Imports {
			impPath := strings.Trim(imp.Path.Value, "\"")
			tgtPkg, ok := targetPackage(impPath)
			if !ok {
				continue
			}
			if tgtPkg == srcPkg {
				continue
			}
			if !allowMap[tgtPkg] {
				violations = append(violations, fmt.Sprintf("%s: %s -> %s is forbidden", path, srcPkg, tgtPkg))
			}
		}
		return nil
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "boundary walk failed: %v\n", err)
		os.Exit(1)
	}

	if len(violations) > 0 {
		fmt.Fprintln(os.Stderr, "architecture boundary violations detected:")
		for _, v := range violations {
			fmt.Fprintf(os.Stderr, "- %s\n", v)
		}
		os.Exit(1)
	}

	fmt.Println("architecture boundary check: OK")
}

func sourcePackage(path string) string {
	parts := strings.Split(filepath.ToSlash(path), "/")
	if len(parts) < 2 || parts[0] != "internal" {
		return ""
	}
	return parts[1]
}

func targetPackage(importPath string) (string, bool) {
	const prefix = "vidmatrix/internal/"
	if !strings.HasPrefix(importPath, prefix) {
		return "", false
	}
	rest := strings.TrimPrefix(importPath, prefix)
	if rest == "" {
		return "", false
	}
	parts := strings.Split(rest, "/")
	return parts[0], true
}
