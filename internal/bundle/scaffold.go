package bundle

import (
	"bytes"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"text/template"
)

//go:embed scaffold/Root.tsx.tmpl scaffold/index.ts
var scaffoldFS embed.FS

var rootTemplate = template.Must(template.ParseFS(scaffoldFS, "scaffold/Root.tsx.tmpl"))

// project is a temporary source tree handed to the compiler.
type project struct {
	dir        string
	entryPoint string
}

// writeProject lays out src/template.tsx, src/Root.tsx and src/index.ts under dir
// and returns the entry point path.
func writeProject(dir, templateName, source string) (project, error) {
	srcDir := filepath.Join(dir, "src")
	if err := os.MkdirAll(srcDir, 0o755); err != nil {
		return project{}, fmt.Errorf("create project dir: %w", err)
	}

	var root bytes.Buffer
	if err := rootTemplate.Execute(&root, struct{ CompositionID string }{strconv.Quote(templateName)}); err != nil {
		return project{}, fmt.Errorf("render root composition: %w", err)
	}
	index, err := scaffoldFS.ReadFile("scaffold/index.ts")
	if err != nil {
		return project{}, fmt.Errorf("read entry point: %w", err)
	}

	files := map[string][]byte{
		"template.tsx": []byte(source),
		"Root.tsx":     root.Bytes(),
		"index.ts":     index,
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(srcDir, name), content, 0o644); err != nil {
			return project{}, fmt.Errorf("write %s: %w", name, err)
		}
	}
	return project{dir: dir, entryPoint: filepath.Join(srcDir, "index.ts")}, nil
}
