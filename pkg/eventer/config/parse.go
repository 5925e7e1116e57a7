package config

import (
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclparse"
)

const fileSuffix = ".hcl"

func (cb *ConfigBuilder) GetBlocks(bodies []hcl.Body) (hcl.Blocks, hcl.Diagnostics) {
	var diags hcl.Diagnostics
	var blocks hcl.Blocks

	for _, body := range bodies {
		content, contentDiags := body.Content(configSchema)
		diags = diags.Extend(contentDiags)
		blocks = append(blocks, content.Blocks...)
	}

	return blocks, diags
}

// sourceLoader collects parsed bodies and diagnostics across every source
// handed to ParseConfigFiles.
type sourceLoader struct {
	parser *hclparse.Parser
	bodies []hcl.Body
	diags  hcl.Diagnostics
}

func (l *sourceLoader) fail(summary, detail string) {
	l.diags = l.diags.Append(&hcl.Diagnostic{
		Severity: hcl.DiagError,
		Summary:  summary,
		Detail:   detail,
	})
}

func (l *sourceLoader) add(file *hcl.File, diags hcl.Diagnostics) {
	l.diags = l.diags.Extend(diags)
	if file != nil {
		l.bodies = append(l.bodies, file.Body)
	}
}

// loadPath loads a single .hcl file, or every .hcl file below a directory.
// A file named explicitly is loaded whatever its suffix.
func (l *sourceLoader) loadPath(name string) {
	info, err := os.Stat(name)
	if err != nil {
		l.fail("Failed to stat file", fmt.Sprintf("Error statting %s: %s", name, err))
		return
	}
	if !info.IsDir() {
		l.add(l.parser.ParseHCLFile(name))
		return
	}
	l.loadTree(os.DirFS(name), func(p string) string { return filepath.Join(name, filepath.FromSlash(p)) })
}

// loadTree walks fsys for .hcl files. display maps a tree path to the
// filename shown in diagnostics.
func (l *sourceLoader) loadTree(fsys fs.FS, display func(string) string) {
	err := fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			l.fail("Failed to access file or directory", fmt.Sprintf("Error accessing %s: %s", display(p), err))
			return nil
		}
		if d.IsDir() || !strings.HasSuffix(p, fileSuffix) {
			return nil
		}

		content, err := fs.ReadFile(fsys, p)
		if err != nil {
			l.fail("Failed to read file", fmt.Sprintf("Error reading %s: %s", display(p), err))
			return nil
		}
		l.add(l.parser.ParseHCL(content, display(p)))
		return nil
	})
	if err != nil {
		l.fail("Failed to walk directory", fmt.Sprintf("Error walking %s: %s", display("."), err))
	}
}

// ParseConfigFiles parses each source into an HCL body. A source is a file
// or directory path, raw []byte content, or an fs.FS such as embed.FS.
func ParseConfigFiles(sources ...any) ([]hcl.Body, hcl.Diagnostics) {
	l := &sourceLoader{parser: hclparse.NewParser()}

	for _, source := range sources {
		switch v := source.(type) {
		case string:
			l.loadPath(v)
		case []byte:
			l.add(l.parser.ParseHCL(v, fmt.Sprintf("<bytes@%p>", v)))
		case fs.FS:
			l.loadTree(v, path.Clean)
		default:
			l.fail("Invalid source type", fmt.Sprintf("Invalid source type: %T", v))
		}
	}

	return l.bodies, l.diags
}
