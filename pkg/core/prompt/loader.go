package prompt

import (
	"bytes"
	"embed"
	"encoding/json"
	"io/fs"
	"os"
	"path"
	"strings"
	"text/template"

	"github.com/rotisserie/eris"
)

//go:embed defaults
var defaultPrompts embed.FS

// LoadDefaults registers the embedded prompts.
func LoadDefaults(r *Registry) error {
	sub, err := fs.Sub(defaultPrompts, "defaults")
	if err != nil {
		return eris.Wrap(err, "failed to open embedded prompts")
	}
	return loadPrompts(r, sub)
}

// LoadFromDirectory loads prompts from a directory structure, overriding defaults
// with the same ID.
// Expected structure:
//
//	baseDir/
//	  extraction/
//	    annual_report.json
func LoadFromDirectory(r *Registry, baseDir string) error {
	if _, err := os.Stat(baseDir); os.IsNotExist(err) {
		return eris.Errorf("prompts directory not found: %s", baseDir)
	}
	return loadPrompts(r, os.DirFS(baseDir))
}

// loadPrompts recursively loads all .json files from fsys
func loadPrompts(r *Registry, fsys fs.FS) error {
	return fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || path.Ext(p) != ".json" {
			return nil
		}

		data, err := fs.ReadFile(fsys, p)
		if err != nil {
			return eris.Wrapf(err, "failed to read %s", p)
		}

		var pt PromptTemplate
		if err := json.Unmarshal(data, &pt); err != nil {
			return eris.Wrapf(err, "failed to parse %s", p)
		}

		// Auto-generate ID from path if not specified
		if pt.ID == "" {
			pt.ID = generateIDFromPath(p)
		}
		if pt.Category == "" {
			pt.Category = detectCategory(p)
		}

		if err := r.Register(&pt); err != nil {
			return eris.Wrapf(err, "failed to register %s", pt.ID)
		}
		return nil
	})
}

// generateIDFromPath creates a prompt ID from the file path
// e.g., "extraction/annual_report.json" -> "extraction.annual_report"
func generateIDFromPath(p string) string {
	p = strings.TrimSuffix(p, ".json")
	return strings.ReplaceAll(p, "/", ".")
}

// detectCategory extracts the category from the folder structure
func detectCategory(p string) string {
	parts := strings.Split(p, "/")
	if len(parts) > 1 {
		return parts[0]
	}
	return "default"
}

// RenderUserPrompt executes the user prompt template with the given context.
// Missing required variables are reported before rendering.
func RenderUserPrompt(pt *PromptTemplate, ctx *PromptExecutionContext) (string, error) {
	if pt.UserPromptTmpl == "" {
		return "", nil
	}

	for _, v := range pt.Variables {
		if _, ok := ctx.Variables[v.Name]; v.Required && !ok {
			return "", eris.Errorf("prompt %s: missing required variable %s", pt.ID, v.Name)
		}
	}

	tmpl, err := template.New(pt.ID).Option("missingkey=error").Parse(pt.UserPromptTmpl)
	if err != nil {
		return "", eris.Wrap(err, "failed to parse template")
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, ctx.Variables); err != nil {
		return "", eris.Wrap(err, "failed to execute template")
	}

	return buf.String(), nil
}
