package render

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/herdctl/herd/pkg/errdefs"
	"github.com/herdctl/herd/pkg/types"
)

// Template file names expected under the template directory.
const (
	composeTemplateName = "docker-compose.yml"
	envTemplateName     = ".env.template"
	volumesTemplateDir  = "volumes"
)

// volumeSubdirs are the per-instance volume subdirectories populated
// from their template counterparts (created empty when no counterpart
// exists).
var volumeSubdirs = []string{"db", "functions", "logs", "api", "pooler", "storage"}

var varPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Renderer produces the per-instance artifact tree from the opaque
// compose/env/volume templates by ${NAME} substitution.
type Renderer struct {
	templateDir string
	dataRoot    string
}

// NewRenderer creates a renderer reading templates from templateDir and
// writing artifacts under dataRoot.
func NewRenderer(templateDir, dataRoot string) *Renderer {
	return &Renderer{templateDir: templateDir, dataRoot: dataRoot}
}

// ArtifactPaths returns the rendered artifact locations for an id.
func (r *Renderer) ArtifactPaths(instanceID string) types.DockerArtifacts {
	return types.DockerArtifacts{
		ComposeFile: filepath.Join(r.dataRoot, fmt.Sprintf("docker-compose-%s.yml", instanceID)),
		EnvFile:     filepath.Join(r.dataRoot, fmt.Sprintf(".env-%s", instanceID)),
		VolumesDir:  filepath.Join(r.dataRoot, fmt.Sprintf("volumes-%s", instanceID)),
	}
}

// Render writes the compose file, env file and volumes tree for the
// instance and returns their paths.
func (r *Renderer) Render(inst *types.Instance, vars Vars) (types.DockerArtifacts, error) {
	artifacts := r.ArtifactPaths(inst.ID)

	compose, err := r.renderTemplate(composeTemplateName, vars)
	if err != nil {
		return types.DockerArtifacts{}, err
	}
	// The compose document stays opaque, but it must at least be
	// well-formed YAML with a services section.
	if err := validateCompose(compose); err != nil {
		return types.DockerArtifacts{}, errdefs.Wrap(errdefs.KindRenderIO, err,
			"rendered compose file is not valid")
	}

	env, err := r.renderTemplate(envTemplateName, vars)
	if err != nil {
		return types.DockerArtifacts{}, err
	}

	if err := os.WriteFile(artifacts.ComposeFile, compose, 0o644); err != nil {
		return types.DockerArtifacts{}, errdefs.Wrap(errdefs.KindRenderIO, err,
			"failed to write compose file")
	}
	if err := os.WriteFile(artifacts.EnvFile, env, 0o600); err != nil {
		return types.DockerArtifacts{}, errdefs.Wrap(errdefs.KindRenderIO, err,
			"failed to write env file")
	}
	if err := r.populateVolumes(artifacts.VolumesDir, vars); err != nil {
		return types.DockerArtifacts{}, err
	}

	return artifacts, nil
}

// renderTemplate reads one template and applies the substitution set.
func (r *Renderer) renderTemplate(name string, vars Vars) ([]byte, error) {
	path := filepath.Join(r.templateDir, name)
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errdefs.New(errdefs.KindTemplateMissing, "template %s not found", path)
		}
		return nil, errdefs.Wrap(errdefs.KindRenderIO, err, "failed to read template %s", path)
	}
	return Substitute(raw, vars)
}

// Substitute replaces every ${NAME} occurrence. A reference to an
// undefined variable is an error, not silently dropped.
func Substitute(raw []byte, vars Vars) ([]byte, error) {
	var missing string
	out := varPattern.ReplaceAllFunc(raw, func(match []byte) []byte {
		name := string(varPattern.FindSubmatch(match)[1])
		value, ok := vars[name]
		if !ok {
			if missing == "" {
				missing = name
			}
			return match
		}
		return []byte(value)
	})
	if missing != "" {
		return nil, errdefs.New(errdefs.KindUnresolvedVariable,
			"template references undefined variable %s", missing)
	}
	return out, nil
}

// populateVolumes builds volumes-{id}/ with the expected subdirectories,
// copying template counterparts where they exist. Template files are
// themselves subject to substitution.
func (r *Renderer) populateVolumes(volumesDir string, vars Vars) error {
	for _, sub := range volumeSubdirs {
		dst := filepath.Join(volumesDir, sub)
		if err := os.MkdirAll(dst, 0o755); err != nil {
			return errdefs.Wrap(errdefs.KindRenderIO, err, "failed to create %s", dst)
		}
		src := filepath.Join(r.templateDir, volumesTemplateDir, sub)
		if _, err := os.Stat(src); err != nil {
			continue // no template counterpart
		}
		if err := r.copyTree(src, dst, vars); err != nil {
			return err
		}
	}
	return nil
}

func (r *Renderer) copyTree(src, dst string, vars Vars) error {
	return filepath.WalkDir(src, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return errdefs.Wrap(errdefs.KindRenderIO, err, "failed to walk %s", src)
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return errdefs.Wrap(errdefs.KindRenderIO, err, "failed to relativize %s", path)
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return errdefs.Wrap(errdefs.KindRenderIO, err, "failed to create %s", target)
			}
			return nil
		}
		raw, err := os.ReadFile(path)
		if err != nil {
			return errdefs.Wrap(errdefs.KindRenderIO, err, "failed to read %s", path)
		}
		rendered, err := Substitute(raw, vars)
		if err != nil {
			return err
		}
		if err := os.WriteFile(target, rendered, 0o644); err != nil {
			return errdefs.Wrap(errdefs.KindRenderIO, err, "failed to write %s", target)
		}
		return nil
	})
}

// Cleanup removes every rendered artifact of an instance.
func (r *Renderer) Cleanup(instanceID string) error {
	artifacts := r.ArtifactPaths(instanceID)
	var firstErr error
	for _, path := range []string{artifacts.ComposeFile, artifacts.EnvFile} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) && firstErr == nil {
			firstErr = err
		}
	}
	if err := os.RemoveAll(artifacts.VolumesDir); err != nil && firstErr == nil {
		firstErr = err
	}
	if firstErr != nil {
		return errdefs.Wrap(errdefs.KindRenderIO, firstErr,
			"failed to clean up artifacts for %s", instanceID)
	}
	return nil
}

// validateCompose checks the rendered document parses as YAML and
// declares at least one service.
func validateCompose(doc []byte) error {
	var parsed struct {
		Services map[string]interface{} `yaml:"services"`
	}
	if err := yaml.Unmarshal(doc, &parsed); err != nil {
		return fmt.Errorf("compose document is not valid yaml: %w", err)
	}
	if len(parsed.Services) == 0 {
		return fmt.Errorf("compose document declares no services")
	}
	return nil
}

// CopyFile copies one file preserving nothing but contents. Shared by
// backup and restore.
func CopyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
