// Package deps reports whether the engine executable and its model files
// are present before the daemon tries to launch them.
package deps

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"visualia/internal/config"
)

// Kind selects how a requirement is resolved.
type Kind string

const (
	KindBinary Kind = "binary"
	KindFile   Kind = "file"
	KindDir    Kind = "dir"
)

// Requirement defines an external dependency visualia relies on.
type Requirement struct {
	Name        string
	Kind        Kind
	Target      string
	Description string
	Optional    bool
}

// Status reports the availability of a dependency.
type Status struct {
	Name        string `json:"name"`
	Kind        Kind   `json:"kind"`
	Target      string `json:"target"`
	Description string `json:"description"`
	Optional    bool   `json:"optional"`
	Available   bool   `json:"available"`
	Detail      string `json:"detail,omitempty"`
}

// Requirements lists what the configured engine needs.
func Requirements(cfg *config.Config) []Requirement {
	if cfg == nil {
		return nil
	}
	reqs := []Requirement{
		{Name: "Engine", Kind: KindBinary, Target: cfg.Engine.Binary, Description: "Speech recognition engine"},
		{Name: "Models", Kind: KindDir, Target: cfg.Engine.ModelsDir, Description: "Model directory"},
	}
	for _, model := range config.Models() {
		reqs = append(reqs, Requirement{
			Name:        "Model " + model,
			Kind:        KindFile,
			Target:      filepath.Join(cfg.Engine.ModelsDir, config.ModelFile(model)),
			Description: "Whisper " + model + " weights",
			Optional:    model != cfg.Engine.Model,
		})
	}
	if !isKnownModel(cfg.Engine.Model) {
		reqs = append(reqs, Requirement{
			Name:        "Model " + cfg.Engine.Model,
			Kind:        KindFile,
			Target:      filepath.Join(cfg.Engine.ModelsDir, config.ModelFile(cfg.Engine.Model)),
			Description: "Configured model weights",
		})
	}
	return reqs
}

func isKnownModel(model string) bool {
	for _, known := range config.Models() {
		if strings.EqualFold(known, model) {
			return true
		}
	}
	return false
}

// Check evaluates the provided requirements and reports availability.
func Check(requirements []Requirement) []Status {
	results := make([]Status, 0, len(requirements))
	for _, req := range requirements {
		target := strings.TrimSpace(req.Target)
		status := Status{
			Name:        req.Name,
			Kind:        req.Kind,
			Target:      target,
			Description: strings.TrimSpace(req.Description),
			Optional:    req.Optional,
		}
		if target == "" {
			status.Detail = "not configured"
			results = append(results, status)
			continue
		}
		status.Available, status.Detail = resolve(req.Kind, target)
		results = append(results, status)
	}
	return results
}

// Missing returns the required statuses that are unavailable.
func Missing(statuses []Status) []Status {
	var out []Status
	for _, status := range statuses {
		if !status.Available && !status.Optional {
			out = append(out, status)
		}
	}
	return out
}

func resolve(kind Kind, target string) (bool, string) {
	switch kind {
	case KindBinary:
		path, err := exec.LookPath(target)
		if err != nil {
			return false, fmt.Sprintf("binary %q not found", target)
		}
		if path != target {
			return true, path
		}
		return true, ""
	case KindDir:
		info, err := os.Stat(target)
		if err != nil {
			return false, "directory missing"
		}
		if !info.IsDir() {
			return false, "not a directory"
		}
		return true, ""
	default:
		info, err := os.Stat(target)
		if err != nil {
			return false, "file missing"
		}
		if info.IsDir() {
			return false, "is a directory"
		}
		if info.Size() == 0 {
			return false, "file is empty"
		}
		return true, ""
	}
}
