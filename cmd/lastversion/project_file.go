package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/Mu-L/lastversion/internal/resolve"
)

// projectFile is a declarative tracking file: it names the repository and
// carries selection directives so repeated checks do not need flags.
//
//	repo: dvisvgm/dvisvgm
//	only: "~^v2\\."
//	having_asset: "*"
type projectFile struct {
	Repo        string `yaml:"repo"`
	Pre         bool   `yaml:"pre"`
	Major       string `yaml:"major"`
	Only        string `yaml:"only"`
	Exclude     string `yaml:"exclude"`
	HavingAsset string `yaml:"having_asset"`
	Even        bool   `yaml:"even"`
	At          string `yaml:"at"`
}

func loadProjectFile(path string) (*projectFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read project file: %w", err)
	}

	var pf projectFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("failed to parse project file %s: %w", path, err)
	}
	if pf.Repo == "" {
		return nil, fmt.Errorf("project file %s has no repo field", path)
	}
	return &pf, nil
}

// apply copies the file's directives into the policy. Only directives
// the file actually sets are copied, so command-line flags survive.
func (pf *projectFile) apply(pol *resolve.Policy) {
	if pf.Pre {
		pol.Prereleases = true
	}
	if pf.Even {
		pol.Even = true
	}
	if pf.Major != "" && pol.Major == "" {
		pol.Major = pf.Major
	}
	if pf.Only != "" && pol.Only == "" {
		pol.Only = pf.Only
	}
	if pf.Exclude != "" && pol.Exclude == "" {
		pol.Exclude = pf.Exclude
	}
	if pf.HavingAsset != "" && pol.HavingAsset == "" {
		pol.HavingAsset = pf.HavingAsset
	}
	if pf.At != "" && pol.At == "" {
		pol.At = pf.At
	}
}
