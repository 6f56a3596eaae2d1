package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/Mu-L/lastversion/internal/provider"
)

// outputFormat selects what printRelease writes for a resolved release.
type outputFormat int

const (
	formatVersion outputFormat = iota
	formatTag
	formatJSON
	formatAssets
	formatSource
)

func parseFormat(s string) (outputFormat, error) {
	switch s {
	case "version", "":
		return formatVersion, nil
	case "tag":
		return formatTag, nil
	case "json":
		return formatJSON, nil
	case "assets":
		return formatAssets, nil
	case "source":
		return formatSource, nil
	default:
		return 0, fmt.Errorf("unknown format %q (want version, tag, json, assets or source)", s)
	}
}

// printRelease writes the release to w in the chosen format. The version
// format prints the canonical dotted form; tag prints the provider's raw
// tag string.
func printRelease(w io.Writer, rel *provider.Release, format outputFormat) error {
	switch format {
	case formatTag:
		_, err := fmt.Fprintln(w, rel.Tag)
		return err
	case formatJSON:
		// The parsed Version does not marshal itself; expose its
		// canonical form next to the raw provider fields.
		payload := struct {
			Version string `json:"version"`
			*provider.Release
		}{rel.Version.String(), rel}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(payload)
	case formatAssets:
		if len(rel.Assets) == 0 {
			return fmt.Errorf("release %s has no assets", rel.Tag)
		}
		for _, a := range rel.Assets {
			if _, err := fmt.Fprintln(w, a.URL); err != nil {
				return err
			}
		}
		return nil
	case formatSource:
		if rel.Source == "" {
			return fmt.Errorf("release %s has no source archive", rel.Tag)
		}
		_, err := fmt.Fprintln(w, rel.Source)
		return err
	default:
		_, err := fmt.Fprintln(w, rel.Version.String())
		return err
	}
}
