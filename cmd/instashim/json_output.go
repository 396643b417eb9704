package main

import (
	"encoding/json"
	"io"

	"instashim/internal/api"
	"instashim/internal/image"
)

// planStep is the JSON shape of one `image plan --json` row.
type planStep struct {
	Index       int    `json:"index"`
	Kind        string `json:"kind"`
	Instruction string `json:"instruction"`
	Digest      string `json:"digest"`
}

// imagePlan is the JSON document printed by `image plan --json`. Digest is
// the digest of the final step and identifies the whole build.
type imagePlan struct {
	Digest string     `json:"digest"`
	Steps  []planStep `json:"steps"`
}

func writeStatusJSON(out io.Writer, status *api.ServerStatus) error {
	return encodeJSON(out, status)
}

func writePlanJSON(out io.Writer, steps []image.Step) error {
	doc := imagePlan{Steps: make([]planStep, 0, len(steps))}
	for i, step := range steps {
		doc.Steps = append(doc.Steps, planStep{
			Index:       i + 1,
			Kind:        string(step.Kind),
			Instruction: step.Instruction,
			Digest:      step.Digest.String(),
		})
	}
	if n := len(steps); n > 0 {
		doc.Digest = steps[n-1].Digest.String()
	}
	return encodeJSON(out, doc)
}

// encodeJSON keeps URLs and shell text readable: no HTML escaping of & < >.
func encodeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
