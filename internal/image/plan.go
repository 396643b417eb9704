package image

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/opencontainers/go-digest"
)

// StepKind names a Dockerfile instruction.
type StepKind string

const (
	StepFrom    StepKind = "FROM"
	StepRun     StepKind = "RUN"
	StepWorkdir StepKind = "WORKDIR"
	StepCopy    StepKind = "COPY"
	StepEnv     StepKind = "ENV"
	StepExpose  StepKind = "EXPOSE"
	StepCmd     StepKind = "CMD"
)

// Step is one build instruction with its chained digest.
type Step struct {
	Kind        StepKind
	Instruction string
	Digest      digest.Digest
}

// Plan expands the descriptor into its ordered build steps.
func (d *Descriptor) Plan() ([]Step, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	var steps []Step
	var parent digest.Digest
	add := func(kind StepKind, args string) {
		instruction := string(kind) + " " + args
		parent = digest.FromString(parent.String() + "\n" + instruction)
		steps = append(steps, Step{Kind: kind, Instruction: instruction, Digest: parent})
	}

	add(StepFrom, d.Base)
	if len(d.SystemPackages) > 0 {
		packages := make([]string, len(d.SystemPackages))
		for i, pkg := range d.SystemPackages {
			packages[i] = ShellQuote(pkg)
		}
		add(StepRun, "apt-get update && apt-get install -y --no-install-recommends "+
			strings.Join(packages, " ")+" && rm -rf /var/lib/apt/lists/*")
	}
	if d.Workdir != "" {
		add(StepWorkdir, d.Workdir)
	}
	add(StepCopy, d.Copy.Src+" "+d.Copy.Dest)
	if d.Manifest != "" {
		add(StepRun, "pip install --no-cache-dir -r "+ShellQuote(d.Manifest))
	}
	for _, env := range d.Env {
		add(StepEnv, env.Name+"="+dockerfileQuote(env.Value))
	}
	add(StepExpose, strconv.Itoa(d.Expose))
	cmd, err := d.entryCommand()
	if err != nil {
		return nil, err
	}
	add(StepCmd, cmd)
	return steps, nil
}

// Digest identifies the whole build; it is the digest of the last step.
func (d *Descriptor) Digest() (digest.Digest, error) {
	steps, err := d.Plan()
	if err != nil {
		return "", err
	}
	return steps[len(steps)-1].Digest, nil
}

// BindAddress returns the bind argument of the entry command.
func (d *Descriptor) BindAddress() string {
	port := strconv.Itoa(d.BindPort())
	if d.Entry.PortWired() {
		return d.Entry.Host + ":${PORT:-" + port + "}"
	}
	return d.Entry.Host + ":" + port
}

// EntryArgs returns the entry command as an argument vector. When PORT is
// wired the bind argument contains a shell expansion.
func (d *Descriptor) EntryArgs() []string {
	args := []string{d.Entry.Manager}
	if d.Entry.Workers > 0 {
		args = append(args, "--workers", strconv.Itoa(d.Entry.Workers))
	}
	return append(args, "--bind", d.BindAddress(), d.Entry.App)
}

func (d *Descriptor) entryCommand() (string, error) {
	if d.Entry.PortWired() {
		// Shell form so ${PORT} expands; exec keeps the manager as PID 1.
		words := []string{"exec", ShellQuote(d.Entry.Manager)}
		if d.Entry.Workers > 0 {
			words = append(words, "--workers", strconv.Itoa(d.Entry.Workers))
		}
		bind := ShellQuote(d.Entry.Host) + ":${PORT:-" + strconv.Itoa(d.BindPort()) + "}"
		words = append(words, "--bind", bind, ShellQuote(d.Entry.App))
		return strings.Join(words, " "), nil
	}
	encoded, err := json.Marshal(d.EntryArgs())
	if err != nil {
		return "", fmt.Errorf("encode entry command: %w", err)
	}
	return string(encoded), nil
}
