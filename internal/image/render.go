package image

import (
	"bufio"
	"fmt"
	"io"

	"instashim/internal/fileutil"
)

// Render writes the Dockerfile for d, one planned step per line.
func (d *Descriptor) Render(w io.Writer) error {
	steps, err := d.Plan()
	if err != nil {
		return err
	}
	bw := bufio.NewWriter(w)
	for _, step := range steps {
		if _, err := fmt.Fprintln(bw, step.Instruction); err != nil {
			return fmt.Errorf("write dockerfile: %w", err)
		}
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("write dockerfile: %w", err)
	}
	return nil
}

// RenderFile writes the Dockerfile to path, replacing any previous file only
// once rendering succeeds.
func (d *Descriptor) RenderFile(path string) error {
	return fileutil.WriteAtomic(path, 0o644, d.Render)
}
