package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"instashim/internal/image"
)

func newImageCommand(ctx *commandContext) *cobra.Command {
	var descriptorPath string
	var legacy bool

	imageCmd := &cobra.Command{
		Use:   "image",
		Short: "Render and check the container build descriptor",
	}
	imageCmd.PersistentFlags().StringVarP(&descriptorPath, "descriptor", "d", "", "Build descriptor YAML (defaults to launch.descriptor, then the built-in descriptor)")
	imageCmd.PersistentFlags().BoolVar(&legacy, "legacy", false, "Use the original descriptor with a hardcoded bind port")

	load := func() (*image.Descriptor, error) {
		return loadDescriptor(ctx, descriptorPath, legacy)
	}

	imageCmd.AddCommand(newImageRenderCommand(load))
	imageCmd.AddCommand(newImagePlanCommand(load))
	imageCmd.AddCommand(newImageLintCommand(load))
	imageCmd.AddCommand(newImageInitCommand(load))

	return imageCmd
}

func loadDescriptor(ctx *commandContext, flagPath string, legacy bool) (*image.Descriptor, error) {
	if legacy {
		return image.Original(), nil
	}
	path := strings.TrimSpace(flagPath)
	if path == "" {
		cfg, err := ctx.ensureConfig()
		if err != nil {
			return nil, err
		}
		path = cfg.Launch.Descriptor
	}
	if path == "" {
		return image.Default(), nil
	}
	return image.Load(path)
}

func newImageRenderCommand(load func() (*image.Descriptor, error)) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "render",
		Short: "Write the Dockerfile",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := load()
			if err != nil {
				return err
			}
			if output == "" || output == "-" {
				return d.Render(cmd.OutOrStdout())
			}
			if err := d.RenderFile(output); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", output)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Destination file (stdout when empty)")
	return cmd
}

func newImagePlanCommand(load func() (*image.Descriptor, error)) *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Show build steps with their chained digests",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := load()
			if err != nil {
				return err
			}
			steps, err := d.Plan()
			if err != nil {
				return err
			}
			if jsonOutput {
				return writePlanJSON(cmd.OutOrStdout(), steps)
			}
			rows := make([][]string, 0, len(steps))
			for i, step := range steps {
				rows = append(rows, []string{
					fmt.Sprintf("%d", i+1),
					shortDigest(step.Digest.Encoded()),
					step.Instruction,
				})
			}
			printTable(cmd.OutOrStdout(), []string{"#", "Digest", "Instruction"}, rows,
				[]columnAlignment{alignRight, alignLeft, alignLeft})
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the steps and build digest as JSON")
	return cmd
}

func shortDigest(encoded string) string {
	if len(encoded) > 12 {
		return encoded[:12]
	}
	return encoded
}

func newImageLintCommand(load func() (*image.Descriptor, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "lint",
		Short: "Report port and dependency inconsistencies",
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := load()
			if err != nil {
				return err
			}
			findings := d.Lint()
			out := cmd.OutOrStdout()
			if len(findings) == 0 {
				fmt.Fprintln(out, "No findings")
				return nil
			}
			colorize := shouldColorize(out)
			for _, f := range findings {
				kind := statusWarn
				if f.Severity == image.SeverityError {
					kind = statusError
				}
				fmt.Fprintln(out, renderStatusLine(f.Code, kind, f.Message, colorize))
			}
			if image.HasErrors(findings) {
				return errors.New("descriptor has lint errors")
			}
			return nil
		},
	}
}

func newImageInitCommand(load func() (*image.Descriptor, error)) *cobra.Command {
	var overwrite bool
	cmd := &cobra.Command{
		Use:   "init <path>",
		Short: "Write a build descriptor to edit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target := args[0]
			if !overwrite {
				if _, err := os.Stat(target); err == nil {
					return fmt.Errorf("descriptor already exists at %s (use --overwrite to replace it)", target)
				}
			}
			d, err := load()
			if err != nil {
				return err
			}
			if err := d.Save(target); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote build descriptor to %s\n", target)
			return nil
		},
	}
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Overwrite an existing descriptor")
	return cmd
}
