package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/plate-market/api/internal/services"
)

type renderOptions struct {
	emirate string
	style   string
	version int
	code    string
	number  string
	width   int
	format  string
	export  bool
	out     string
}

func newRenderCmd(root *rootOptions) *cobra.Command {
	opts := &renderOptions{}
	cmd := &cobra.Command{
		Use:   "render",
		Short: "Render one plate image to a file",
		Long: `Render one plate image to a file.

Examples:
  platectl render --emirate dubai --code A --number 12345
  platectl render --emirate abu_dhabi --number "5 12345" --export --format jpeg
  platectl render --emirate sharjah --style classic --code 2 --number 777 --out sharjah.png`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.version != 1 && opts.version != 2 {
				return fmt.Errorf("--plate-version must be 1 or 2, got %d", opts.version)
			}
			ctx := cmd.Context()
			svc, closeFn, err := root.renderService(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = closeFn(ctx) }()

			command := services.RenderCommand{
				Emirate:     opts.emirate,
				Style:       opts.style,
				Version:     opts.version,
				PlateCode:   opts.code,
				PlateNumber: opts.number,
				Width:       opts.width,
				Format:      opts.format,
			}
			var img services.RenderedImage
			if opts.export {
				img, err = svc.Export(ctx, command)
			} else {
				img, err = svc.Preview(ctx, command)
			}
			if err != nil {
				return err
			}

			out := opts.out
			if out == "" {
				out = img.Filename
			}
			if dir := filepath.Dir(out); dir != "." {
				if err := os.MkdirAll(dir, 0o755); err != nil {
					return fmt.Errorf("create output directory: %w", err)
				}
			}
			if err := os.WriteFile(out, img.Data, 0o644); err != nil {
				return fmt.Errorf("write %s: %w", out, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %dx%d %s\n", out, img.Width, img.Height, img.ContentType)
			return nil
		},
	}
	cmd.Flags().StringVarP(&opts.emirate, "emirate", "e", "", "emirate identifier, e.g. dubai or abu_dhabi")
	cmd.Flags().StringVar(&opts.style, "style", "", "plate style: private, classic or bike")
	cmd.Flags().IntVar(&opts.version, "plate-version", 1, "layout generation (1 or 2)")
	cmd.Flags().StringVarP(&opts.code, "code", "c", "", "plate code")
	cmd.Flags().StringVarP(&opts.number, "number", "n", "", "plate number")
	cmd.Flags().IntVarP(&opts.width, "width", "w", 0, "preview width; snapped to the nearest tier")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "png", "output format: png or jpeg")
	cmd.Flags().BoolVar(&opts.export, "export", false, "render at full export resolution")
	cmd.Flags().StringVarP(&opts.out, "out", "o", "", "output path (defaults to the derived file name)")
	_ = cmd.MarkFlagRequired("emirate")
	return cmd
}

func newLayoutsCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "layouts",
		Short: "List registered plate layouts as JSON",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			svc, closeFn, err := root.renderService(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = closeFn(ctx) }()

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(svc.Layouts(ctx))
		},
	}
}
