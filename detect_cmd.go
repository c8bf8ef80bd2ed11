package main

import (
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/Tutortoise/layout-detection-service/config"
	"github.com/Tutortoise/layout-detection-service/models"
)

func detectCmd(cfg *config.Config) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "detect IMAGE...",
		Short: "Detect layout elements in image files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			logger := newLogger(cfg)
			defer func() { _ = logger.Sync() }()

			detector, closeDetector, err := newDetector(cfg, logger)
			if err != nil {
				return err
			}
			defer func() {
				if cerr := closeDetector(); cerr != nil && err == nil {
					err = cerr
				}
			}()

			failed := 0
			for _, path := range args {
				req := models.FileRequest(path)
				req.ConfThreshold = float32(cfg.ConfThreshold)
				result := detector.Detect(cmd.Context(), req)
				if result.IsError() {
					failed++
				}
				if err := printResult(cmd.OutOrStdout(), path, result, asJSON); err != nil {
					return err
				}
			}
			if failed > 0 {
				return errors.Errorf("%d of %d images failed", failed, len(args))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the wire JSON instead of a table")
	return cmd
}

func printResult(w io.Writer, path string, result models.DetectionResult, asJSON bool) error {
	if asJSON {
		data, err := models.Encode(result)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(w, "%s\n", data)
		return err
	}

	if result.IsError() {
		code := result.Err.Code
		if code == "" {
			code = "-"
		}
		_, err := fmt.Fprintf(w, "%s: error: %s (code %s)\n", path, result.Err.Message, code)
		return err
	}

	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetTitle(fmt.Sprintf("%s  %dx%d  %d ms", path, result.ImageWidth, result.ImageHeight, result.InferenceTimeMs))
	tw.AppendHeader(table.Row{"#", "class", "score", "x1", "y1", "x2", "y2"})
	for i, d := range result.Detections {
		tw.AppendRow(table.Row{
			i, d.ClassName,
			fmt.Sprintf("%.4f", d.Score),
			fmt.Sprintf("%.1f", d.X1), fmt.Sprintf("%.1f", d.Y1),
			fmt.Sprintf("%.1f", d.X2), fmt.Sprintf("%.1f", d.Y2),
		})
	}
	tw.AppendFooter(table.Row{"", "count", result.Count})
	tw.Render()
	return nil
}
