package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	adminmodels "lagerkoll/internal/admin/models"
)

func resourceNames() string {
	names := make([]string, len(adminmodels.Resources))
	for i, r := range adminmodels.Resources {
		names[i] = string(r)
	}
	return strings.Join(names, ", ")
}

func newImportCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "import <resource> <file.xlsx>",
		Short: "Upload a spreadsheet (admin only)",
		Long:  "Upload an xlsx workbook. Resource is one of: " + resourceNames() + ".",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.requireToken(); err != nil {
				return err
			}
			resource, err := adminmodels.ParseResource(args[0])
			if err != nil {
				return err
			}
			f, err := os.Open(args[1])
			if err != nil {
				return err
			}
			defer f.Close()

			res, err := a.api().Import(cmd.Context(), resource, filepath.Base(args[1]), f)
			if err != nil {
				return fmt.Errorf("import %s: %w", resource, err)
			}
			fmt.Fprintf(a.out, "Imported %d %s\n", res.Count, res.Resource)
			return nil
		},
	}
}

func newExportCmd(a *app) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "export <resource>",
		Short: "Download a spreadsheet (admin only)",
		Long:  "Download an xlsx workbook. Resource is one of: " + resourceNames() + ".",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.requireToken(); err != nil {
				return err
			}
			resource, err := adminmodels.ParseResource(args[0])
			if err != nil {
				return err
			}
			if output == "" {
				output = fmt.Sprintf("lagerkoll-%s-%s.xlsx", resource, time.Now().Format("20060102"))
			}

			tmp := output + ".part"
			f, err := os.Create(tmp)
			if err != nil {
				return err
			}
			if err := a.api().Export(cmd.Context(), resource, f); err != nil {
				f.Close()
				os.Remove(tmp)
				return fmt.Errorf("export %s: %w", resource, err)
			}
			if err := f.Close(); err != nil {
				os.Remove(tmp)
				return err
			}
			if err := os.Rename(tmp, output); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Wrote %s\n", output)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "destination file (default: lagerkoll-<resource>-<date>.xlsx)")
	return cmd
}
