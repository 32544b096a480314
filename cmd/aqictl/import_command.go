package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newImportCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "import <csv|dir>...",
		Short: "Import GSOD observations from CSV files",
		Long:  "Import GSOD observations. Each file is inserted in its own transaction; a bad file leaves earlier files imported.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			files, err := csvFiles(args)
			if err != nil {
				return err
			}

			st, err := ctx.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer st.Close()

			out := cmd.OutOrStdout()
			total := 0
			for _, path := range files {
				f, err := os.Open(path)
				if err != nil {
					return err
				}
				observations, err := parseGSOD(f)
				_ = f.Close()
				if err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}

				ids, err := st.InsertObservations(cmd.Context(), observations)
				if err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
				total += len(ids)
				fmt.Fprintf(out, "Imported %d observations from %s\n", len(ids), path)
			}
			fmt.Fprintf(out, "Imported %d observations from %d files\n", total, len(files))
			return nil
		},
	}
}
