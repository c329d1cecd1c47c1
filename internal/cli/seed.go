package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aqasim81/joke-server/internal/seed"
)

var seedCmd = &cobra.Command{ //nolint:gochecknoglobals // standard Cobra pattern
	Use:   "seed",
	Short: "Replace every joke with the seed dataset",
	Long: `Delete all jokes and load the seed dataset in one transaction.
Running it twice leaves the same jokes, though with new ids.`,
	Args: cobra.NoArgs,
	RunE: runSeed,
}

func init() { //nolint:gochecknoinits // standard Cobra pattern for flag registration
	seedCmd.Flags().String("file", "", "YAML dataset to load instead of the bundled jokes")
	rootCmd.AddCommand(seedCmd)
}

func runSeed(cmd *cobra.Command, _ []string) error {
	out := cmd.OutOrStdout()

	path, _ := cmd.Flags().GetString("file")

	dataset, err := loadDataset(path)
	if err != nil {
		return err
	}

	ctx := commandContext(cmd)

	pool, err := connect(ctx, AppConfig, out)
	if err != nil {
		return err
	}
	defer pool.Teardown()

	n, err := seed.New(pool).Run(ctx, dataset)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Seeded %d jokes.\n", n)

	return nil
}

func loadDataset(path string) (seed.Dataset, error) {
	if path == "" {
		return seed.Default()
	}

	return seed.LoadDataset(path)
}
