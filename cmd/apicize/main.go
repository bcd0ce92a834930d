package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	// Version info (injected by GoReleaser)
	version = "dev"
	commit  = "none"
	date    = "unknown"

	cfgFile      string
	workbookFile string
	dataPath     string
	overrideRuns int
	reportFormat string
	reportFile   string
	rateLimit    float64
	enableTrace  bool

	rootCmd = &cobra.Command{
		Use:   "apicize [request-or-group ...]",
		Short: "Apicize - run HTTP request workbooks and their tests",
		Long: `Apicize dispatches the requests in a workbook, runs each request's test
script against the response, and reports a rolled-up pass/fail tree.
Requests may be named by id or name; with no arguments every top-level
request and group runs.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			// Load .env file if it exists (optional, warn if malformed)
			if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
				fmt.Fprintf(os.Stderr, "Warning: Failed to load .env file: %v\n", err)
			}

			if workbookFile == "" {
				workbookFile = viper.GetString("workbook")
			}
			if workbookFile == "" {
				return fmt.Errorf("a workbook file is required (use --file)")
			}

			return runWorkbook(workbookFile, args)
		},
		SilenceUsage: true,
	}
)

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is .apicize/config.yaml)")

	rootCmd.Flags().StringVarP(&workbookFile, "file", "f", "", "Workbook file to execute (YAML or JSON)")
	rootCmd.Flags().StringVar(&dataPath, "data-path", "", "Directory external data files may be read from (default: workbook directory)")
	rootCmd.Flags().IntVar(&overrideRuns, "runs", 0, "Override the number of runs for every request and group")
	rootCmd.Flags().StringVar(&reportFormat, "format", "text", "Report format: text, csv or json")
	rootCmd.Flags().StringVarP(&reportFile, "output", "o", "", "Write the report to a file instead of stdout")
	rootCmd.Flags().Float64Var(&rateLimit, "rps", 0, "Cap dispatches at this many requests per second")
	rootCmd.Flags().BoolVar(&enableTrace, "trace", false, "Capture verbose request detail")

	rootCmd.AddCommand(importCmd())

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("Apicize %s\n", version)
			fmt.Printf("  commit: %s\n", commit)
			fmt.Printf("  built:  %s\n", date)
		},
	})
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".apicize")
		viper.SetConfigType("yaml")
		viper.SetConfigName("config")
	}

	viper.SetEnvPrefix("apicize")
	viper.AutomaticEnv()

	_ = viper.ReadInConfig()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
