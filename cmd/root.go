// Package cmd implements the nancy command line interface.
package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/agentic-research/nancy/internal/overlay"
	"github.com/agentic-research/nancy/internal/walker"
)

// version is stamped by the release build.
var version = "dev"

var (
	buildPath     string
	processHidden bool
	update        bool
	deleteStale   bool
	jobs          int
	configPath    string
)

func init() {
	rootCmd.Flags().StringVar(&buildPath, "path", "", "path to build relative to the input tree (default: whole tree)")
	rootCmd.Flags().BoolVar(&processHidden, "process-hidden", false, "also process hidden files and directories")
	rootCmd.Flags().BoolVar(&update, "update", false, "only write outputs older than their inputs")
	rootCmd.Flags().BoolVar(&deleteStale, "delete", false, "delete output files not produced by this run")
	rootCmd.Flags().IntVarP(&jobs, "jobs", "j", 0, "number of files to process in parallel (default: CPU count)")
	rootCmd.Flags().StringVar(&configPath, "config", "", "HCL configuration file (default: nancy.hcl if present)")
}

var rootCmd = &cobra.Command{
	Use:     "nancy INPUT-PATH OUTPUT",
	Short:   "A simple templating system",
	Version: version,
	Long: "Expand a tree of template files into an output tree.\n\n" +
		"The INPUT-PATH is a '" + string(os.PathListSeparator) + "'-separated list; the inputs are merged\n" +
		"in left-to-right order. OUTPUT is an output directory, or a file\n" +
		"('-' for stdout).",
	Args:          cobra.RangeArgs(0, 2),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd, args)
		if err != nil {
			return err
		}

		if len(cfg.Inputs) == 0 {
			return fmt.Errorf("at least one input must be given")
		}
		if cfg.Output == "" {
			return fmt.Errorf("an output must be given")
		}

		// A single input that is a regular file builds just that file: the
		// current directory becomes the input root and the file becomes the
		// build path.
		if cfg.BuildPath == "" && !cmd.Flags().Changed("path") && len(cfg.Inputs) == 1 {
			if info, err := os.Stat(cfg.Inputs[0]); err == nil && info.Mode().IsRegular() {
				cfg.BuildPath = cfg.Inputs[0]
				cwd, err := os.Getwd()
				if err != nil {
					return err
				}
				cfg.Inputs[0] = cwd
			}
		}

		ov, err := overlay.New(cfg.Inputs)
		if err != nil {
			return err
		}
		w, err := walker.New(walker.Config{
			Overlay:       ov,
			Output:        cfg.Output,
			BuildPath:     cfg.BuildPath,
			ProcessHidden: cfg.ProcessHidden,
			Update:        cfg.Update,
			Delete:        cfg.Delete,
			Jobs:          cfg.Jobs,
		})
		if err != nil {
			return err
		}
		return w.Run(cmd.Context())
	},
}

// splitInputs splits the INPUT-PATH argument on the platform's path list
// separator.
func splitInputs(arg string) ([]string, error) {
	if arg == "" {
		return nil, fmt.Errorf("input path must not be empty")
	}
	return filepath.SplitList(arg), nil
}

// report writes the user-facing failure message, preceded by a full
// diagnostic line when debug tracing is on.
func report(err error, debug bool, sink io.Writer) {
	if debug {
		log.Error("build failed", "err", err)
	}
	fmt.Fprintf(sink, "nancy: %v\n", err)
}

// Execute runs the root command.
func Execute() {
	_, debug := os.LookupEnv("DEBUG")
	if debug {
		log.SetLevel(log.DebugLevel)
		log.SetReportCaller(true)
	}
	if err := rootCmd.Execute(); err != nil {
		report(err, debug, os.Stderr)
		os.Exit(1)
	}
}
