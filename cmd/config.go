package cmd

import (
	"fmt"
	"os"

	"github.com/hashicorp/hcl/v2/hclsimple"
	"github.com/spf13/cobra"
)

// defaultConfigFile is loaded when it exists and --config is not given.
const defaultConfigFile = "nancy.hcl"

// runConfig is the fully resolved configuration of one run: file settings
// overridden by flags, positional arguments overriding both.
type runConfig struct {
	Inputs        []string
	Output        string
	BuildPath     string
	ProcessHidden bool
	Update        bool
	Delete        bool
	Jobs          int
}

// fileConfig mirrors runConfig in HCL form. Every attribute is optional;
// anything unset falls back to flags and arguments.
type fileConfig struct {
	Inputs        []string `hcl:"inputs,optional"`
	Output        string   `hcl:"output,optional"`
	Path          string   `hcl:"path,optional"`
	Jobs          int      `hcl:"jobs,optional"`
	Update        bool     `hcl:"update,optional"`
	Delete        bool     `hcl:"delete,optional"`
	ProcessHidden bool     `hcl:"process_hidden,optional"`
}

// loadConfig merges the configuration file, the flags and the positional
// arguments. Flags win over the file; positional arguments win over both.
func loadConfig(cmd *cobra.Command, args []string) (*runConfig, error) {
	cfg := &runConfig{}

	path := configPath
	if path == "" {
		if _, err := os.Stat(defaultConfigFile); err == nil {
			path = defaultConfigFile
		}
	}
	if path != "" {
		var fc fileConfig
		if err := hclsimple.DecodeFile(path, nil, &fc); err != nil {
			return nil, fmt.Errorf("reading configuration '%s': %w", path, err)
		}
		cfg.Inputs = fc.Inputs
		cfg.Output = fc.Output
		cfg.BuildPath = fc.Path
		cfg.Jobs = fc.Jobs
		cfg.Update = fc.Update
		cfg.Delete = fc.Delete
		cfg.ProcessHidden = fc.ProcessHidden
	}

	if cmd.Flags().Changed("path") {
		cfg.BuildPath = buildPath
	}
	if cmd.Flags().Changed("process-hidden") {
		cfg.ProcessHidden = processHidden
	}
	if cmd.Flags().Changed("update") {
		cfg.Update = update
	}
	if cmd.Flags().Changed("delete") {
		cfg.Delete = deleteStale
	}
	if cmd.Flags().Changed("jobs") {
		cfg.Jobs = jobs
	}

	if len(args) > 0 {
		inputs, err := splitInputs(args[0])
		if err != nil {
			return nil, err
		}
		cfg.Inputs = inputs
	}
	if len(args) > 1 {
		cfg.Output = args[1]
	}
	return cfg, nil
}
