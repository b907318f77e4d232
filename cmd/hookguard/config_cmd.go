package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/mattjoyce/hookguard/internal/config"
	"gopkg.in/yaml.v3"
)

func runConfigNoun(args []string) int {
	if len(args) < 1 {
		printConfigNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printConfigNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "check":
		return runConfigCheck(actionArgs)
	case "lock":
		return runConfigLock(actionArgs)
	case "show":
		return runConfigShow(actionArgs)
	case "get":
		return runConfigGet(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown config action: %s\n", action)
		printConfigNounHelp(os.Stderr)
		return 1
	}
}

func printConfigNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: hookguard config <check|lock|show|get> [--config PATH]")
}

// loadConfigForTool resolves the config path, discovering it when empty, and
// loads it.
func loadConfigForTool(configPath string) (string, *config.Config, error) {
	if configPath == "" {
		discovered, err := config.DiscoverConfig()
		if err != nil {
			return "", nil, err
		}
		configPath = discovered
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return configPath, nil, err
	}
	return configPath, cfg, nil
}

func runConfigCheck(args []string) int {
	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	path, cfg, err := loadConfigForTool(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration invalid: %v\n", err)
		return 1
	}

	for _, w := range cfg.Warnings {
		fmt.Printf("WARNING: %s\n", w)
	}
	fmt.Printf("Configuration valid: %s\n", path)
	fmt.Printf("  files: %d\n", len(cfg.SourceFiles))
	fmt.Printf("  dedup backend: %s (failure policy %s)\n", cfg.Dedup.Backend, cfg.Dedup.FailurePolicy)
	fmt.Printf("  listen: %s%s\n", cfg.Webhook.Listen, cfg.Webhook.Path)
	return 0
}

func runConfigLock(args []string) int {
	fs := flag.NewFlagSet("lock", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	dryRun := fs.Bool("dry-run", false, "Compute hashes without writing .checksums")
	verbose := fs.Bool("v", false, "Print every hashed file")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	path := *configPath
	if path == "" {
		discovered, err := config.DiscoverConfig()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to discover config: %v\n", err)
			return 1
		}
		path = discovered
	}

	reports, err := config.LockConfig(path, *dryRun)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Lock failed: %v\n", err)
		return 1
	}

	for _, r := range reports {
		state := "written"
		if !r.Written {
			state = "dry-run"
		}
		fmt.Printf("%s (%s, %d files)\n", r.ChecksumPath, state, len(r.Files))
		if *verbose {
			for _, f := range r.Files {
				fmt.Printf("  %s  %s\n", f.Hash, f.Filename)
			}
		}
	}
	return 0
}

func runConfigShow(args []string) int {
	fs := flag.NewFlagSet("show", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Output in structured JSON format")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	_, cfg, err := loadConfigForTool(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Load error: %v\n", err)
		return 1
	}

	result, err := cfg.GetPath(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return printValue(result, *jsonOut, true)
}

func runConfigGet(args []string) int {
	fs := flag.NewFlagSet("get", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Output in structured JSON format")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Usage: hookguard config get <path> [--config PATH] [--json]")
		return 1
	}

	_, cfg, err := loadConfigForTool(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	val, err := cfg.GetPath(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return printValue(val, *jsonOut, false)
}

func printValue(v any, asJSON, asYAML bool) int {
	switch {
	case asJSON:
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
	case asYAML:
		data, err := yaml.Marshal(v)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		fmt.Print(string(data))
	default:
		fmt.Printf("%v\n", v)
	}
	return 0
}
