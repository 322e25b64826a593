package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chzyer/readline"

	"github.com/KevoDB/blocksim/pkg/common/log"
	"github.com/KevoDB/blocksim/pkg/config"
	"github.com/KevoDB/blocksim/pkg/dbms"
	"github.com/KevoDB/blocksim/pkg/telemetry"
)

// Command completer for readline
var completer = readline.NewPrefixCompleter(
	readline.PcItem(".help"),
	readline.PcItem(".exit"),
	readline.PcItem(".config"),
	readline.PcItem(".create"),
	readline.PcItem(".load"),
	readline.PcItem(".save"),
	readline.PcItem(".gen"),
	readline.PcItem(".list"),
	readline.PcItem(".print"),
	readline.PcItem(".select"),
	readline.PcItem(".estimate"),
	readline.PcItem(".sort"),
	readline.PcItem(".drop"),
	readline.PcItem(".cost"),
	readline.PcItem(".stats"),
)

const helpText = `
blocksim - A block-budgeted relational store with an external merge sort.

Usage:
  blocksim [options]

Commands:
  .help                         - Show this help message
  .exit                         - Exit the program
  .config                       - Show the block budget and medium settings

  .create NAME TYPES            - Create a relation, e.g. .create t integer,string,double
  .load NAME FILE [header]      - Append the records of a CSV file to a relation
  .save NAME FILE [header]      - Write a relation as CSV
  .gen NAME COUNT [SEED]        - Append COUNT random tuples to a relation
  .list                         - List relations and their sizes
  .print NAME [LIMIT]           - Print the tuples of a relation
  .select NAME COL LOW HIGH     - Print tuples whose column COL lies in [LOW, HIGH]
  .drop NAME                    - Drop a relation and free its blocks

  .estimate NAME COL            - Estimate the I/O cost of sorting NAME by COL
  .sort IN OUT COL              - Sort IN by column COL into the new relation OUT
  .cost                         - Show the I/O cost of the last command
  .stats                        - Show block manager and medium statistics
`

// Options holds the command line configuration
type Options struct {
	ConfigPath    string
	TotalBlocks   int
	BlockCapacity int
	Codec         string
	LogLevel      string
}

func main() {
	opts := parseFlags()

	cfg, err := loadConfig(opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %s\n", err)
		os.Exit(1)
	}

	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
	logger := log.NewStandardLogger(log.WithLevel(level), log.WithOutput(os.Stderr))
	log.SetDefaultLogger(logger)

	telCfg := telemetry.DefaultConfig()
	telCfg.LoadFromEnv()
	tel, err := telemetry.New(telCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing telemetry: %s\n", err)
		os.Exit(1)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Error shutting down telemetry: %s\n", err)
		}
	}()

	db, err := dbms.New(cfg, dbms.WithLogger(logger.WithField("component", "dbms")), dbms.WithTelemetry(tel))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating block store: %s\n", err)
		os.Exit(1)
	}
	defer db.Close()

	runInteractive(newShell(db, os.Stdout))
}

// parseFlags parses command line flags and returns the Options
func parseFlags() Options {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "blocksim - A block-budgeted relational store\n\n")
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: blocksim [options]\n\n")
		fmt.Fprintf(flag.CommandLine.Output(), "Settings are read from the config file, then BLOCKSIM_* environment\n")
		fmt.Fprintf(flag.CommandLine.Output(), "variables, then flags.\n\n")
		fmt.Fprintf(flag.CommandLine.Output(), "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(flag.CommandLine.Output(), "\nFor the list of commands, start blocksim and type .help\n")
	}

	configPath := flag.String("config", "", "Path of a JSON configuration file")
	totalBlocks := flag.Int("blocks", 0, "Number of blocks that may be resident at once")
	blockCapacity := flag.Int("capacity", 0, "Number of tuples per block")
	codec := flag.String("codec", "", "Medium codec: none, snappy or zstd")
	logLevel := flag.String("log-level", "", "Log level: debug, info, warn, error")

	flag.Parse()

	return Options{
		ConfigPath:    *configPath,
		TotalBlocks:   *totalBlocks,
		BlockCapacity: *blockCapacity,
		Codec:         *codec,
		LogLevel:      *logLevel,
	}
}

// loadConfig layers the config file, the environment and flags
func loadConfig(opts Options) (*config.Config, error) {
	cfg := config.NewDefaultConfig()
	if opts.ConfigPath != "" {
		loaded, err := config.LoadConfig(opts.ConfigPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	cfg.LoadFromEnv()

	cfg.Update(func(c *config.Config) {
		if opts.TotalBlocks > 0 {
			c.TotalBlocks = opts.TotalBlocks
		}
		if opts.BlockCapacity > 0 {
			c.BlockCapacity = opts.BlockCapacity
		}
		if opts.Codec != "" {
			c.MediumCodec = opts.Codec
		}
		if opts.LogLevel != "" {
			c.LogLevel = opts.LogLevel
		}
	})
	return cfg, cfg.Validate()
}

// runInteractive starts the interactive CLI mode
func runInteractive(sh *shell) {
	cfg := sh.db.Config()
	fmt.Println("blocksim version 1.0.0")
	fmt.Printf("Block budget: %d blocks of %d tuples. Enter .help for usage hints.\n", cfg.TotalBlocks, cfg.BlockCapacity)

	historyFile := filepath.Join(os.TempDir(), ".blocksim_history")
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "blocksim> ",
		HistoryFile:     historyFile,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		AutoComplete:    completer,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing readline: %s\n", err)
		os.Exit(1)
	}
	defer rl.Close()

	for {
		line, readErr := rl.Readline()
		if readErr != nil {
			if readErr == readline.ErrInterrupt {
				if len(line) == 0 {
					break
				}
				continue
			} else if readErr == io.EOF {
				fmt.Println("Goodbye!")
				break
			}
			fmt.Fprintf(os.Stderr, "Error reading input: %s\n", readErr)
			continue
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if err := sh.execute(line); err != nil {
			if err == errExit {
				fmt.Println("Goodbye!")
				return
			}
			fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		}
	}
}
