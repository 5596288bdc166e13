package main

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"pagedb"
	"pagedb/catalog"
)

const (
	exitError       = 1
	exitCorruptMeta = 2
)

type flags struct {
	config      string
	root        string
	pageSize    int
	bufferSize  int
	strict      bool
	compression string
	logLevel    string
	logFile     string
}

func main() {
	if err := newRootCmd(os.Stdin, os.Stdout, os.Stderr).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		if errors.Is(err, pagedb.ErrCorruptMeta) {
			os.Exit(exitCorruptMeta)
		}
		os.Exit(exitError)
	}
}

func newRootCmd(in io.Reader, out, stderr io.Writer) *cobra.Command {
	var f flags
	root := &cobra.Command{
		Use:           "pagedb",
		Short:         "Page oriented table storage",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runShell(cmd, &f, in, out, stderr, true)
		},
	}
	pf := root.PersistentFlags()
	pf.StringVar(&f.config, "config", "", "YAML config file")
	pf.StringVar(&f.root, "root", "", "database root directory")
	pf.IntVar(&f.pageSize, "page-size", 0, "page size in bytes for a new root")
	pf.IntVar(&f.bufferSize, "buffer-size", 0, "number of pages held in memory")
	pf.BoolVar(&f.strict, "strict", false, "check index invariants after every change")
	pf.StringVar(&f.compression, "compression", "", "snapshot compression: snappy, lz4 or none")
	pf.StringVar(&f.logLevel, "log-level", "", "log level")
	pf.StringVar(&f.logFile, "log-file", "", "write logs to a rotated file")

	var prompt bool
	shell := &cobra.Command{
		Use:   "shell",
		Short: "Read commands from standard input",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runShell(cmd, &f, in, out, stderr, prompt)
		},
	}
	shell.Flags().BoolVar(&prompt, "prompt", true, "print a prompt before each command")

	root.AddCommand(shell, newBenchCmd(&f, out, stderr))
	return root
}

// resolve merges the config file with the flags that were set explicitly.
func (f *flags) resolve(cmd *cobra.Command) (Config, error) {
	cfg, err := loadConfig(f.config)
	if err != nil {
		return cfg, err
	}
	changed := cmd.Flags().Changed
	if changed("root") {
		cfg.Root = f.root
	}
	if changed("page-size") {
		cfg.PageSize = f.pageSize
	}
	if changed("buffer-size") {
		cfg.BufferSize = f.bufferSize
	}
	if changed("strict") {
		cfg.StrictMode = f.strict
	}
	if changed("compression") {
		cfg.Compression = f.compression
	}
	if changed("log-level") {
		cfg.Log.Level = f.logLevel
	}
	if changed("log-file") {
		cfg.Log.File = f.logFile
	}
	return cfg, nil
}

func open(cmd *cobra.Command, f *flags, stderr io.Writer) (*pagedb.StorageManager, *log.Logger, Config, error) {
	cfg, err := f.resolve(cmd)
	if err != nil {
		return nil, nil, cfg, err
	}
	logger, err := newLogger(cfg.Log, stderr)
	if err != nil {
		return nil, nil, cfg, err
	}
	opts, err := cfg.options(logger)
	if err != nil {
		return nil, nil, cfg, err
	}
	sm, err := pagedb.Open(cfg.Root, opts)
	if err != nil {
		return nil, nil, cfg, err
	}
	return sm, logger, cfg, nil
}

func runShell(cmd *cobra.Command, f *flags, in io.Reader, out, stderr io.Writer, prompt bool) (err error) {
	sm, logger, _, err := open(cmd, f, stderr)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := sm.Close(); err == nil {
			err = cerr
		}
	}()
	cat, err := catalog.Open(sm)
	if err != nil {
		return err
	}
	e := &env{sm: sm, cat: cat, out: out}
	return shellLoop(e, in, stderr, prompt, logger)
}

// shellLoop runs commands until EOF or quit. Command failures are reported
// and the loop continues.
func shellLoop(e *env, in io.Reader, stderr io.Writer, prompt bool, logger *log.Logger) error {
	scanner := bufio.NewScanner(in)
	for {
		if prompt {
			fmt.Fprint(e.out, "pagedb> ")
		}
		if !scanner.Scan() {
			return errors.Wrap(scanner.Err(), "read input")
		}
		c, err := Parse(scanner.Text())
		if err != nil {
			fmt.Fprintln(stderr, "error:", err)
			continue
		}
		if c == nil {
			continue
		}
		err = c.Run(e)
		if errors.Is(err, errQuit) {
			return nil
		}
		if err != nil {
			if errors.Is(err, pagedb.ErrIO) {
				logger.WithError(err).Error("command aborted")
			}
			fmt.Fprintln(stderr, "error:", err)
		}
	}
}
