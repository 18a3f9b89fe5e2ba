// intcode CLI - runs Intcode programs, circuits and networks, and serves them
// over Connect/gRPC.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/chazu/intcode/manifest"
	"github.com/chazu/intcode/vm"
)

func main() {
	verbosity := flag.Int("v", 0, "Log verbosity (0 = errors only, 2 = info, 4 = debug)")
	logFile := flag.String("log", "", "Log to this file instead of stderr")
	configPath := flag.String("config", "", "Path to an intcode.toml (default: search upward from the current directory)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: intcode [options] <command> [flags] [program]\n\n")
		fmt.Fprintf(os.Stderr, "Commands:\n")
		fmt.Fprintf(os.Stderr, "  run       Run a program on one engine\n")
		fmt.Fprintf(os.Stderr, "  feedback  Run one engine per phase, linked in a ring (or a chain with -open)\n")
		fmt.Fprintf(os.Stderr, "  network   Run a packet network arbitrated by a NAT\n")
		fmt.Fprintf(os.Stderr, "  dis       Disassemble a program\n")
		fmt.Fprintf(os.Stderr, "  serve     Start the Connect/gRPC server\n")
		fmt.Fprintf(os.Stderr, "\nWith no command, intcode runs what intcode.toml describes.\n")
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  intcode run -in 5 day05.ic\n")
		fmt.Fprintf(os.Stderr, "  intcode feedback -phases 9,8,7,6,5 day07.ic\n")
		fmt.Fprintf(os.Stderr, "  intcode network -size 50 day23.ic\n")
		fmt.Fprintf(os.Stderr, "  intcode -v 2 serve -addr :4567 -db runs.db\n")
	}
	flag.Parse()

	var m *manifest.Manifest
	var err error
	if *configPath != "" {
		m, err = manifest.LoadFile(*configPath)
	} else {
		m, err = manifest.FindAndLoad(".")
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading manifest: %v\n", err)
		os.Exit(1)
	}

	configureLogging(*verbosity, *logFile, m)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	args := flag.Args()
	cmd := ""
	if len(args) > 0 {
		cmd, args = args[0], args[1:]
	}

	switch cmd {
	case "run":
		err = handleRunCommand(ctx, args, m, os.Stdin, os.Stdout)
	case "feedback":
		err = handleFeedbackCommand(ctx, args, m, os.Stdin, os.Stdout)
	case "network":
		err = handleNetworkCommand(ctx, args, m, os.Stdin, os.Stdout)
	case "dis":
		err = handleDisCommand(args, m, os.Stdin, os.Stdout)
	case "serve":
		err = handleServeCommand(ctx, args)
	case "":
		if m == nil {
			flag.Usage()
			os.Exit(2)
		}
		err = runManifest(ctx, m, os.Stdout)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command %q\n\n", cmd)
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// configureLogging lets command-line flags override the manifest's [log]
// table.
func configureLogging(verbosity int, file string, m *manifest.Manifest) {
	if m != nil {
		if verbosity == 0 {
			verbosity = m.Log.Verbosity
		}
		if file == "" {
			file = m.Log.File
		}
	}
	var path *string
	if file != "" {
		path = &file
	}
	commonlog.Configure(verbosity, path)
}

// loadProgram reads the program named by the first positional argument
// ("-" for stdin), falling back to the manifest's [program].
func loadProgram(args []string, m *manifest.Manifest, stdin io.Reader) (*vm.Memory, error) {
	if len(args) > 0 {
		var data []byte
		var err error
		if args[0] == "-" {
			data, err = io.ReadAll(stdin)
		} else {
			data, err = os.ReadFile(args[0])
		}
		if err != nil {
			return nil, fmt.Errorf("cannot read program: %w", err)
		}
		return vm.ParseMemory(string(data))
	}
	if m != nil {
		return m.LoadProgram()
	}
	return nil, errors.New("no program given and no intcode.toml found")
}

// parseWords parses a comma separated list of integers.
func parseWords(text string) ([]vm.Word, error) {
	var out []vm.Word
	for _, tok := range strings.Split(text, ",") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		v, err := strconv.ParseInt(tok, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%q is not an integer", tok)
		}
		out = append(out, vm.Word(v))
	}
	return out, nil
}

// wordsFlag is a flag.Value holding a comma separated word list. set
// records whether the flag appeared, so manifest values are only
// overridden explicitly.
type wordsFlag struct {
	words []vm.Word
	set   bool
}

func (f *wordsFlag) String() string {
	if f == nil {
		return ""
	}
	return vm.NewMemory(f.words...).String()
}

func (f *wordsFlag) Set(s string) error {
	ws, err := parseWords(s)
	if err != nil {
		return err
	}
	f.words = append(f.words, ws...)
	f.set = true
	return nil
}
