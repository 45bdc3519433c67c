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
	"syscall"

	"github.com/peterh/liner"

	calc "github.com/daios-ai/calc"
)

const (
	appName    = "calc"
	promptMain = "> "
	debugEnv   = "CALC_DEBUG"
)

var helpText = `REPL commands:
  :tree        Toggle printing of the syntax tree
  :parsepoint  Toggle printing of the parse point on parse errors
  :trace       Toggle execution tracing
  :cache       List the calling cache
  :clear       Empty the calling cache
  :help        Show this help
  :quit        Exit (an empty line also exits)
`

func red(s string) string  { return "\x1b[31m" + s + "\x1b[0m" }
func blue(s string) string { return "\x1b[94m" + s + "\x1b[0m" }

func main() {
	fs := flag.NewFlagSet(appName, flag.ContinueOnError)
	trace := fs.Bool("t", false, "display details of the program as it is running")
	fs.BoolVar(trace, "trace", false, "alias for -t")
	compile := fs.Bool("c", false, "dump the bytecode of the program rather than running it")
	fs.BoolVar(compile, "compile", false, "alias for -c")
	load := fs.Bool("l", false, "run a bytecode dump produced by -c")
	cfgPath := fs.String("config", "", "path to a YAML config file (default $"+calc.ConfigEnv+")")
	fs.Usage = usage
	if err := fs.Parse(os.Args[1:]); err != nil {
		os.Exit(2)
	}
	if *trace && *compile {
		fmt.Fprintf(os.Stderr, "%s: -t and -c are mutually exclusive\n", appName)
		os.Exit(2)
	}

	cfg, err := calc.LoadConfig(*cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, red(err.Error()))
		os.Exit(1)
	}
	if *trace {
		cfg.Trace = true
	}

	switch fs.NArg() {
	case 0:
		os.Exit(cmdRepl(cfg))
	case 1:
		if *load {
			os.Exit(cmdLoad(cfg, fs.Arg(0)))
		}
		os.Exit(cmdRun(cfg, fs.Arg(0), *compile))
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Printf(`calc %s (built %s)

Usage:
  %s                       Start the REPL.
  %s [-t|-c] <file|+name>  Run a program (+name is <scripts_dir>/name.c5).
  %s -l <dump.yaml>        Run a bytecode dump produced by -c.

Flags:
  -t, -trace     Trace execution
  -c, -compile   Dump bytecode instead of running
  -config FILE   YAML config (timeout, max_depth, cache_limit, history_file, trace, scripts_dir)
`, calc.Version, calc.BuildDate, appName, appName, appName)
}

func newInterpreter(cfg *calc.Config, exe *calc.Executable) *calc.Interpreter {
	return calc.NewInterpreter(exe,
		calc.WithCache(calc.NewCallingCache(cfg.CacheLimit)),
		calc.WithMaxDepth(cfg.MaxDepth),
		calc.WithTracer(calc.NewWriterTracer(os.Stderr)),
		calc.WithTrace(cfg.Trace),
	)
}

func printResult(v calc.Value) {
	if v.Tag != calc.VTNull {
		fmt.Println(v.String())
	}
}

// -----------------------------------------------------------------------------
// file mode
// -----------------------------------------------------------------------------

func cmdRun(cfg *calc.Config, name string, compile bool) int {
	path := cfg.ScriptPath(name)
	src, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: cannot read %s: %v\n", appName, path, err)
		return 1
	}
	code := string(src)

	_, tree, err := calc.Parse(code, path)
	if err != nil {
		fmt.Print(calc.DescribeFault(err, code))
		return 1
	}
	exe, err := calc.Wrap(calc.NewCompiler(), tree, compile)
	if err != nil {
		fmt.Fprintln(os.Stderr, red(calc.DescribeFault(err, code)))
		return 1
	}
	if compile {
		out, err := exe.Program.Dump()
		if err != nil {
			fmt.Fprintln(os.Stderr, red(err.Error()))
			return 1
		}
		os.Stdout.Write(out)
		return 0
	}
	return execute(cfg, exe)
}

func cmdLoad(cfg *calc.Config, path string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: cannot read %s: %v\n", appName, path, err)
		return 1
	}
	prog, err := calc.LoadBytecode(data)
	if err != nil {
		fmt.Fprintln(os.Stderr, red(err.Error()))
		return 1
	}
	exe, err := calc.Wrap(calc.CompilerFor(prog), nil, false)
	if err != nil {
		fmt.Fprintln(os.Stderr, red(err.Error()))
		return 1
	}
	return execute(cfg, exe)
}

func execute(cfg *calc.Config, exe *calc.Executable) int {
	ip := newInterpreter(cfg, exe)
	v, err := ip.Run()
	if err != nil {
		fmt.Fprint(os.Stderr, red(calc.DescribeFault(err, "")))
		return 1
	}
	printResult(v)
	return 0
}

// -----------------------------------------------------------------------------
// repl
// -----------------------------------------------------------------------------

type replState struct {
	cfg        *calc.Config
	ip         *calc.Interpreter
	showTree   bool
	parsePoint bool
	lines      int
}

func cmdRepl(cfg *calc.Config) int {
	exe, err := calc.Wrap(calc.NewCompiler(), nil, false)
	if err != nil {
		fmt.Fprintln(os.Stderr, red(err.Error()))
		return 1
	}
	r := &replState{cfg: cfg, ip: newInterpreter(cfg, exe)}
	if _, err := r.ip.Run(); err != nil {
		fmt.Fprintln(os.Stderr, red(err.Error()))
		return 1
	}
	fmt.Printf("calc %s REPL (session %s)\nCtrl+C cancels input; an empty line or Ctrl+D exits. Type :help for commands.\n",
		calc.Version, r.ip.ID())

	ln := liner.NewLiner()
	defer ln.Close()
	ln.SetCtrlCAborts(true)

	if f, err := os.Open(cfg.HistoryFile); err == nil {
		_, _ = ln.ReadHistory(f)
		_ = f.Close()
	}
	defer func() {
		if f, err := os.Create(cfg.HistoryFile); err == nil {
			_, _ = ln.WriteHistory(f)
			_ = f.Close()
		}
	}()

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigc)
	go func() {
		<-sigc
		ln.Close()
		os.Exit(130)
	}()

	for {
		line, err := ln.Prompt(promptMain)
		if errors.Is(err, liner.ErrPromptAborted) {
			continue
		}
		if errors.Is(err, io.EOF) || line == "" {
			return 0
		}
		if err != nil {
			fmt.Fprintln(os.Stderr, red(err.Error()))
			return 1
		}
		ln.AppendHistory(line)

		if strings.HasPrefix(strings.TrimSpace(line), ":") {
			if quit := r.command(strings.TrimSpace(line)); quit {
				return 0
			}
			continue
		}
		r.eval(line)
	}
}

func (r *replState) command(cmd string) (quit bool) {
	switch strings.ToLower(cmd) {
	case ":tree":
		r.showTree = !r.showTree
		fmt.Println("tree display:", onOff(r.showTree))
	case ":parsepoint":
		r.parsePoint = !r.parsePoint
		fmt.Println("parse point display:", onOff(r.parsePoint))
	case ":trace":
		r.ip.SetTrace(!r.ip.Trace())
		fmt.Println("trace:", onOff(r.ip.Trace()))
	case ":cache":
		c := r.ip.Cache()
		for _, e := range c.Entries() {
			fmt.Printf("%-40s : %-20s\n", e.Key(), e.Value.String())
		}
		fmt.Printf("(%d entries; %s)\n", c.Len(), c.Stats())
	case ":clear":
		r.ip.Cache().Clear()
	case ":help":
		fmt.Print(helpText)
	case ":quit", ":q":
		return true
	default:
		fmt.Println("unknown command. Type :help for a list.")
	}
	return false
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

func (r *replState) eval(line string) {
	r.lines++
	name := "iterm_" + strconv.Itoa(r.lines)

	toks, tree, err := calc.Parse(line, name)
	if err != nil {
		var pe *calc.ParseError
		if r.parsePoint && errors.As(err, &pe) {
			fmt.Print(calc.ParsePoint(toks, pe.TokenIndex))
		}
		fmt.Print(red(calc.DescribeFault(err, line)))
		return
	}
	if r.showTree {
		if out, err := calc.DumpTree(tree); err == nil {
			fmt.Println(blue(string(out)))
		}
	}
	if err := r.ip.PrepareExtraCode(tree); err != nil {
		fmt.Print(red(calc.DescribeFault(err, line)))
		return
	}
	if os.Getenv(debugEnv) != "" {
		_ = r.ip.Program().Disassemble(os.Stderr)
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.Timeout)
	defer cancel()
	v, err := r.ip.RunAsync(ctx).Wait()
	if err != nil {
		fmt.Print(red(calc.DescribeFault(err, line)))
		return
	}
	printResult(v)
}
