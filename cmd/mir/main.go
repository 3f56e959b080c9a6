package main

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pterm/pterm"
	"nikand.dev/go/cli"
	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/slowlang/mir/compiler"
	"github.com/slowlang/mir/compiler/config"
	"github.com/slowlang/mir/compiler/consteval"
	"github.com/slowlang/mir/compiler/format"
	"github.com/slowlang/mir/compiler/interp"
)

func main() {
	runCmd := &cli.Command{
		Name:        "run",
		Description: "interpret entry function",
		Action:      runAct,
		Args:        cli.Args{},
		Flags: []*cli.Flag{
			cli.NewFlag("entry,e", "", "function to run (default from config)"),
			cli.NewFlag("steps", 0, "step limit (default from config)"),
			cli.NewFlag("validation", "", "validation mode: none, edges, all"),
		},
	}

	checkCmd := &cli.Command{
		Name:        "check",
		Description: "parse and verify files",
		Action:      checkAct,
		Args:        cli.Args{},
	}

	fmtCmd := &cli.Command{
		Name:        "fmt",
		Description: "pretty print files",
		Action:      fmtAct,
		Args:        cli.Args{},
	}

	constCmd := &cli.Command{
		Name:        "const",
		Description: "evaluate constants: mir const FILE... [NAME...]",
		Action:      constAct,
		Args:        cli.Args{},
		Flags: []*cli.Flag{
			cli.NewFlag("cache", "", "constants cache database"),
			cli.NewFlag("name,n", "", "comma separated constants to evaluate (all by default)"),
		},
	}

	app := &cli.Command{
		Name:        "mir",
		Description: "mir is a typed IR interpreter",
		Before:      before,
		Flags: []*cli.Flag{
			cli.NewFlag("config,c", "", "config file (default: mir.toml found up from current dir)"),
			cli.NewFlag("verbosity,v", "", "logger verbosity topics"),
			cli.HelpFlag,
		},
		Commands: []*cli.Command{
			runCmd,
			checkCmd,
			fmtCmd,
			constCmd,
		},
	}

	cli.RunAndExit(app, os.Args, os.Environ())
}

func before(c *cli.Command) error {
	tlog.SetVerbosity(c.String("verbosity"))

	return nil
}

func loadConfig(c *cli.Command) (cfg config.Config, err error) {
	var p *config.Config

	if name := c.String("config"); name != "" {
		data, err := os.ReadFile(name)
		if err != nil {
			return cfg, errors.Wrap(err, "read config")
		}

		p, err = config.Parse(data)
		if err != nil {
			return cfg, errors.Wrap(err, "config %v", name)
		}

		p.Dir = filepath.Dir(name)
	} else {
		p, err = config.FindAndLoad(".")
		if err != nil {
			return cfg, errors.Wrap(err, "config")
		}
	}

	if p == nil {
		return config.Default(), nil
	}

	return *p, nil
}

func rootContext() context.Context {
	return tlog.ContextWithSpan(context.Background(), tlog.Root())
}

func runAct(c *cli.Command) (err error) {
	ctx := rootContext()

	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	if e := c.String("entry"); e != "" {
		cfg.Entry = e
	}

	if n := c.Int("steps"); n != 0 {
		cfg.StepLimit = n
	}

	if v := c.String("validation"); v != "" {
		cfg.Validation = config.Validation(v)

		err = cfg.Check()
		if err != nil {
			return err
		}
	}

	s, err := compiler.Open(ctx, cfg, c.Args...)
	if err != nil {
		return err
	}

	defer closeSession(s, &err)

	m, res, err := s.Run(ctx, cfg.Entry)
	if err != nil {
		return report(err)
	}

	b, err := m.AppendValue(nil, res)
	if err != nil {
		return errors.Wrap(err, "render result")
	}

	pterm.Success.Printfln("%v() = %s", cfg.Entry, b)

	return pterm.DefaultTable.WithHasHeader().WithData(pterm.TableData{
		{"steps", "live allocations", "heap leaks"},
		{strconv.Itoa(m.Steps()), strconv.Itoa(m.Mem.Live()), strconv.Itoa(len(m.Mem.Leaks()))},
	}).Render()
}

func checkAct(c *cli.Command) (err error) {
	ctx := rootContext()

	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	p, err := compiler.ParseFiles(ctx, c.Args...)
	if err != nil {
		return err
	}

	err = compiler.Check(ctx, p, cfg)
	if err != nil {
		pterm.Error.Println(err)

		return errors.New("check failed")
	}

	pterm.Success.Printfln("%d functions, %d statics, %d constants, %d types", len(p.Funcs), len(p.Statics), len(p.Consts), len(p.Types))

	return nil
}

func fmtAct(c *cli.Command) (err error) {
	ctx := rootContext()

	for _, a := range c.Args {
		p, err := compiler.ParseFiles(ctx, a)
		if err != nil {
			return err
		}

		b, err := format.Program(ctx, nil, p)
		if err != nil {
			return errors.Wrap(err, "format %v", a)
		}

		_, err = os.Stdout.Write(b)
		if err != nil {
			return err
		}
	}

	return nil
}

func constAct(c *cli.Command) (err error) {
	ctx := rootContext()

	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	if p := c.String("cache"); p != "" {
		cfg.CachePath = p
		cfg.Dir = ""
	}

	s, err := compiler.Open(ctx, cfg, c.Args...)
	if err != nil {
		return err
	}

	defer closeSession(s, &err)

	var names []string
	if n := c.String("name"); n != "" {
		names = strings.Split(n, ",")
	}

	if len(names) == 0 {
		for _, k := range s.Program.Consts {
			names = append(names, k.Name)
		}
	}

	data := pterm.TableData{{"name", "type", "value"}}
	failed := 0

	for _, name := range names {
		m, op, err := s.Const(ctx, name)
		if err != nil {
			failed++
			_ = report(err)

			continue
		}

		b, err := m.AppendValue(nil, op)
		if err != nil {
			return errors.Wrap(err, "render %v", name)
		}

		data = append(data, []string{name, op.Type.String(), string(b)})
	}

	err = pterm.DefaultTable.WithHasHeader().WithData(data).Render()
	if err != nil {
		return err
	}

	if failed != 0 {
		return errors.New("%d constants failed", failed)
	}

	return nil
}

// report prints err with its class and passes it through.
func report(err error) error {
	d := consteval.Decide(err)

	if d == consteval.Defer {
		pterm.Warning.Printfln("[%v] %v", d, err)
	} else {
		pterm.Error.Printfln("[%v] %v", d, err)
	}

	if k := interp.KindOf(err); k != 0 {
		return errors.New("%v", k)
	}

	return err
}

func closeSession(s *compiler.Session, errp *error) {
	e := s.Close()
	if *errp == nil {
		*errp = e
	}
}
