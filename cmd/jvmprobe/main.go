package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"go.uber.org/zap"

	"github.com/wippyai/jvm-runtime/errors"
	"github.com/wippyai/jvm-runtime/ffi"
	"github.com/wippyai/jvm-runtime/jvm"
	"github.com/wippyai/jvm-runtime/testbed"
)

func main() {
	var (
		optsFile    = flag.String("opts", "", "Path to a TOML file with VM options")
		version     = flag.String("version", "1.6", "Interface version to request (1.1, 1.2, 1.4, 1.6, 1.8)")
		findName    = flag.String("find", "", "Class to look up (slash form, e.g. java/lang/String)")
		strText     = flag.String("string", "", "Text to round-trip through a VM string")
		verbose     = flag.Bool("v", false, "Verbose logging")
		interactive = flag.Bool("i", false, "Interactive mode with TUI")
	)
	flag.Parse()

	if *verbose {
		logger, err := zap.NewDevelopment()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		jvm.SetLogger(logger)
		defer logger.Sync()
	}

	args, err := buildInitArgs(*optsFile, *version)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if *interactive {
		if err := runInteractive(args); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := run(args, *findName, *strText); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// optsConfig is the shape of the -opts TOML file.
type optsConfig struct {
	Version            string   `toml:"version"`
	IgnoreUnrecognized bool     `toml:"ignore_unrecognized"`
	Options            []string `toml:"options"`
}

func buildInitArgs(optsFile, versionFlag string) (ffi.InitArgs, error) {
	var cfg optsConfig
	if optsFile != "" {
		if _, err := toml.DecodeFile(optsFile, &cfg); err != nil {
			return ffi.InitArgs{}, fmt.Errorf("read options: %w", err)
		}
	}
	if cfg.Version == "" {
		cfg.Version = versionFlag
	}

	version, err := parseVersion(cfg.Version)
	if err != nil {
		return ffi.InitArgs{}, err
	}

	args := ffi.InitArgs{
		Version:            version,
		IgnoreUnrecognized: cfg.IgnoreUnrecognized,
	}
	for _, opt := range cfg.Options {
		args.Options = append(args.Options, ffi.Option{String: opt})
	}
	return args, nil
}

func parseVersion(s string) (ffi.Version, error) {
	versions := map[string]ffi.Version{
		"1.1": ffi.Version1_1,
		"1.2": ffi.Version1_2,
		"1.4": ffi.Version1_4,
		"1.6": ffi.Version1_6,
		"1.7": ffi.Version1_7,
		"1.8": ffi.Version1_8,
	}
	v, ok := versions[s]
	if !ok {
		return 0, fmt.Errorf("unknown version %q", s)
	}
	return v, nil
}

func run(args ffi.InitArgs, findName, strText string) error {
	tb := testbed.New()
	vm, env, cap, err := jvm.Create(tb.Create, args, "jvmprobe")
	if err != nil {
		return fmt.Errorf("create vm: %w", err)
	}

	fmt.Printf("VM created, interface version %s\n", env.Version(cap))

	if findName != "" {
		cls, ncap, err := env.FindClass(cap, findName)
		if err != nil {
			th := err.(*jvm.Thrown)
			env.ExceptionDescribe(th.Token)
			cap = env.ExceptionClear(th.Token)
			fmt.Printf("Class %s: not found\n", findName)
		} else {
			cap = ncap
			fmt.Printf("Class %s: found (%s reference)\n", findName, cls.RefClass())
			if super := env.GetSuperclass(cap, cls); super != nil {
				fmt.Printf("  has a superclass\n")
			}
		}
	}

	if strText != "" {
		str, ncap, err := env.NewString(cap, strText)
		if err != nil {
			return fmt.Errorf("new string: %w", err)
		}
		cap = ncap
		text, err := str.Text(cap)
		if err != nil {
			return fmt.Errorf("decode string: %w", err)
		}
		fmt.Printf("String %q:\n", text)
		fmt.Printf("  UTF-16 length:         %d\n", str.Length(cap))
		fmt.Printf("  Modified-UTF-8 length: %d\n", str.UTFLength(cap))
		if text != strText {
			return errors.InvalidInput(errors.PhaseDecode, "round trip mismatch")
		}
	}

	fmt.Printf("Live references: %d\n", tb.LiveRefs())

	if err := env.Close(); err != nil {
		return fmt.Errorf("close binding: %w", err)
	}
	return vm.Destroy()
}
