// Package cmdline parses the kernel command line (spec section 6):
// whitespace-separated key/value pairs consumed before subsystem
// bring-up. Grounded on
// containerd-nydus-snapshotter/internal/flags's struct-with-
// Destination pattern (pflag.*Var writing straight into named struct
// fields) and cmd/rootfs-persister/main.go's cobra command
// construction, with pflag's ParseErrorsWhitelist used to make unknown
// flags reported, not fatal, per spec's "Unknown flags are reported,
// not fatal."
package cmdline

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/mod/semver"
)

// Args holds every recognized kernel command-line option from spec
// section 6's table.
type Args struct {
	Alloc      string
	Cores      int
	IOApicIRQ  int
	Tasking    string
	DrvDir     string
	// DrvDirVersion is the "vX.Y.Z" manifest version pinned onto
	// --drvdir's value with an "@" separator (e.g.
	// "--drvdir /boot/drv@v1.4.0"), checked only for semver syntax
	// (semver.IsValid); it is not compared with anything in the driver
	// manifest. Empty when --drvdir carries no "@version".
	DrvDirVersion string
	Init       string
	Linux      bool
	UDL        bool
	IOC        bool
	SIMD       bool
	Quiet      bool
	Help       bool

	// Unknown collects flags pflag couldn't recognize, reported by
	// Parse rather than treated as fatal.
	Unknown []string
}

// splitDrvDir pulls an "@vX.Y.Z" manifest-version suffix off raw's
// --drvdir value, validating it with golang.org/x/mod/semver the same
// way the Go toolchain validates a module's pinned version: the driver
// manifest embeds a version string, and a malformed one should fail
// fast at command-line parse time rather than at driver-probe time.
func splitDrvDir(raw string) (dir, version string, err error) {
	at := strings.LastIndexByte(raw, '@')
	if at < 0 {
		return raw, "", nil
	}
	dir, version = raw[:at], raw[at+1:]
	if !semver.IsValid(version) {
		return "", "", errors.Errorf("--drvdir: invalid manifest version %q (want vX.Y.Z)", version)
	}
	return dir, version, nil
}

func buildFlags(a *Args) *pflag.FlagSet {
	fs := pflag.NewFlagSet("kernel", pflag.ContinueOnError)
	fs.StringVar(&a.Alloc, "alloc", "bitmap", "kernel heap allocator variant")
	fs.IntVar(&a.Cores, "cores", 0, "cap active cores (0 = unlimited)")
	fs.IntVar(&a.IOApicIRQ, "ioapicirq", 0, "target core for I/O APIC interrupts")
	fs.StringVar(&a.Tasking, "tasking", "multi", "scheduler mode: multi or single")
	fs.StringVar(&a.DrvDir, "drvdir", "", "directory scanned for signed driver images")
	fs.StringVar(&a.Init, "init", "/sbin/init", "initial user program")
	fs.BoolVar(&a.Linux, "linux", false, "default syscall-compat flavor is linux")
	fs.BoolVar(&a.UDL, "udl", false, "auto-release a lock after repeated deadlock observations")
	fs.BoolVar(&a.IOC, "ioc", true, "enable interactive keys on crash")
	fs.BoolVar(&a.SIMD, "simd", true, "enable SIMD CPU features")
	fs.BoolVar(&a.Quiet, "quiet", false, "suppress boot log")
	fs.BoolVarP(&a.Help, "help", "h", false, "print help and halt")
	fs.ParseErrorsWhitelist.UnknownFlags = true
	return fs
}

// Parse parses a raw kernel command line (as the bootloader hands it
// over, one whitespace-separated string) into Args. Unknown flags are
// collected into Args.Unknown instead of failing the parse, matching
// spec section 6.
func Parse(raw string) (*Args, error) {
	var a Args
	fs := buildFlags(&a)
	fields := strings.Fields(raw)
	if err := fs.Parse(fields); err != nil {
		return nil, errors.Wrap(err, "parse kernel command line")
	}
	a.Unknown = unrecognized(fields, fs)
	if a.DrvDir != "" {
		dir, version, err := splitDrvDir(a.DrvDir)
		if err != nil {
			return nil, err
		}
		a.DrvDir, a.DrvDirVersion = dir, version
	}
	return &a, nil
}

// unrecognized re-walks the raw token list picking out --flag tokens
// pflag's whitelist let through unparsed, so boot logging can report
// them without treating them as an error.
func unrecognized(fields []string, fs *pflag.FlagSet) []string {
	var out []string
	for _, f := range fields {
		if !strings.HasPrefix(f, "-") {
			continue
		}
		name := strings.TrimLeft(f, "-")
		if eq := strings.IndexByte(name, '='); eq >= 0 {
			name = name[:eq]
		}
		if fs.Lookup(name) == nil && fs.ShorthandLookup(name) == nil {
			out = append(out, f)
		}
	}
	return out
}

// NewCommand wraps the same flag parsing Parse uses in a cobra.Command
// for the boot entrypoint (cmd/kernel/main.go). Cobra's own flag
// parsing is disabled so unknown flags land in Args.Unknown instead of
// failing the command; --help prints the usage line from RunE.
func NewCommand(run func(*Args) error) *cobra.Command {
	var a Args
	cmd := &cobra.Command{
		Use:                "kernel",
		Short:              "Fennix kernel core",
		DisableFlagParsing: true,
		RunE: func(_ *cobra.Command, rawArgs []string) error {
			fs := buildFlags(&a)
			if err := fs.Parse(rawArgs); err != nil {
				return errors.Wrap(err, "parse kernel command line")
			}
			a.Unknown = unrecognized(rawArgs, fs)
			if a.Help {
				fmt.Println("usage: kernel [--alloc impl] [--cores N] [--ioapicirq N] [--tasking multi|single] [--drvdir path[@vX.Y.Z]] [--init path] [--linux] [--udl] [--ioc] [--simd] [--quiet]")
				return nil
			}
			if a.DrvDir != "" {
				dir, version, err := splitDrvDir(a.DrvDir)
				if err != nil {
					return err
				}
				a.DrvDir, a.DrvDirVersion = dir, version
			}
			return run(&a)
		},
	}
	cmd.Flags().AddFlagSet(buildFlags(&a))
	return cmd
}
