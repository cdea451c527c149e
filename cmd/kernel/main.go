// Command kernel is the Fennix kernel core entrypoint: it parses the
// kernel command line, stands up logging, lays the physical frame pool
// over the boot-provided memory map, creates the init process, opens
// the panic-dump index, and registers the metrics collector.
//
// Grounded on containerd-nydus-snapshotter/cmd/rootfs-persister's
// cobra.Command construction; the kernel init sequence itself
// (Phys_init -> CreateProcess -> init) follows spec section 2's
// bring-up order.
package main

import (
	"fmt"
	"os"

	"github.com/fennix-project/kernel/boot"
	"github.com/fennix-project/kernel/cmdline"
	"github.com/fennix-project/kernel/diag"
	"github.com/fennix-project/kernel/fd"
	"github.com/fennix-project/kernel/logging"
	"github.com/fennix-project/kernel/metrics"
	"github.com/fennix-project/kernel/proc"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

func main() {
	cmd := cmdline.NewCommand(run)
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// bootInfoProvider is supplied by the architecture-specific boot stub (the
// assembly/UEFI handoff code is out of scope per spec section 1); here
// it stands for whatever that stub hands the Go entrypoint.
var bootInfoProvider func() boot.Info

func run(a *cmdline.Args) error {
	if err := setUpLogging(a); err != nil {
		return errors.Wrap(err, "logging setup")
	}
	if len(a.Unknown) > 0 {
		logrus.WithField("flags", a.Unknown).Warn("kernel: unrecognized command line flags")
	}

	bi := boot.Info{}
	if bootInfoProvider != nil {
		bi = bootInfoProvider()
	}
	phys := boot.Init(bi)
	logrus.WithFields(logrus.Fields{
		"total":    phys.Total(),
		"free":     phys.Free(),
		"reserved": phys.Reserved(),
	}).Info("kernel: frame pool ready")

	sys := proc.NewSystem()
	initProc, err := sys.CreateProcess(nil, "init", compatFor(a), false)
	if err != 0 {
		return errors.Errorf("create init process: %v", err)
	}
	initProc.Cwd = fd.MkRootCwd(nil)
	logrus.WithField("pid", initProc.Pid).Info("kernel: init process created")

	idx, ierr := diag.OpenIndex("/sys/log/panic/index.db")
	if ierr != nil {
		logrus.WithError(ierr).Warn("kernel: panic dump index unavailable")
	} else {
		defer idx.Close()
	}

	collector := &metrics.Collector{Frames: phys, Syscalls: proc.SyscallMetrics}
	prometheus.MustRegister(collector)

	logrus.Info("kernel: bring-up complete")
	return nil
}

func setUpLogging(a *cmdline.Args) error {
	if a.Quiet {
		logging.Quiet()
		return nil
	}
	return logging.SetUp("info", true, "", nil)
}

func compatFor(a *cmdline.Args) proc.Compat_t {
	if a.Linux {
		return proc.Linux
	}
	return proc.Native
}
