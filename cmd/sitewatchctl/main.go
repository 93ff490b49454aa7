// sitewatchctl is the operator tooling: start and stop monitor groups and
// the watchdog, show their status, and toggle alert delivery. It works on
// the same PID files and supervision ledger the daemons use.
package main

import (
	"flag"
	"fmt"
	"os"

	"sitewatch/internal/config"
)

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: sitewatchctl [flags] <command> [args]

Commands:
  start [group ...|all]   start monitor groups (and the watchdog with "all")
  stop  [group ...|all]   stop monitor groups (and the watchdog with "all")
  status                  show ledger and live status for every group
  toggle-alerts <on|off>  enable or disable alert delivery globally

Flags:
`)
	flag.PrintDefaults()
}

func main() {
	confFlag := flag.String("conf", "conf", "Configuration directory")
	dataFlag := flag.String("data", "data", "Data directory for PID, state and ledger files")
	logsFlag := flag.String("logs", "logs", "Log directory")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() == 0 {
		usage()
		os.Exit(2)
	}

	cfg, err := config.LoadGlobal(*confFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load global config: %v\n", err)
		os.Exit(1)
	}
	ctl := &controller{
		confDir: *confFlag,
		dataDir: cfg.String("data_dir", *dataFlag),
		logDir:  cfg.String("log_dir", *logsFlag),
		cfg:     cfg,
	}

	var cmdErr error
	switch cmd, args := flag.Arg(0), flag.Args()[1:]; cmd {
	case "start":
		cmdErr = ctl.start(args)
	case "stop":
		cmdErr = ctl.stop(args)
	case "status":
		cmdErr = ctl.status()
	case "toggle-alerts":
		cmdErr = ctl.toggleAlerts(args)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command %q\n", cmd)
		usage()
		os.Exit(2)
	}
	if cmdErr != nil {
		fmt.Fprintln(os.Stderr, "Error:", cmdErr)
		os.Exit(1)
	}
}
