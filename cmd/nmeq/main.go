package main

import (
	"io"
	"os"

	"github.com/alecthomas/kong"

	"github.com/linuxmatters/nmeq/internal/cli"
	"github.com/linuxmatters/nmeq/internal/logging"
)

var (
	version = "0.0.1"
)

// Globals are the flags shared by every command.
type Globals struct {
	Version  bool   `short:"v" help:"Show version information"`
	Config   string `short:"c" type:"path" help:"Path to TOML settings or remoteConfig.json (optional)" env:"NMEQ_CONFIG"`
	Logs     bool   `help:"Save a session report next to the log file"`
	LogFile  string `name:"log-file" type:"path" default:"nmeq.log" help:"Log file" env:"NMEQ_LOG_FILE"`
	LogLevel string `name:"log-level" default:"info" enum:"debug,info,warn,error" help:"Log level" env:"NMEQ_LOG_LEVEL"`
}

// CLI defines the command-line interface
type CLI struct {
	Globals

	Monitor   MonitorCmd   `cmd:"" default:"withargs" help:"Aggregate a level feed and drive the equaliser"`
	DeviceSim DeviceSimCmd `cmd:"" name:"device-sim" help:"Serve an in-memory equaliser bridge"`
}

func main() {
	cliArgs := &CLI{}
	ctx := kong.Parse(cliArgs,
		kong.Name("nmeq"),
		kong.Description("Noise monitor and low-frequency equaliser controller"),
		kong.UsageOnError(),
		kong.Vars{
			"version": version,
		},
		kong.Help(cli.StyledHelpPrinter(kong.HelpOptions{Compact: true})),
	)

	// Handle version flag
	if cliArgs.Version {
		cli.PrintVersion(version)
		os.Exit(0)
	}

	if err := ctx.Run(&cliArgs.Globals); err != nil {
		cli.PrintError(err.Error())
		os.Exit(1)
	}
}

// openLog builds the session logger. The console gets records only when
// the terminal is not owned by the TUI.
func (g *Globals) openLog(toConsole bool) (*logging.Logger, error) {
	level, err := logging.ParseLevel(g.LogLevel)
	if err != nil {
		return nil, err
	}
	var console io.Writer
	if toConsole {
		console = os.Stderr
	}
	return logging.New(g.LogFile, level, console)
}
