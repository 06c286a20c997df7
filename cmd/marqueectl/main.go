package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/marquee-signage/marquee/internal/config"
	"github.com/marquee-signage/marquee/internal/marquee"
	"github.com/urfave/cli/v3"
)

const (
	encodeJsonRaw    = "json-raw"
	encodeJsonPretty = "json"
	encodeNoHeader   = "no-header"
	encodeColumn     = "column"
)

// Version is set using ldflags at build time. See Makefile for details.
var Version = "dev"

func callMarqueed(command *cli.Command, method, arg string) (string, error) {
	return marquee.CallMarqueed(command.String("unix-socket"), method, arg)
}

func main() {
	// Override usage to capitalize "Show"
	cli.HelpFlag.(*cli.BoolFlag).Usage = "Show help"
	app := &cli.Command{
		Name:  "marqueectl",
		Usage: "controls the local marqueed display agent",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "unix-socket",
				Usage:   "Path to the unix socket marqueed is listening against",
				Value:   config.Default().CtlSocket,
				Sources: cli.EnvVars("MARQUEED_CTL_SOCKET"),
			},
			&cli.StringFlag{
				Name:  "output",
				Value: encodeColumn,
				Usage: "Output format: json, json-raw, no-header, column (default columns)",
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "version",
				Usage: "Display the marqueectl and marqueed versions",
				Action: func(ctx context.Context, command *cli.Command) error {
					fmt.Printf("marqueectl version: %s\n", Version)
					result, err := callMarqueed(command, "Version", "")
					if err != nil {
						return err
					}
					fmt.Printf("marqueed version: %s\n", result)
					return nil
				},
			},
			{
				Name:   "status",
				Usage:  "Display the marqueed status",
				Action: cmdStatus,
			},
			{
				Name:   "zones",
				Usage:  "List the zones that are playing",
				Action: cmdZones,
			},
			{
				Name:  "retry",
				Usage: "Retry pairing after a connection error",
				Action: func(ctx context.Context, command *cli.Command) error {
					return printResult(callMarqueed(command, "Retry", ""))
				},
			},
			{
				Name:  "reset",
				Usage: "Forget the display identity and show a new pairing code",
				Action: func(ctx context.Context, command *cli.Command) error {
					return printResult(callMarqueed(command, "Reset", ""))
				},
			},
			{
				Name:      "log-level",
				Usage:     "Change the log level of the running marqueed",
				ArgsUsage: "debug|info|warn|error",
				Action: func(ctx context.Context, command *cli.Command) error {
					level := command.Args().First()
					if level == "" {
						return fmt.Errorf("a log level is required")
					}
					return printResult(callMarqueed(command, "SetLogLevel", level))
				},
			},
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}

func printResult(result string, err error) error {
	if err != nil {
		return err
	}
	fmt.Println(result)
	return nil
}
