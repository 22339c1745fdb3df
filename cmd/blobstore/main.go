// Command blobstore runs the namespaced blob and ref store together with its background
// ingestion, ref expiry, garbage collection and length scan pipelines.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/ordishs/gocore"
	"github.com/urfave/cli/v2"
)

// Name used by build script for the binaries. (Please keep on single line)
const progname = "blobstore"

// Version & commit strings injected at build with -ldflags -X...
var version string
var commit string

func init() {
	gocore.SetInfo(progname, version, commit)
}

func main() {
	app := &cli.App{
		Name:    progname,
		Usage:   "namespaced blob and ref store",
		Version: fmt.Sprintf("%s (%s)", version, commit),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "env",
				Usage: "optional dotenv file loaded before reading settings",
				Value: ".env",
			},
		},
		Before: func(c *cli.Context) error {
			return loadEnv(c.String("env"))
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "run the store and its background pipelines",
				Action: serve,
			},
			{
				Name:  "reset",
				Usage: "request a restart of blob ingestion or the length scan from the first blob",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "gc", Usage: "re-ingest every blob into the gc check sets"},
					&cli.BoolFlag{Name: "length-scan", Usage: "rescan every blob for a missing length"},
				},
				Action: reset,
			},
			{
				Name:  "stats",
				Usage: "print the pipeline state and per namespace gc status as JSON",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "csv", Usage: "print only the per namespace gc status, as CSV"},
				},
				Action: stats,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", progname, err)
		os.Exit(1)
	}
}

// loadEnv applies a dotenv file when one exists, variables already set take precedence.
func loadEnv(file string) error {
	if file == "" {
		return nil
	}

	if _, err := os.Stat(file); os.IsNotExist(err) {
		return nil
	}

	return godotenv.Load(file)
}
