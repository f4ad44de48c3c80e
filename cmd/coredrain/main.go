// Package main defines the entry point of the coredrain correlation engine,
// a daemon that indexes asset-bridge transfers on the CORE ledger and
// resolves each one to its realizing transaction on the EVM chain.
package main

import (
	"fmt"
	"os"

	"github.com/d4mr/coredrain/cmd/coredrain/flags"
	"github.com/d4mr/coredrain/io/logs"
	"github.com/d4mr/coredrain/io/logs/journald"
	"github.com/d4mr/coredrain/node"
	"github.com/d4mr/coredrain/runtime/version"
	joonix "github.com/joonix/log"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"
	_ "go.uber.org/automaxprocs"
)

var log = logrus.WithField("prefix", "main")

var appFlags = []cli.Flag{
	flags.DataDirFlag,
	flags.ForceClearDB,
	flags.CoreAPIEndpointFlag,
	flags.EVMRPCEndpointFlag,
	flags.ChainIDFlag,
	flags.WatchedAddressFlag,
	flags.WatchedAddressesFileFlag,
	flags.ObjectStoreBucketFlag,
	flags.ObjectStoreRegionFlag,
	flags.ObjectStoreEndpointFlag,
	flags.ObjectStoreExtFlag,
	flags.MonitoringHostFlag,
	flags.MonitoringPortFlag,
	flags.DisableMonitoringFlag,
	flags.EnableTracingFlag,
	flags.TracingProcessNameFlag,
	flags.TracingEndpointFlag,
	flags.TraceSampleFractionFlag,
	flags.VerbosityFlag,
	flags.LogFormat,
	flags.LogFileName,
	flags.CoreIndexerPollFlag,
	flags.MatcherBatchSizeFlag,
	flags.MatcherConcurrencyFlag,
	flags.MatcherQueueSizeFlag,
	flags.MatcherLowWatermarkFlag,
	flags.RPCMaxBatchFlag,
	flags.BackfillThresholdFlag,
}

func startNode(cliCtx *cli.Context) error {
	verbosity := cliCtx.String(flags.VerbosityFlag.Name)
	level, err := logrus.ParseLevel(verbosity)
	if err != nil {
		return err
	}
	logrus.SetLevel(level)

	engine, err := node.New(cliCtx)
	if err != nil {
		return err
	}
	engine.Start()
	return nil
}

func main() {
	app := cli.App{}
	app.Name = "coredrain"
	app.Usage = "correlates asset-bridge transfers on the CORE ledger with their transactions on the EVM chain"
	app.Version = version.GetVersion()
	app.Flags = appFlags
	app.Action = startNode

	app.Before = func(ctx *cli.Context) error {
		format := ctx.String(flags.LogFormat.Name)
		switch format {
		case "text":
			formatter := new(prefixed.TextFormatter)
			formatter.TimestampFormat = "2006-01-02 15:04:05"
			formatter.FullTimestamp = true
			// If persistent log files are written - we disable the log messages coloring because
			// the colors are ANSI codes and seen as gibberish in the log files.
			formatter.DisableColors = ctx.String(flags.LogFileName.Name) != ""
			logrus.SetFormatter(formatter)
		case "fluentd":
			logrus.SetFormatter(joonix.NewFormatter())
		case "json":
			logrus.SetFormatter(&logrus.JSONFormatter{})
		case "journald":
			if err := journald.Enable(); err != nil {
				return err
			}
		default:
			return fmt.Errorf("unknown log format %s", format)
		}

		logFileName := ctx.String(flags.LogFileName.Name)
		if logFileName != "" {
			if err := logs.ConfigurePersistentLogging(logFileName); err != nil {
				log.WithError(err).Error("Failed to configuring logging to disk.")
			}
		}
		return nil
	}

	if err := app.Run(os.Args); err != nil {
		log.Error(err.Error())
		os.Exit(1)
	}
}
