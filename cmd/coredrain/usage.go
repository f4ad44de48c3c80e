// This code was adapted from https://github.com/ethereum/go-ethereum/blob/master/cmd/geth/usage.go
package main

import (
	"io"
	"sort"

	"github.com/d4mr/coredrain/cmd/coredrain/flags"
	"github.com/urfave/cli/v2"
)

var appHelpTemplate = `NAME:
   {{.App.Name}} - {{.App.Usage}}
USAGE:
   {{.App.HelpName}} [options]{{if .App.Commands}} command [command options]{{end}} {{if .App.ArgsUsage}}{{.App.ArgsUsage}}{{else}}[arguments...]{{end}}
   {{if .App.Version}}
AUTHOR:
   {{range .App.Authors}}{{ . }}{{end}}
   {{end}}{{if .App.Commands}}
GLOBAL OPTIONS:
   {{range .App.Commands}}{{join .Names ", "}}{{ "\t" }}{{.Usage}}
   {{end}}{{end}}{{if .FlagGroups}}
{{range .FlagGroups}}{{.Name}} OPTIONS:
   {{range .Flags}}{{.}}
   {{end}}
{{end}}{{end}}{{if .App.Copyright }}
COPYRIGHT:
   {{.App.Copyright}}
VERSION:
   {{.App.Version}}
   {{end}}{{if len .App.Authors}}
   {{end}}
`

type flagGroup struct {
	Name  string
	Flags []cli.Flag
}

var appHelpFlagGroups = []flagGroup{
	{
		Name: "cmd",
		Flags: []cli.Flag{
			flags.DataDirFlag,
			flags.VerbosityFlag,
			flags.ForceClearDB,
			flags.EnableTracingFlag,
			flags.TracingProcessNameFlag,
			flags.TracingEndpointFlag,
			flags.TraceSampleFractionFlag,
			flags.MonitoringHostFlag,
			flags.MonitoringPortFlag,
			flags.DisableMonitoringFlag,
		},
	},
	{
		Name: "indexer",
		Flags: []cli.Flag{
			flags.CoreAPIEndpointFlag,
			flags.WatchedAddressFlag,
			flags.WatchedAddressesFileFlag,
			flags.CoreIndexerPollFlag,
		},
	},
	{
		Name: "matcher",
		Flags: []cli.Flag{
			flags.EVMRPCEndpointFlag,
			flags.ChainIDFlag,
			flags.MatcherBatchSizeFlag,
			flags.MatcherConcurrencyFlag,
			flags.MatcherQueueSizeFlag,
			flags.MatcherLowWatermarkFlag,
			flags.RPCMaxBatchFlag,
			flags.BackfillThresholdFlag,
			flags.ObjectStoreBucketFlag,
			flags.ObjectStoreRegionFlag,
			flags.ObjectStoreEndpointFlag,
			flags.ObjectStoreExtFlag,
		},
	},
	{
		Name: "log",
		Flags: []cli.Flag{
			flags.LogFormat,
			flags.LogFileName,
		},
	},
}

func init() {
	cli.AppHelpTemplate = appHelpTemplate

	type helpData struct {
		App        interface{}
		FlagGroups []flagGroup
	}

	originalHelpPrinter := cli.HelpPrinter
	cli.HelpPrinter = func(w io.Writer, tmpl string, data interface{}) {
		if tmpl == appHelpTemplate {
			for _, group := range appHelpFlagGroups {
				sort.Sort(cli.FlagsByName(group.Flags))
			}
			originalHelpPrinter(w, tmpl, helpData{data, appHelpFlagGroups})
		} else {
			originalHelpPrinter(w, tmpl, data)
		}
	}
}
