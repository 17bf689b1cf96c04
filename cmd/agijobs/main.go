// Copyright 2025 The AGIJobs Authors
// This file is part of the agijobs library.
//
// The agijobs library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The agijobs library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the agijobs library. If not, see <http://www.gnu.org/licenses/>.

// agijobs is a command line tool for inspecting an AGI labor-market ledger.
package main

import (
	"fmt"
	"math/big"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"gopkg.in/urfave/cli.v1"

	"github.com/MontrealAI/AGIJobsv0-sub011/core"
	"github.com/MontrealAI/AGIJobsv0-sub011/core/types"
	"github.com/MontrealAI/AGIJobsv0-sub011/params"
	log "gopkg.in/inconshreveable/log15.v2"
)

const (
	clientIdentifier = "agijobs"
	version          = "0.1.0"
	defaultDataDir   = "agijobs"
)

var (
	dataDirFlag = cli.StringFlag{
		Name:  "datadir",
		Usage: "Data directory for the ledger database",
		Value: defaultDataDir,
	}
	verbosityFlag = cli.IntFlag{
		Name:  "verbosity",
		Usage: "Logging verbosity: 0=crit, 1=error, 2=warn, 3=info, 4=debug",
		Value: 3,
	}

	appFlags = []cli.Flag{
		dataDirFlag,
		configFileFlag,
		verbosityFlag,
	}

	jobsCommand = cli.Command{
		Action:    listJobs,
		Name:      "jobs",
		Usage:     "List job records, or show one job in detail",
		ArgsUsage: "[jobID]",
		Flags:     appFlags,
		Category:  "LEDGER COMMANDS",
		Description: `
Without arguments, prints a table of every job in the ledger. With a job id,
prints the full job record together with its audit trail.`,
	}
	stakesCommand = cli.Command{
		Action:    listStakes,
		Name:      "stakes",
		Usage:     "List staked collateral per participant and role",
		ArgsUsage: "",
		Flags:     appFlags,
		Category:  "LEDGER COMMANDS",
	}
	accountsCommand = cli.Command{
		Action:    listAccounts,
		Name:      "accounts",
		Usage:     "List token accounts and their free balances",
		ArgsUsage: "",
		Flags:     appFlags,
		Category:  "LEDGER COMMANDS",
	}
	logsCommand = cli.Command{
		Action:    listLogs,
		Name:      "logs",
		Usage:     "Print the ledger audit trail",
		ArgsUsage: "[jobID]",
		Flags:     appFlags,
		Category:  "LEDGER COMMANDS",
		Description: `
Prints every audit log record in emission order. With a job id, only records
scoped to that job are shown.`,
	}
)

var app = newApp()

func newApp() *cli.App {
	app := cli.NewApp()
	app.Name = clientIdentifier
	app.Version = version
	app.Usage = "the AGI labor-market ledger inspection tool"
	app.Flags = appFlags
	app.Commands = []cli.Command{
		jobsCommand,
		stakesCommand,
		accountsCommand,
		logsCommand,
		dumpConfigCommand,
	}
	sort.Sort(cli.CommandsByName(app.Commands))
	app.Before = func(ctx *cli.Context) error {
		lvl := log.Lvl(ctx.GlobalInt(verbosityFlag.Name))
		log.Root().SetHandler(log.LvlFilterHandler(lvl, log.StreamHandler(os.Stderr, log.TerminalFormat())))
		return nil
	}
	return app
}

func main() {
	if err := app.Run(os.Args); err != nil {
		fatalf("%v", err)
	}
}

// fatalf formats a message to standard error and exits the program.
func fatalf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Fatal: "+format+"\n", args...)
	os.Exit(1)
}

// tokens renders a grain amount in whole token units with full precision.
func tokens(grains *big.Int) string {
	quo, rem := new(big.Int).QuoRem(grains, big.NewInt(params.Token), new(big.Int))
	return fmt.Sprintf("%v.%06d %s", quo, rem.Uint64(), params.TokenSymbol)
}

func statusString(status types.JobStatus) string {
	switch status {
	case types.JobCreated:
		return color.YellowString(status.String())
	case types.JobCompleted:
		return color.CyanString(status.String())
	case types.JobDisputed:
		return color.RedString(status.String())
	case types.JobFinalized:
		return color.GreenString(status.String())
	}
	return status.String()
}

// listJobs is the jobs command.
func listJobs(ctx *cli.Context) error {
	p, db := makeProtocol(ctx)
	defer db.Close()

	if ctx.NArg() > 0 {
		id, err := strconv.ParseUint(ctx.Args().Get(0), 10, 64)
		if err != nil {
			return fmt.Errorf("invalid job id: %v", err)
		}
		return showJob(p, id)
	}
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"ID", "Status", "Employer", "Agent", "Reward", "Deadline"})
	for _, job := range p.Jobs() {
		agent := "-"
		if job.Assigned() {
			agent = job.Agent.Hex()
		}
		table.Append([]string{
			strconv.FormatUint(job.ID, 10),
			statusString(job.Status),
			job.Employer.Hex(),
			agent,
			tokens(job.Reward),
			strconv.FormatUint(job.Deadline, 10),
		})
	}
	table.Render()
	return nil
}

func showJob(p *core.Protocol, id uint64) error {
	job := p.GetJob(id)
	if job == nil {
		return fmt.Errorf("unknown job %d", id)
	}
	fmt.Printf("Job #%d (%s)\n", job.ID, statusString(job.Status))
	fmt.Printf("  Employer:  %s\n", job.Employer.Hex())
	if job.Assigned() {
		fmt.Printf("  Agent:     %s\n", job.Agent.Hex())
	}
	fmt.Printf("  Reward:    %s\n", tokens(job.Reward))
	fmt.Printf("  Fee:       %s\n", tokens(job.Fee))
	fmt.Printf("  Stake:     %s\n", tokens(job.Stake))
	fmt.Printf("  Success:   %s\n", job.Success)
	fmt.Printf("  SpecHash:  %s\n", job.SpecHash.Hex())
	fmt.Printf("  URI:       %s\n", job.URI)
	if job.OutputURI != "" {
		fmt.Printf("  Output:    %s\n", job.OutputURI)
	}
	fmt.Printf("  Created:   %d\n", job.CreatedAt)
	fmt.Printf("  Deadline:  %d\n", job.Deadline)

	fmt.Println("\nAudit trail:")
	for _, l := range p.Logs() {
		if l.JobID == id {
			fmt.Printf("  %s\n", formatLog(l))
		}
	}
	return nil
}

// listStakes is the stakes command.
func listStakes(ctx *cli.Context) error {
	p, db := makeProtocol(ctx)
	defer db.Close()

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Address", "Role", "Total", "Locked", "Free"})
	for _, key := range p.StakePositions() {
		total, locked := p.StakeOf(key.Addr, key.Role)
		free := new(big.Int).Sub(total, locked)
		table.Append([]string{
			key.Addr.Hex(),
			key.Role.String(),
			tokens(total),
			tokens(locked),
			tokens(free),
		})
	}
	table.SetFooter([]string{"", "", tokens(p.TotalStaked()), "", ""})
	table.Render()
	return nil
}

// listAccounts is the accounts command.
func listAccounts(ctx *cli.Context) error {
	p, db := makeProtocol(ctx)
	defer db.Close()

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Address", "Balance"})
	for _, addr := range p.Accounts() {
		name := addr.Hex()
		switch addr {
		case params.EscrowAddress:
			name = color.MagentaString("escrow")
		case params.FeePoolAddress:
			name = color.MagentaString("fee pool")
		}
		table.Append([]string{name, tokens(p.BalanceOf(addr))})
	}
	table.Render()
	return nil
}

// listLogs is the logs command.
func listLogs(ctx *cli.Context) error {
	p, db := makeProtocol(ctx)
	defer db.Close()

	var filter uint64
	if ctx.NArg() > 0 {
		id, err := strconv.ParseUint(ctx.Args().Get(0), 10, 64)
		if err != nil {
			return fmt.Errorf("invalid job id: %v", err)
		}
		filter = id
	}
	for _, l := range p.Logs() {
		if filter != 0 && l.JobID != filter {
			continue
		}
		fmt.Println(formatLog(l))
	}
	return nil
}

func formatLog(l *types.Log) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%4d %-16s", l.Index, color.CyanString(l.Name))
	if l.JobID != 0 {
		fmt.Fprintf(&sb, " job=%d", l.JobID)
	}
	for _, f := range l.Fields {
		fmt.Fprintf(&sb, " %s=%s", f.Key, f.Value)
	}
	return sb.String()
}
