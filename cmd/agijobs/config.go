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

package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"reflect"
	"unicode"

	"gopkg.in/urfave/cli.v1"

	"github.com/MontrealAI/AGIJobsv0-sub011/common"
	"github.com/MontrealAI/AGIJobsv0-sub011/core"
	"github.com/MontrealAI/AGIJobsv0-sub011/jobsdb"
	"github.com/MontrealAI/AGIJobsv0-sub011/params"
	"github.com/naoina/toml"
	log "gopkg.in/inconshreveable/log15.v2"
)

var (
	dumpConfigCommand = cli.Command{
		Action:      dumpConfig,
		Name:        "dumpconfig",
		Usage:       "Show configuration values",
		ArgsUsage:   "[file]",
		Flags:       appFlags,
		Category:    "MISCELLANEOUS COMMANDS",
		Description: `The dumpconfig command shows configuration values.`,
	}

	configFileFlag = cli.StringFlag{
		Name:  "config",
		Usage: "TOML configuration file",
	}
)

// These settings ensure that TOML keys use the same names as Go struct fields.
var tomlSettings = toml.Config{
	NormFieldName: func(rt reflect.Type, key string) string {
		return key
	},
	FieldToKey: func(rt reflect.Type, field string) string {
		return field
	},
	MissingField: func(rt reflect.Type, field string) error {
		id := fmt.Sprintf("%s.%s", rt.String(), field)
		if deprecated(id) {
			log.Warn("Config field is deprecated and won't have an effect", "name", id)
			return nil
		}
		var link string
		if unicode.IsUpper(rune(rt.Name()[0])) && rt.PkgPath() != "main" {
			link = fmt.Sprintf(", see https://godoc.org/%s#%s for available fields", rt.PkgPath(), rt.Name())
		}
		return fmt.Errorf("field '%s' is not defined in %s%s", field, rt.String(), link)
	},
}

type agijobsConfig struct {
	Protocol params.ProtocolConfig
	DataDir  string `toml:",omitempty"`
	Owner    string `toml:",omitempty"` // hex address holding the governance key
}

func loadConfig(file string, cfg *agijobsConfig) error {
	f, err := os.Open(file)
	if err != nil {
		return err
	}
	defer f.Close()

	err = tomlSettings.NewDecoder(bufio.NewReader(f)).Decode(cfg)
	// Add file name to errors that have a line number.
	if _, ok := err.(*toml.LineError); ok {
		err = errors.New(file + ", " + err.Error())
	}
	return err
}

// makeConfig loads the agijobs configuration, layering the config file and
// command line flags over the protocol defaults.
func makeConfig(ctx *cli.Context) agijobsConfig {
	// Load defaults.
	cfg := agijobsConfig{
		Protocol: params.DefaultConfig,
		DataDir:  defaultDataDir,
	}

	// Load config file.
	if file := ctx.GlobalString(configFileFlag.Name); file != "" {
		if err := loadConfig(file, &cfg); err != nil {
			fatalf("%v", err)
		}
	}

	// Apply flags.
	if ctx.GlobalIsSet(dataDirFlag.Name) {
		cfg.DataDir = ctx.GlobalString(dataDirFlag.Name)
	}
	if err := cfg.Protocol.Check(); err != nil {
		fatalf("Invalid protocol configuration: %v", err)
	}
	return cfg
}

// makeProtocol loads the agijobs configuration and assembles the protocol
// over the ledger stored in the data directory.
func makeProtocol(ctx *cli.Context) (*core.Protocol, jobsdb.Database) {
	cfg := makeConfig(ctx)

	db, err := jobsdb.NewLevelDB(cfg.DataDir)
	if err != nil {
		fatalf("Failed to open ledger database: %v", err)
	}
	p, err := core.Load(db, common.HexToAddress(cfg.Owner), cfg.Protocol, nil)
	if err != nil {
		db.Close()
		fatalf("Failed to load the protocol ledger: %v", err)
	}
	return p, db
}

// dumpConfig is the dumpconfig command.
func dumpConfig(ctx *cli.Context) error {
	cfg := makeConfig(ctx)

	out, err := tomlSettings.Marshal(&cfg)
	if err != nil {
		return err
	}

	dump := os.Stdout
	if ctx.NArg() > 0 {
		dump, err = os.OpenFile(ctx.Args().Get(0), os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
		if err != nil {
			return err
		}
		defer dump.Close()
	}
	dump.Write(out)

	return nil
}

func deprecated(field string) bool {
	return false
}
