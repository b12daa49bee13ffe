/*
Copyright © 2024 the isimip authors.
This file is part of isimip.

isimip is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

isimip is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with isimip.  If not, see <http://www.gnu.org/licenses/>.
*/

// Package isimiputil holds the command-line interface of the ISIMIP3b
// downloader.
package isimiputil

import (
	"context"
	"fmt"
	"strings"

	"github.com/lnashier/viper"
	"github.com/spatialmodel/isimip"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// Cfg holds configuration information.
var Cfg *viper.Viper

var options []struct {
	name, usage, shorthand string
	defaultVal             interface{}
	flagsets               []*pflag.FlagSet
}

func init() {
	// Options are the configuration options available to isimip.
	options = []struct {
		name, usage, shorthand string
		defaultVal             interface{}
		flagsets               []*pflag.FlagSet
	}{
		{
			name: "config",
			usage: `
              config specifies the configuration file location.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "log_level",
			usage: `
              log_level is the minimum severity of the log messages
              that are printed. Valid options are "debug", "info",
              "warning" and "error".`,
			defaultVal: "info",
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "models",
			usage: `
              models specifies the climate models to process, or "all"
              for every model. Valid models are ` + strings.Join(modelNames(), ", ") + `.`,
			shorthand:  "m",
			defaultVal: []string{"all"},
			flagsets:   []*pflag.FlagSet{downloadCmd.Flags(), combineCmd.Flags(), ncmlCmd.Flags()},
		},
		{
			name: "variables",
			usage: `
              variables specifies the climate variables to download. Valid
              variables are ` + strings.Join(isimip.Variables, ", ") + `.`,
			shorthand:  "v",
			defaultVal: []string{"tas", "pr"},
			flagsets:   []*pflag.FlagSet{downloadCmd.Flags()},
		},
		{
			name: "scenario",
			usage: `
              scenario specifies the climate scenario to process, or "all"
              for every scenario. Valid scenarios are historical, ssp126
              and ssp585.`,
			shorthand:  "s",
			defaultVal: "historical",
			flagsets:   []*pflag.FlagSet{downloadCmd.Flags(), combineCmd.Flags(), ncmlCmd.Flags()},
		},
		{
			name: "bbox",
			usage: `
              bbox specifies the region that downloaded files are cropped to,
              as four numbers: minimum longitude, maximum longitude,
              minimum latitude and maximum latitude. Ranges are inclusive
              and follow the order of the coordinates in the file, so
              on a descending latitude axis the latitudes must be given
              from north to south. If bbox is empty, files are not cropped.`,
			defaultVal: []string{},
			flagsets:   []*pflag.FlagSet{downloadCmd.Flags()},
		},
		{
			name: "output_dir",
			usage: `
              output_dir is the directory that files are saved to. It can
              include environment variables.`,
			shorthand:  "o",
			defaultVal: ".",
			flagsets:   []*pflag.FlagSet{downloadCmd.Flags(), combineCmd.Flags(), ncmlCmd.Flags()},
		},
		{
			name: "max_workers",
			usage: `
              max_workers is the number of files that are downloaded at the same time.`,
			defaultVal: isimip.DefaultWorkers,
			flagsets:   []*pflag.FlagSet{downloadCmd.Flags()},
		},
		{
			name: "conda_env",
			usage: `
              conda_env is the conda environment in which R and the
              climate4R loadeR package are installed. If it is set, an
              ncml file is created for every model and scenario after
              the downloads are complete.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{downloadCmd.Flags(), ncmlCmd.Flags()},
		},
		{
			name: "combine",
			usage: `
              combine specifies whether the downloaded files of each model
              and scenario are combined into a single file after the
              downloads are complete.`,
			defaultVal: false,
			flagsets:   []*pflag.FlagSet{downloadCmd.Flags()},
		},
		{
			name: "publish",
			usage: `
              publish is an optional blob storage location (e.g.,
              gs://bucket/prefix, s3://bucket/prefix or file:///dir)
              that the contents of output_dir are uploaded to at the
              end of the run.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{downloadCmd.Flags()},
		},
		{
			name: "base_url",
			usage: `
              base_url is the location of the ISIMIP3b file tree. It
              can be changed to use a mirror.`,
			defaultVal: isimip.DefaultBaseURL,
			flagsets:   []*pflag.FlagSet{downloadCmd.Flags()},
		},
	}

	Cfg = viper.New()

	// Set the prefix for configuration environment variables.
	Cfg.SetEnvPrefix("ISIMIP")
	Cfg.AutomaticEnv()

	for _, option := range options {
		for i, set := range option.flagsets {
			if i != 0 { // We don't want to create the same flag twice.
				set.AddFlag(option.flagsets[0].Lookup(option.name))
				continue
			}
			switch option.defaultVal.(type) {
			case string:
				if option.shorthand == "" {
					set.String(option.name, option.defaultVal.(string), option.usage)
				} else {
					set.StringP(option.name, option.shorthand, option.defaultVal.(string), option.usage)
				}
			case []string:
				if option.shorthand == "" {
					set.StringSlice(option.name, option.defaultVal.([]string), option.usage)
				} else {
					set.StringSliceP(option.name, option.shorthand, option.defaultVal.([]string), option.usage)
				}
			case bool:
				if option.shorthand == "" {
					set.Bool(option.name, option.defaultVal.(bool), option.usage)
				} else {
					set.BoolP(option.name, option.shorthand, option.defaultVal.(bool), option.usage)
				}
			case int:
				if option.shorthand == "" {
					set.Int(option.name, option.defaultVal.(int), option.usage)
				} else {
					set.IntP(option.name, option.shorthand, option.defaultVal.(int), option.usage)
				}
			default:
				panic("invalid argument type")
			}
			Cfg.BindPFlag(option.name, set.Lookup(option.name))
		}
	}
}

func init() {
	// Link the commands together.
	Root.AddCommand(versionCmd)
	Root.AddCommand(downloadCmd)
	Root.AddCommand(combineCmd)
	Root.AddCommand(ncmlCmd)
}

func modelNames() []string {
	names := make([]string, len(isimip.Models))
	for i, m := range isimip.Models {
		names[i] = m.Name
	}
	return names
}

// runCtx is the context that commands run in.
var runCtx = context.Background()

// Execute runs the command line interface. Cancelling ctx stops the
// running command.
func Execute(ctx context.Context) error {
	runCtx = ctx
	return Root.Execute()
}

// setConfig finds and reads in the configuration file, if there is one.
func setConfig() error {
	if cfgpath := Cfg.GetString("config"); cfgpath != "" {
		Cfg.SetConfigFile(cfgpath)
		if err := Cfg.ReadInConfig(); err != nil {
			return fmt.Errorf("isimip: problem reading configuration file: %v", err)
		}
	}
	return nil
}

// Root is the main command.
var Root = &cobra.Command{
	Use:   "isimip",
	Short: "A downloader for ISIMIP3b climate data.",
	Long: `isimip downloads bias-adjusted daily climate data from the ISIMIP3b
dataset, optionally crops it to a region, and combines or aggregates the
downloaded files of each climate model.
Use the subcommands specified below to access the functionality.

Configuration can be changed by using a configuration file (and providing the
path to the file using the --config flag), by using command-line arguments,
or by setting environment variables in the format 'ISIMIP_var' where 'var' is the
name of the variable to be set.
Refer to https://github.com/spf13/viper for additional configuration information.`,
	DisableAutoGenTag: true,
	SilenceUsage:      true,
	PersistentPreRunE: func(*cobra.Command, []string) error { return setConfig() },
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Long:  "version prints the version number of this version of isimip.",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Printf("isimip v%s\n", isimip.Version)
	},
	DisableAutoGenTag: true,
}

var downloadCmd = &cobra.Command{
	Use:   "download",
	Short: "Download climate data.",
	Long: `download retrieves one file per decade for every combination of the
selected models, variables and scenarios, skipping files that have already
been downloaded. Files that fail to download are logged and skipped.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		log, err := newLogger(Cfg.GetString("log_level"), cmd.OutOrStderr())
		if err != nil {
			return err
		}
		cfg, err := downloadConfig(Cfg)
		if err != nil {
			return err
		}
		cfg.Log = log
		return isimip.Download(runCtx, cfg)
	},
	DisableAutoGenTag: true,
}

var combineCmd = &cobra.Command{
	Use:   "combine",
	Short: "Combine downloaded files.",
	Long: `combine merges the downloaded files of each model and scenario along
the time axis into a single netCDF file in output_dir/combined.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		log, err := newLogger(Cfg.GetString("log_level"), cmd.OutOrStderr())
		if err != nil {
			return err
		}
		return isimip.Combine(runCtx, Cfg.GetStringSlice("models"), Cfg.GetString("scenario"),
			expandPath(Cfg.GetString("output_dir")), log)
	},
	DisableAutoGenTag: true,
}

var ncmlCmd = &cobra.Command{
	Use:   "ncml",
	Short: "Create ncml files for downloaded data.",
	Long: `ncml uses the climate4R loadeR package, run in the conda environment
given by conda_env, to write one ncml file per model and scenario in
output_dir/ncml that presents the downloaded files as a single dataset.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		log, err := newLogger(Cfg.GetString("log_level"), cmd.OutOrStderr())
		if err != nil {
			return err
		}
		env := Cfg.GetString("conda_env")
		if env == "" {
			return fmt.Errorf("isimip: conda_env must be set to create ncml files")
		}
		return isimip.Aggregate(runCtx, Cfg.GetStringSlice("models"), Cfg.GetString("scenario"),
			expandPath(Cfg.GetString("output_dir")), env, nil, log)
	},
	DisableAutoGenTag: true,
}
