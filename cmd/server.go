/*
Copyright © 2021 Edmond Cotterell

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package cmd

import (
	"fmt"

	"github.com/Daskott/deadman/server"
	"github.com/Daskott/deadman/version"
	"github.com/spf13/cobra"
)

// serverCmd represents the server command
var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start a deadman server",
	Long: `The deadman server runs the HTTP API, the overdue scanner and the
notification workers until it receives SIGINT or SIGTERM.`,
	Run: func(cmd *cobra.Command, args []string) {
		config, err := loadServerConfig()
		cobra.CheckErr(err)

		server.Start(config, isDevEnv)
	},
}

// scanCmd runs a single scan cycle, for deployments that drive scans
// from an external cron.
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Run one overdue scan cycle and exit",
	Long: `Evaluates every enabled active switch once and triggers the overdue ones.
The notifications are delivered by a running deadman server.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		config, err := loadServerConfig()
		if err != nil {
			return err
		}

		result, err := server.RunScan(cmd.Context(), config, isDevEnv)
		if err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "scanned=%v triggered=%v skipped=%v failed=%v redriven=%v\n",
			result.Scanned, result.Triggered, result.Skipped, result.Failed, result.Redriven)
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the deadman version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "deadman v%s\n", version.Version)
	},
}
