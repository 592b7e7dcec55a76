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
	"os"
	"path/filepath"
	"strings"

	devConfig "github.com/Daskott/deadman/dev/config"
	"github.com/Daskott/deadman/server/logger"
	"github.com/Daskott/deadman/shared"
	"github.com/Daskott/deadman/version"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const ENV_PREFIX = "DEADMAN"

var (
	cfgFile  string
	isDevEnv bool

	red = color.New(color.FgRed).SprintFunc()
)

// rootCmd represents the base command when called without any subcommands
var rootCmd *cobra.Command

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	cobra.CheckErr(rootCmd.Execute())
}

func init() {
	rootCmd = createRootCmd()
	rootCmd.Version = fmt.Sprintf("v%s", version.Version)

	rootCmd.AddCommand(serverCmd, scanCmd, versionCmd)
}

func createRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use: "deadman",
		Short: `deadman watches switches that must be checked in on regularly.

When a switch misses its deadline, its emergency contacts are notified
by SMS, email or webhook.`,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "server config file (default is $HOME/.deadman.yaml)")
	cmd.PersistentFlags().BoolVarP(&isDevEnv, "dev", "", false, "run in development mode with the bundled config")

	return cmd
}

// loadServerConfig reads the server config from the bundled dev config,
// the --config file or $HOME/.deadman.yaml, in that order. Environment
// variables override file values, e.g. DEADMAN_DATABASE_DSN.
func loadServerConfig() (*shared.ServerConfig, error) {
	config := viper.New()
	config.SetConfigType("yaml")
	config.SetEnvPrefix(ENV_PREFIX)
	config.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	config.AutomaticEnv()

	switch {
	case isDevEnv:
		if err := config.ReadConfig(strings.NewReader(devConfig.SERVER_YML)); err != nil {
			return nil, formattedError("error reading dev config: %v", err)
		}
	default:
		configFile, err := configFilePath()
		if err != nil {
			return nil, err
		}

		config.SetConfigFile(configFile)
		if err := config.ReadInConfig(); err != nil {
			return nil, formattedError("error reading server config file: %v", err)
		}
		fmt.Fprintln(os.Stderr, "Using config file:", config.ConfigFileUsed())
	}

	serverConfig, err := shared.LoadServerConfig(config)
	if err != nil {
		return nil, err
	}

	if err := logger.Configure(serverConfig.Deadman.LogLevel, isDevEnv); err != nil {
		return nil, formattedError("invalid log level: %v", err)
	}

	return serverConfig, nil
}

func configFilePath() (string, error) {
	if cfgFile != "" {
		return cfgFile, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".deadman.yaml"), nil
}

func formattedError(format string, a ...interface{}) error {
	return fmt.Errorf(red(format), a...)
}
