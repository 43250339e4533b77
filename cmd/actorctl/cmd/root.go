package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/actorkit/actorkit/pkg/client"
)

var (
	platformURL  string
	apiToken     string
	outputFormat string
	cfgFile      string
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "actorctl",
	Short: "CLI for the actorkit platform",
	Long:  `actorctl manages actor runs, key-value stores and datasets on an actorkit platform or local emulator.`,
}

// Execute adds all child commands to the root command and sets flags appropriately
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.actorkit/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&platformURL, "platform", "", "platform API URL (default from config or http://localhost:8035)")
	rootCmd.PersistentFlags().StringVar(&apiToken, "token", "", "API token (default from config or ACTOR_API_TOKEN)")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "output", "table", "output format: table or json")
}

// initConfig reads in config file and ENV variables if set
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error finding home directory: %v\n", err)
			os.Exit(1)
		}
		viper.AddConfigPath(filepath.Join(home, ".actorkit"))
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.AutomaticEnv()
	viper.BindEnv("api_token", "ACTOR_API_TOKEN")
	viper.BindEnv("platform_url", "ACTOR_API_BASE_URL")

	if err := viper.ReadInConfig(); err == nil {
		if platformURL == "" {
			platformURL = viper.GetString("platform_url")
		}
		if apiToken == "" {
			apiToken = viper.GetString("api_token")
		}
	}
	if platformURL == "" {
		platformURL = viper.GetString("platform_url")
	}
	if apiToken == "" {
		apiToken = viper.GetString("api_token")
	}
	if platformURL == "" {
		platformURL = "http://localhost:8035"
	}
}

// GetPlatformURL returns the configured platform URL without a trailing slash
func GetPlatformURL() string {
	return strings.TrimRight(platformURL, "/")
}

// IsJSONOutput returns true if JSON output is requested
func IsJSONOutput() bool {
	return outputFormat == "json"
}

// apiClient builds a platform client from the CLI configuration
func apiClient() *client.Client {
	opts := []client.Option{}
	if apiToken != "" {
		opts = append(opts, client.WithToken(apiToken))
	}
	return client.NewClient(GetPlatformURL(), opts...)
}
