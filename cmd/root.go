package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"docrag/src/log"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "docrag",
	Short: "Index documents and answer questions over them",
	Long: `docrag ingests PDF, Word, image and text files into a vector index and
answers questions grounded in the indexed chunks.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initConfig()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml, toml or json)")
	settingDefaultConfig()
}

func initConfig() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load .env: %w", err)
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config %s: %w", cfgFile, err)
		}
	}

	if err := log.Setup(viper.GetString("log.level"), viper.GetBool("log.development")); err != nil {
		return err
	}
	if cfgFile != "" {
		log.Debug("Loaded config", "file", viper.ConfigFileUsed())
	}
	return nil
}
