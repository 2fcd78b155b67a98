// Package main 是应用程序的入口点。
package main

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

const defaultConfigPath = "./configs/config.yaml"

func newRootCommand() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:          "chatfront",
		Short:        "Chat front-end with conversation history and a generation proxy",
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// .env 不存在时静默跳过，环境变量仍可直接覆盖配置
			_ = godotenv.Load()
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to the YAML config file")

	root.AddCommand(newServeCommand(&configPath), newMigrateCommand(&configPath))
	return root
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
