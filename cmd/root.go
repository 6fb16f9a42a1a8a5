package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "terratile",
	Short: "Render arbitrary-view images from tiled web map sources",
	Long: `terratile loads map tiles from HTTP, disk, or packed-bin sources and
renders an arbitrary-view image: a center point, bearing, and ground
resolution, cropped and resampled from the covering tiles.

Examples:
  # Render a north-up view from an XYZ tile server
  terratile render --layout layout.yaml --lat 43.49111 --lon -1.47309 \
    --zoom 16 --mpp 1.0 --width 1024 --height 768 -o view.png

  # Render a rotated view using a named tileloader from a registry
  terratile render --layout layout.yaml --tileloaders sources.yaml --source osm \
    --lat 35.6824 --lon 139.7531 --bearing 45 --zoom 17 --mpp 0.5 \
    --width 800 --height 600 -o tokyo.png -w`,
}

// Execute adds all child commands to the root command and sets flags
// appropriately. This is called by main.main(). It only needs to happen
// once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.terratile.yaml)")
	viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".terratile")
	}

	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}
