// Package main mints bearer grants for the canvas API.
package main

import (
	"flag"
	"os"

	"github.com/mosaicforge/tessella/internal/platform/config"
	"github.com/mosaicforge/tessella/internal/tools/grantmint"
)

func main() {
	cfg, err := grantmint.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		config.Exitf("parse flags: %v", err)
	}
	if err := grantmint.Run(cfg, os.Stdout, nil); err != nil {
		config.Exitf("mint grant: %v", err)
	}
}
