// Package main provides a one-shot utility for grant key generation.
//
// It emits the Ed25519 keypair the canvas uses to sign and verify grants.
package main

import (
	"os"

	"github.com/mosaicforge/tessella/internal/platform/config"
	"github.com/mosaicforge/tessella/internal/tools/grantkey"
)

func main() {
	if err := grantkey.Run(os.Stdout, nil); err != nil {
		config.Exitf("generate grant key: %v", err)
	}
}
