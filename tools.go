//go:build tools

package main

import (
	_ "github.com/nikolaydubina/go-cover-treemap"
	_ "golang.org/x/tools/cmd/deadcode"
)
