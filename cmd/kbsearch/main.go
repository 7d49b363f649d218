// Package main provides the entry point for the kbsearch CLI.
package main

import (
	"fmt"
	"os"

	"github.com/Aman-CERP/kbsearch/cmd/kbsearch/cmd"
	kberrors "github.com/Aman-CERP/kbsearch/internal/errors"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprint(os.Stderr, kberrors.FormatForCLI(err))
		os.Exit(1)
	}
}
