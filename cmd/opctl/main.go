package main

import (
	"fmt"
	"os"

	"github.com/distribution/storage-operator/opctl"
)

func main() {
	if err := opctl.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
