package main

import (
	"fmt"
	"os"

	"github.com/yolodolo42/safesign/internal/cli"
	"github.com/yolodolo42/safesign/internal/ui"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, ui.RenderError(err))
		os.Exit(1)
	}
}
