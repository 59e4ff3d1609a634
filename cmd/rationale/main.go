// Command rationale builds multimodal QA and rationale datasets. See
// "rationale --help" for usage.
package main

import (
	"os"

	"github.com/ahrav/go-rationale/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
