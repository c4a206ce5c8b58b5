package init

import (
	_ "embed"
	"fmt"
	"os"
)

// We embed the sample toml file for use with the init flag.
//
//go:embed init.toml
var initBytes []byte

func Run() error {
	if err := os.WriteFile("partfmt.toml", initBytes, 0o644); err != nil { //nolint:gosec
		return fmt.Errorf("failed to write partfmt.toml: %w", err)
	}

	fmt.Printf("Generated partfmt.toml. Now it's your turn to edit it.\n")

	return nil
}
