// Command validate-plugins checks every plugin.cue under a directory.
package main

import (
	"flag"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/mantonx/redseat/internal/modules/pluginmodule"
)

func main() {
	dir := flag.String("dir", "./plugins", "plugin directory to scan")
	requireBinary := flag.Bool("require-binary", false, "fail when a plugin's entry point binary is missing")
	flag.Parse()

	fmt.Println("=== Plugin Manifest Validation ===")

	parser := pluginmodule.NewCUEParser()
	var checked, failed int

	err := filepath.WalkDir(*dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || d.Name() != "plugin.cue" {
			return nil
		}
		checked++

		manifest, err := parser.ParseFile(path)
		if err != nil {
			failed++
			fmt.Printf("✗ %s: %v\n", path, err)
			return nil
		}

		binary := filepath.Join(filepath.Dir(path), manifest.EntryPoint())
		if _, statErr := os.Stat(binary); statErr != nil && *requireBinary {
			failed++
			fmt.Printf("✗ %s: entry point %s not found\n", manifest.ID, binary)
			return nil
		}

		fmt.Printf("✓ %s (%s) capabilities=[%s]", manifest.ID, manifest.Name, strings.Join(manifest.CapabilitySet().Strings(), ", "))
		if len(manifest.URLPatterns) > 0 {
			fmt.Printf(" url_patterns=%d", len(manifest.URLPatterns))
		}
		fmt.Println()
		return nil
	})
	if err != nil {
		fmt.Printf("✗ failed to scan %s: %v\n", *dir, err)
		os.Exit(1)
	}

	fmt.Printf("\n%d manifest(s) checked, %d failed\n", checked, failed)
	if failed > 0 {
		os.Exit(1)
	}
}
