//go:build ignore
// +build ignore

package main

import (
	"log"
	"os"

	"github.com/buildfail/ich/cmd/ich/cmds"
	"github.com/spf13/cobra/doc"
)

const defaultUsageDir = "./Documentation/usage"

func main() {
	usageDir := defaultUsageDir
	if len(os.Args) > 1 {
		usageDir = os.Args[1]
	}
	if err := os.MkdirAll(usageDir, 0755); err != nil {
		log.Fatalf("creating %s: %v", usageDir, err)
	}
	root := cmds.New()
	root.DisableAutoGenTag = true
	if err := doc.GenMarkdownTree(root, usageDir); err != nil {
		log.Fatalf("generating usage docs: %v", err)
	}
	header := &doc.GenManHeader{Title: "ICH", Section: "1", Source: "ich"}
	if err := doc.GenManTree(root, header, usageDir); err != nil {
		log.Fatalf("generating man page: %v", err)
	}
}
