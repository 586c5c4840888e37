// addr-debug compares the built-in address normalizer against libpostal's
// statistical parser on the same input. Disagreements between the two are
// the fastest way to find normalization gaps when a feed's match rate
// drops.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"os"

	postal "github.com/openvenues/gopostal/parser"

	"github.com/vayo/unify/internal/normalize"
)

func main() {
	var (
		address = flag.String("address", "", "Single address to analyze")
		file    = flag.String("file", "", "File with one address per line")
	)
	flag.Parse()

	switch {
	case *address != "":
		analyze(*address)
	case *file != "":
		f, err := os.Open(*file)
		if err != nil {
			log.Fatalf("Failed to open %s: %v", *file, err)
		}
		defer f.Close()

		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			line := scanner.Text()
			if line == "" {
				continue
			}
			analyze(line)
			fmt.Println()
		}
		if err := scanner.Err(); err != nil {
			log.Fatalf("Failed to read %s: %v", *file, err)
		}
	default:
		fmt.Println("Usage: addr-debug -address \"200 E 23rd St 7C, New York, NY 10010\"")
		fmt.Println("       addr-debug -file addresses.txt")
	}
}

func analyze(raw string) {
	fmt.Printf("input: %s\n", raw)

	canonical, unit := normalize.Address(raw)
	fmt.Printf("  canonical: %q  unit: %q\n", canonical, unit)
	fmt.Printf("  loose key: %q  zip: %q\n", normalize.LooseKey(canonical), normalize.Zip(raw))

	fmt.Println("  libpostal:")
	for _, c := range postal.ParseAddress(raw) {
		fmt.Printf("    %-15s %s\n", c.Label, c.Value)
	}
}
