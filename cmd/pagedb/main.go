// Command pagedb is the REPL entry point, grounded on the teacher's
// top-level main.go scanner loop.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"pagedb/internal/catalog"
	"pagedb/internal/interp"
)

func main() {
	os.Exit(run())
}

// run drives the REPL and reports the process exit code: 0 on a clean EOF,
// 1 if any statement failed to parse or execute.
func run() int {
	frames := flag.Int("frames", 64, "number of buffer pool frames per open table or index")
	flag.Parse()

	dataDir := "."
	if args := flag.Args(); len(args) > 0 {
		dataDir = args[0]
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		log.Fatalf("pagedb: create data directory %s: %v", dataDir, err)
	}

	cat, err := catalog.New(dataDir, *frames)
	if err != nil {
		log.Fatalf("pagedb: %v", err)
	}
	defer cat.Close()

	it := interp.New(cat, *frames)

	hadError := false
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("db> ")
		if !scanner.Scan() {
			break
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.EqualFold(line, "exit") {
			break
		}

		result, err := it.Run(line)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			hadError = true
			continue
		}
		printResult(result)
	}

	if hadError {
		return 1
	}
	return 0
}

func printResult(r *interp.Result) {
	if len(r.Schema) == 0 {
		return
	}
	names := r.Schema.Names()
	fmt.Println(strings.Join(names, "\t"))
	for _, row := range r.Rows {
		cols := make([]string, len(row))
		for i, v := range row {
			cols[i] = v.String()
		}
		fmt.Println(strings.Join(cols, "\t"))
	}
}
