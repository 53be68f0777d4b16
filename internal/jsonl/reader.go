package jsonl

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
)

// maxRecordSize bounds a single JSONL line during reads.
const maxRecordSize = 1 << 20

// ForEach streams records from a JSONL file, calling fn with each raw line.
// Blank lines are skipped. fn returning an error stops the scan.
func ForEach(path string, fn func(line []byte) error) error {
	if path == "" {
		return fmt.Errorf("jsonl: path required")
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), maxRecordSize)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		if err := fn(line); err != nil {
			return fmt.Errorf("jsonl %s:%d: %w", path, lineNo, err)
		}
	}
	return sc.Err()
}
