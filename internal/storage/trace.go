package storage

import (
	"bufio"
	"os"
	"strings"
	"sync"
)

// Optional plaintext trace of every statement the storage layer executes,
// one per line, for offline inspection of the collector's SQL surface.

var (
	traceMu sync.Mutex
	traceW  *bufio.Writer
)

// InitTrace enables SQL tracing to the given file, truncating it. Calling
// it twice is a no-op.
func InitTrace(path string) error {
	traceMu.Lock()
	defer traceMu.Unlock()

	if traceW != nil {
		return nil
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	traceW = bufio.NewWriter(f)
	return nil
}

func traceSQL(sql string) {
	traceMu.Lock()
	defer traceMu.Unlock()

	if traceW == nil {
		return
	}

	trimmed := strings.TrimSpace(sql)
	if trimmed == "" {
		return
	}
	traceW.WriteString(trimmed)
	if !strings.HasSuffix(trimmed, ";") {
		traceW.WriteByte(';')
	}
	traceW.WriteByte('\n')
	traceW.Flush()
}
