// livedata-sql is an interactive SQL console for a livedata database.
// The daemon holds the database exclusively while running; point this at
// a stopped daemon's file or at a .bak copy.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/c-bata/go-prompt"
	"golang.org/x/term"

	"github.com/xtxerr/livedata/internal/config"
	"github.com/xtxerr/livedata/internal/storage"
)

func main() {
	dataDir := flag.String("data-dir", "", "data directory holding livedata.duckdb")
	dbPath := flag.String("db", "", "database file path (overrides -data-dir)")
	maxRows := flag.Int("max-rows", 1000, "row cap per query")
	command := flag.String("c", "", "run a single statement and exit")
	flag.Parse()

	path := *dbPath
	if path == "" {
		cfg := config.DefaultConfig()
		if *dataDir != "" {
			cfg.DataDir = *dataDir
		}
		path = cfg.DatabasePath()
	}

	if _, err := os.Stat(path); err != nil {
		fmt.Fprintf(os.Stderr, "database not found: %s\n", path)
		os.Exit(1)
	}

	store, err := storage.Open(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open database: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	c := &console{
		store:   store,
		query:   storage.NewQuery(store, nil, nil),
		maxRows: *maxRows,
	}

	if *command != "" {
		c.execute(*command)
		return
	}

	if !term.IsTerminal(int(os.Stdin.Fd())) {
		c.runBatch(os.Stdin)
		return
	}

	fmt.Printf("livedata-sql connected to %s\n", path)
	fmt.Println(`type \q to quit, \tables to list tables, \schema <table> for columns`)

	p := prompt.New(
		c.execute,
		c.complete,
		prompt.OptionPrefix("livedata> "),
		prompt.OptionTitle("livedata-sql"),
	)
	p.Run()
}

type console struct {
	store   *storage.Store
	query   *storage.Query
	maxRows int
}

// runBatch executes semicolon-separated statements from a pipe.
func (c *console) runBatch(r *os.File) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 1<<20), 1<<20)

	var buf strings.Builder
	for scanner.Scan() {
		line := scanner.Text()
		buf.WriteString(line)
		buf.WriteString("\n")
		if strings.HasSuffix(strings.TrimSpace(line), ";") {
			c.execute(buf.String())
			buf.Reset()
		}
	}
	if rest := strings.TrimSpace(buf.String()); rest != "" {
		c.execute(rest)
	}
}

func (c *console) execute(input string) {
	input = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(input), ";"))
	if input == "" {
		return
	}

	switch {
	case input == `\q` || input == "quit" || input == "exit":
		os.Exit(0)
	case input == `\tables`:
		c.showTables()
		return
	case strings.HasPrefix(input, `\schema`):
		c.showSchema(strings.TrimSpace(strings.TrimPrefix(input, `\schema`)))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	started := time.Now()
	rows, err := c.query.QuerySQL(ctx, input, c.maxRows)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return
	}

	c.printRows(rows)
	fmt.Printf("%d row(s) in %s\n", len(rows), time.Since(started).Round(time.Millisecond))
}

func (c *console) showTables() {
	rows, err := c.query.QuerySQL(context.Background(),
		"SELECT table_name FROM information_schema.tables ORDER BY table_name", c.maxRows)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return
	}
	for _, row := range rows {
		fmt.Println(row["table_name"])
	}
}

func (c *console) showSchema(table string) {
	if table == "" {
		fmt.Fprintln(os.Stderr, `usage: \schema <table>`)
		return
	}
	rows, err := c.query.QuerySQL(context.Background(),
		fmt.Sprintf("SELECT column_name, data_type FROM information_schema.columns WHERE table_name = '%s' ORDER BY ordinal_position",
			strings.ReplaceAll(table, "'", "''")), c.maxRows)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return
	}
	c.printRows(rows)
}

func (c *console) printRows(rows []map[string]any) {
	if len(rows) == 0 {
		return
	}

	columns := make([]string, 0, len(rows[0]))
	for col := range rows[0] {
		columns = append(columns, col)
	}
	sort.Strings(columns)

	w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
	fmt.Fprintln(w, strings.Join(columns, "\t"))

	for _, row := range rows {
		cells := make([]string, len(columns))
		for i, col := range columns {
			cells[i] = formatValue(row[col])
		}
		fmt.Fprintln(w, strings.Join(cells, "\t"))
	}
	w.Flush()
}

func formatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "NULL"
	case time.Time:
		return x.UTC().Format(time.RFC3339)
	case []byte:
		return string(x)
	default:
		return fmt.Sprint(x)
	}
}

var keywords = []prompt.Suggest{
	{Text: "SELECT", Description: "query rows"},
	{Text: "FROM"},
	{Text: "WHERE"},
	{Text: "GROUP BY"},
	{Text: "ORDER BY"},
	{Text: "LIMIT"},
	{Text: "COUNT(*)"},
	{Text: "DISTINCT"},
	{Text: "journal_logs", Description: "journal log table"},
	{Text: "process_metrics", Description: "process sample table"},
	{Text: "timestamp"},
	{Text: "minute_key"},
	{Text: "message"},
	{Text: "priority"},
	{Text: "hostname"},
	{Text: "unit"},
	{Text: "pid"},
	{Text: "comm"},
	{Text: "cpu_percent"},
	{Text: "mem_bytes"},
	{Text: `\tables`, Description: "list tables"},
	{Text: `\schema`, Description: "show table columns"},
	{Text: `\q`, Description: "quit"},
}

func (c *console) complete(d prompt.Document) []prompt.Suggest {
	word := d.GetWordBeforeCursor()
	if word == "" {
		return nil
	}
	return prompt.FilterHasPrefix(keywords, word, true)
}
