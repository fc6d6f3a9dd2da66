package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/maruel/ksid"
	"github.com/maruel/recdb/internal/codec"
	"github.com/maruel/recdb/internal/jsonldb"
	"github.com/maruel/recdb/internal/users"
	"github.com/mattn/go-isatty"
)

type command struct {
	name string
	args string
	help string
	run  func(ctx context.Context, a *app, args []string) error
}

var commands = []command{
	{"all", "<table>", "Print every record", cmdAll},
	{"get", "<table> <key>", "Print the record with the key", cmdGet},
	{"find", "[-first] <table> <field> <value>", "Print the records whose field equals value", cmdFind},
	{"insert", "[-gen-id] [-envelope] <table> <json|->...", "Insert records", cmdInsert},
	{"update", "[-envelope] <table> <json|->...", "Merge fields into existing records", cmdUpdate},
	{"delete", "<table> <key>...", "Delete records by key", cmdDelete},
	{"truncate", "<table>", "Delete every record", cmdTruncate},
	{"columns", "<table>", "Print the columns and their types", cmdColumns},
	{"tables", "", "List the configured tables", cmdTables},
	{"schema", "", "Print the JSON Schema of the file format", cmdSchema},
	{"watch", "<table>", "Print a line every time the table file changes", cmdWatch},
	{"history", "[-n N] [-at <hash>] <table>", "Print the commit log of a table, or its file at a commit", cmdHistory},
	{"useradd", "<username>", "Create a user, password read from stdin", cmdUserAdd},
	{"passwd", "<username>", "Change a password, read from stdin", cmdPasswd},
	{"userdel", "<username>", "Delete a user", cmdUserDel},
	{"users", "", "List users", cmdUsers},
	{"serve", "[-http addr]", "Serve the tables over HTTP", cmdServe},
	{"version", "", "Print version", cmdVersion},
}

func lookupCommand(name string) *command {
	for i := range commands {
		if commands[i].name == name {
			return &commands[i]
		}
	}
	return nil
}

// parseArgs parses the flags of a command and checks the number of
// positional arguments. max < 0 means unbounded.
func parseArgs(a *app, fs *flag.FlagSet, args []string, minArgs, maxArgs int) error {
	fs.SetOutput(a.stderr)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if n := fs.NArg(); n < minArgs || (maxArgs >= 0 && n > maxArgs) {
		fs.Usage()
		return fmt.Errorf("%s: wrong number of arguments", fs.Name())
	}
	return nil
}

func (a *app) printRecords(rows []jsonldb.Record) error {
	data, err := codec.Encode(rows)
	if err != nil {
		return err
	}
	_, err = a.stdout.Write(data)
	return err
}

// readRecords parses each argument as a record. "-" reads JSON Lines from
// stdin. With envelope, input is in the codec envelope format.
func (a *app) readRecords(args []string, envelope bool) ([]jsonldb.Record, error) {
	parse := codec.ParseRecord
	if envelope {
		parse = func(s string) (codec.Record, error) { return codec.DecodeRecord([]byte(s)) }
	}
	var out []jsonldb.Record
	for _, arg := range args {
		if arg != "-" {
			r, err := parse(arg)
			if err != nil {
				return nil, fmt.Errorf("invalid record %q: %w", arg, err)
			}
			out = append(out, r)
			continue
		}
		s := bufio.NewScanner(a.stdin)
		s.Buffer(nil, 64<<20)
		for line := 1; s.Scan(); line++ {
			text := strings.TrimSpace(s.Text())
			if text == "" {
				continue
			}
			r, err := parse(text)
			if err != nil {
				return nil, fmt.Errorf("stdin line %d: %w", line, err)
			}
			out = append(out, r)
		}
		if err := s.Err(); err != nil {
			return nil, fmt.Errorf("failed to read stdin: %w", err)
		}
	}
	return out, nil
}

func cmdAll(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("all", flag.ContinueOnError)
	if err := parseArgs(a, fs, args, 1, 1); err != nil {
		return err
	}
	t, err := a.table(fs.Arg(0))
	if err != nil {
		return err
	}
	rows, err := t.All()
	if err != nil {
		return err
	}
	return a.printRecords(rows)
}

func cmdGet(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("get", flag.ContinueOnError)
	if err := parseArgs(a, fs, args, 2, 2); err != nil {
		return err
	}
	t, err := a.table(fs.Arg(0))
	if err != nil {
		return err
	}
	key := codec.ParseValue(fs.Arg(1))
	r, found, err := t.FindByID(key)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%s: no record with %s %v", fs.Arg(0), t.PrimaryKey(), key)
	}
	return a.printRecords([]jsonldb.Record{r})
}

func cmdFind(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("find", flag.ContinueOnError)
	first := fs.Bool("first", false, "Print only the first match")
	if err := parseArgs(a, fs, args, 3, 3); err != nil {
		return err
	}
	t, err := a.table(fs.Arg(0))
	if err != nil {
		return err
	}
	field, value := fs.Arg(1), codec.ParseValue(fs.Arg(2))
	if *first {
		r, found, err := t.FindFirstBy(field, value)
		if err != nil || !found {
			return err
		}
		return a.printRecords([]jsonldb.Record{r})
	}
	rows, err := t.FindBy(field, value)
	if err != nil {
		return err
	}
	return a.printRecords(rows)
}

func cmdInsert(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("insert", flag.ContinueOnError)
	genID := fs.Bool("gen-id", false, "Generate a primary key for records without one")
	envelope := fs.Bool("envelope", false, "Records are codec envelopes instead of plain JSON")
	if err := parseArgs(a, fs, args, 2, -1); err != nil {
		return err
	}
	t, err := a.table(fs.Arg(0))
	if err != nil {
		return err
	}
	rows, err := a.readRecords(fs.Args()[1:], *envelope)
	if err != nil {
		return err
	}
	if *genID {
		for _, r := range rows {
			if v, ok := r[t.PrimaryKey()]; !ok || v == nil || v == "" {
				r[t.PrimaryKey()] = ksid.NewID().String()
			}
		}
	}
	if len(rows) == 1 {
		err = t.Insert(rows[0])
	} else {
		err = t.InsertMany(rows)
	}
	if err != nil {
		return err
	}
	return a.printRecords(rows)
}

func cmdUpdate(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("update", flag.ContinueOnError)
	envelope := fs.Bool("envelope", false, "Records are codec envelopes instead of plain JSON")
	if err := parseArgs(a, fs, args, 2, -1); err != nil {
		return err
	}
	t, err := a.table(fs.Arg(0))
	if err != nil {
		return err
	}
	partials, err := a.readRecords(fs.Args()[1:], *envelope)
	if err != nil {
		return err
	}
	for _, p := range partials {
		key, ok := p[t.PrimaryKey()]
		if !ok {
			return fmt.Errorf("%s: %w", fs.Arg(0), jsonldb.ErrMissingPrimaryKey)
		}
		if _, found, err := t.FindByID(key); err != nil {
			return err
		} else if !found {
			return fmt.Errorf("%s: no record with %s %v", fs.Arg(0), t.PrimaryKey(), key)
		}
	}
	if len(partials) == 1 {
		return t.Update(partials[0])
	}
	return t.UpdateMany(partials)
}

func cmdDelete(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("delete", flag.ContinueOnError)
	if err := parseArgs(a, fs, args, 2, -1); err != nil {
		return err
	}
	t, err := a.table(fs.Arg(0))
	if err != nil {
		return err
	}
	keys := make([]any, 0, fs.NArg()-1)
	for _, k := range fs.Args()[1:] {
		keys = append(keys, codec.ParseValue(k))
	}
	if len(keys) == 1 {
		return t.Delete(keys[0])
	}
	return t.DeleteMany(keys)
}

func cmdTruncate(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("truncate", flag.ContinueOnError)
	if err := parseArgs(a, fs, args, 1, 1); err != nil {
		return err
	}
	t, err := a.table(fs.Arg(0))
	if err != nil {
		return err
	}
	return t.Truncate()
}

func cmdColumns(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("columns", flag.ContinueOnError)
	if err := parseArgs(a, fs, args, 1, 1); err != nil {
		return err
	}
	t, err := a.table(fs.Arg(0))
	if err != nil {
		return err
	}
	cols, err := t.Columns()
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
	for _, c := range cols {
		fmt.Fprintf(w, "%s\t%s\n", c.Name, c.Type)
	}
	return w.Flush()
}

func cmdTables(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("tables", flag.ContinueOnError)
	if err := parseArgs(a, fs, args, 0, 0); err != nil {
		return err
	}
	w := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
	for _, name := range a.cfg.TableNames() {
		t, err := a.table(name)
		if err != nil {
			return err
		}
		n, err := t.Len()
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", name, t.PrimaryKey(), n, t.Path())
	}
	return w.Flush()
}

func cmdSchema(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("schema", flag.ContinueOnError)
	if err := parseArgs(a, fs, args, 0, 0); err != nil {
		return err
	}
	data, err := json.MarshalIndent(jsonldb.FormatSchema(), "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(a.stdout, "%s\n", data)
	return err
}

func cmdWatch(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	if err := parseArgs(a, fs, args, 1, 1); err != nil {
		return err
	}
	name := fs.Arg(0)
	t, err := a.table(name)
	if err != nil {
		return err
	}
	changed := make(chan struct{}, 1)
	if err := t.Watch(ctx, func() {
		select {
		case changed <- struct{}{}:
		default:
		}
	}); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-changed:
			n, err := t.Len()
			if err != nil {
				fmt.Fprintf(a.stdout, "%s %s: %v\n", time.Now().Format(time.TimeOnly), name, err)
				continue
			}
			fmt.Fprintf(a.stdout, "%s %s: %d records\n", time.Now().Format(time.TimeOnly), name, n)
		}
	}
}

func cmdHistory(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	n := fs.Int("n", 20, "Maximum number of commits")
	at := fs.String("at", "", "Print the table file at this commit instead")
	if err := parseArgs(a, fs, args, 1, 1); err != nil {
		return err
	}
	if a.hist == nil {
		return errors.New("history is disabled, set history.enabled in the configuration")
	}
	path, err := a.cfg.TablePath(fs.Arg(0))
	if err != nil {
		return err
	}
	if *at != "" {
		data, err := a.hist.FileAt(*at, path)
		if err != nil {
			return err
		}
		_, err = a.stdout.Write(data)
		return err
	}
	entries, err := a.hist.Log(path, *n)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
	for _, e := range entries {
		hash := e.Hash
		if len(hash) > 12 {
			hash = hash[:12]
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", hash, e.When.Local().Format(time.DateTime), e.Author, e.Message)
	}
	return w.Flush()
}

// readPassword reads one line from stdin, prompting when it is a terminal.
func (a *app) readPassword() (string, error) {
	if f, ok := a.stdin.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
		fmt.Fprint(a.stderr, "Password: ")
	}
	line, err := bufio.NewReader(a.stdin).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	pw := strings.TrimRight(line, "\r\n")
	if pw == "" {
		return "", errors.New("password is required")
	}
	return pw, nil
}

func cmdUserAdd(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("useradd", flag.ContinueOnError)
	if err := parseArgs(a, fs, args, 1, 1); err != nil {
		return err
	}
	repo, err := a.users()
	if err != nil {
		return err
	}
	pw, err := a.readPassword()
	if err != nil {
		return err
	}
	u, err := repo.Create(fs.Arg(0), pw)
	if err != nil {
		return err
	}
	return a.printRecords([]jsonldb.Record{u})
}

func cmdPasswd(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("passwd", flag.ContinueOnError)
	if err := parseArgs(a, fs, args, 1, 1); err != nil {
		return err
	}
	repo, err := a.users()
	if err != nil {
		return err
	}
	pw, err := a.readPassword()
	if err != nil {
		return err
	}
	return repo.SetPassword(fs.Arg(0), pw)
}

func cmdUserDel(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("userdel", flag.ContinueOnError)
	if err := parseArgs(a, fs, args, 1, 1); err != nil {
		return err
	}
	repo, err := a.users()
	if err != nil {
		return err
	}
	return repo.Delete(fs.Arg(0))
}

func cmdUsers(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("users", flag.ContinueOnError)
	if err := parseArgs(a, fs, args, 0, 0); err != nil {
		return err
	}
	repo, err := a.users()
	if err != nil {
		return err
	}
	list, err := repo.List()
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
	for _, u := range list {
		created := ""
		if t, ok := u[users.FieldCreated].(time.Time); ok {
			created = t.Local().Format(time.DateTime)
		}
		fmt.Fprintf(w, "%v\t%v\t%s\n", u[users.FieldUsername], u[users.FieldID], created)
	}
	return w.Flush()
}

func cmdVersion(ctx context.Context, a *app, args []string) error {
	printVersion(a.stdout)
	return nil
}
