package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"text/tabwriter"
	"time"

	"github.com/ndlib/chunkkv"
	"github.com/ndlib/chunkkv/transport"
)

var (
	configFile = flag.String("config", "kvchunk.toml", "configuration file")
	ttl        = flag.Int64("ttl", 0, "seconds until a written value expires")
	expiration = flag.Int64("expiration", 0, "unix time at which a written value expires")
	repr       = flag.String("as", "binary", "how get prints a value: binary, text, json, stream")
	clean      = flag.Bool("clean", false, "put removes the blocks of the value it replaced")
	prefix     = flag.String("prefix", "", "list only keys with this prefix")
	cursor     = flag.String("cursor", "", "list starting from this cursor")
	limit      = flag.Int("limit", 0, "most keys to list")
	usage      = `
kvchunk <flags> <command> <command arguments>

Possible commands:
    get <key>
    put <key> [file]      (reads standard input if no file is given)
    delete <key>
    clean <manifest>
    list
    putmulti <file>       (a JSON list of {"key", "value", "expiration", "expiration_ttl"})
`
)

func main() {
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flag.PrintDefaults()
	}
	flag.Parse()
	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	fc, err := readConfigFile(*configFile)
	if err != nil {
		log.Fatalln(err)
	}
	config, err := fc.engineConfig()
	if err != nil {
		log.Fatalln(err)
	}
	engine, err := chunkkv.New(config)
	if err != nil {
		log.Fatalln(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt)
		<-sig
		cancel()
	}()

	switch {
	case args[0] == "get" && len(args) == 2:
		err = doget(ctx, engine, args[1])
	case args[0] == "put" && (len(args) == 2 || len(args) == 3):
		err = doput(ctx, engine, args[1], args[2:])
	case args[0] == "delete" && len(args) == 2:
		err = dodelete(ctx, engine, args[1])
	case args[0] == "clean" && len(args) == 2:
		err = engine.Clean(ctx, args[1])
	case args[0] == "list" && len(args) == 1:
		err = dolist(ctx, engine)
	case args[0] == "putmulti" && len(args) == 2:
		err = doputmulti(ctx, engine, args[1])
	default:
		flag.Usage()
		os.Exit(2)
	}
	cancel()
	if err != nil {
		if chunkkv.IsMissingBlocks(err) {
			log.Println("The value is damaged. Delete it and write it again.")
		}
		log.Fatalln(err)
	}
}

func putOptions() transport.PutOptions {
	return transport.PutOptions{Expiration: *expiration, ExpirationTTL: *ttl}
}

func doget(ctx context.Context, e *chunkkv.Engine, key string) error {
	rep, err := chunkkv.ParseRepresentation(*repr)
	if err != nil {
		return err
	}
	v, err := e.Get(ctx, key, rep)
	if err != nil {
		return err
	}
	if v == nil {
		return fmt.Errorf("%s: not found", key)
	}
	switch v := v.(type) {
	case []byte:
		os.Stdout.Write(v)
	case string:
		fmt.Println(v)
	case io.ReadCloser:
		io.Copy(os.Stdout, v)
		v.Close()
	default:
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	return nil
}

func doput(ctx context.Context, e *chunkkv.Engine, key string, files []string) error {
	var r io.Reader = os.Stdin
	if len(files) > 0 {
		f, err := os.Open(files[0])
		if err != nil {
			return err
		}
		defer f.Close()
		r = f
	}
	prior, err := e.Put(ctx, key, r, putOptions())
	if err != nil {
		return err
	}
	if prior == "" {
		return nil
	}
	if *clean {
		return e.Clean(ctx, prior)
	}
	fmt.Println("Replaced", prior)
	return nil
}

func dodelete(ctx context.Context, e *chunkkv.Engine, key string) error {
	existed, err := e.Delete(ctx, key)
	if err != nil {
		return err
	}
	if !existed {
		fmt.Println(key, "did not exist")
	}
	return nil
}

func dolist(ctx context.Context, e *chunkkv.Engine) error {
	result, err := e.List(ctx, transport.ListOptions{
		Prefix: *prefix,
		Cursor: *cursor,
		Limit:  *limit,
	})
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 5, 1, 3, ' ', 0)
	for _, k := range result.Keys {
		exp := "-"
		if k.Expiration > 0 {
			exp = time.Unix(k.Expiration, 0).Format(time.RFC3339)
		}
		fmt.Fprintf(w, "%s\t%s\n", k.Name, exp)
	}
	w.Flush()
	if result.Cursor != "" {
		fmt.Printf("(%d keys, more with -cursor %s)\n", result.Count, result.Cursor)
	}
	return nil
}

// multiEntry is one entry of a putmulti input file.
type multiEntry struct {
	Key           string `json:"key"`
	Value         string `json:"value"`
	Expiration    int64  `json:"expiration"`
	ExpirationTTL int64  `json:"expiration_ttl"`
}

func doputmulti(ctx context.Context, e *chunkkv.Engine, fname string) error {
	f, err := os.Open(fname)
	if err != nil {
		return err
	}
	defer f.Close()
	pairs, err := readPairs(f)
	if err != nil {
		return err
	}
	return e.PutMulti(ctx, pairs)
}

func readPairs(r io.Reader) ([]transport.Pair, error) {
	var entries []multiEntry
	err := json.NewDecoder(r).Decode(&entries)
	if err != nil {
		return nil, err
	}
	pairs := make([]transport.Pair, 0, len(entries))
	for _, entry := range entries {
		if entry.Key == "" {
			return nil, fmt.Errorf("entry with no key")
		}
		pairs = append(pairs, transport.Pair{
			Key:   entry.Key,
			Value: []byte(entry.Value),
			Options: transport.PutOptions{
				Expiration:    entry.Expiration,
				ExpirationTTL: entry.ExpirationTTL,
			},
		})
	}
	return pairs, nil
}
