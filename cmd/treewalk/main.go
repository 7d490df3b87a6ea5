// treewalk walks a directory tree in parallel, prints the result, and
// reads/writes portable on-disk caches of the gathered metadata.
//
// Usage:
//
//	treewalk [flags] <path>      walk a tree (readdir mode by default)
//	treewalk [flags] -i FILE     read a cache file instead of walking
package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/disiqueira/gotree/v3"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/fruitsalade/treewalk/internal/config"
	"github.com/fruitsalade/treewalk/internal/logging"
	"github.com/fruitsalade/treewalk/internal/metrics"
	"github.com/fruitsalade/treewalk/pkg/comm"
	"github.com/fruitsalade/treewalk/pkg/flist"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "configuration error:", err)
		os.Exit(2)
	}

	statMode := flag.Bool("stat", false, "stat every path (detailed records, name tables)")
	procs := flag.Int("procs", cfg.Procs, "number of participants")
	outFile := flag.String("o", "", "write a cache file after the walk")
	inFile := flag.String("i", "", "read a cache file instead of walking")
	doPrint := flag.Bool("print", false, "print records")
	doTree := flag.Bool("tree", false, "render records as a tree")
	logLevel := flag.String("v", cfg.LogLevel, "log level (debug, info, warn, error)")
	flag.Parse()

	if err := logging.Init(logging.Config{Level: *logLevel, Format: cfg.LogFormat}); err != nil {
		fmt.Fprintln(os.Stderr, "logging init error:", err)
		os.Exit(2)
	}
	defer logging.Sync()

	root := flag.Arg(0)
	if *inFile == "" && root == "" {
		fmt.Fprintln(os.Stderr, "usage: treewalk [flags] <path>")
		flag.PrintDefaults()
		os.Exit(2)
	}

	if cfg.MetricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.Handler())
			logging.Info("metrics server listening", zap.String("addr", cfg.MetricsAddr))
			if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
				logging.Error("metrics server error", zap.Error(err))
			}
		}()
	}

	start := time.Now()
	err = comm.Run(*procs, func(c *comm.Comm) error {
		var l *flist.List
		if *inFile != "" {
			var err error
			l, err = flist.ReadCache(c, *inFile)
			if err != nil {
				return err
			}
		} else {
			l = flist.WalkPath(c, root, *statMode)
		}

		if *outFile != "" {
			if err := l.WriteCache(*outFile); err != nil {
				return err
			}
		}

		switch {
		case *doTree:
			printTree(c, l)
		case *doPrint:
			printRecords(c, l)
		}

		if c.Rank() == 0 {
			logging.Info("list complete",
				zap.Uint64("total_files", l.GlobalSize()),
				zap.Int("min_depth", l.MinDepth()),
				zap.Int("max_depth", l.MaxDepth()),
				zap.Bool("detail", l.HaveDetail()),
				zap.Duration("elapsed", time.Since(start)))
		}
		return nil
	})
	if err != nil {
		logging.Fatal("job failed", zap.Error(err))
	}
}

// printRecords prints every shard in rank order, one record per line.
func printRecords(c *comm.Comm, l *flist.List) {
	for r := 0; r < c.Size(); r++ {
		if c.Rank() == r {
			for i := 0; i < int(l.LocalSize()); i++ {
				printRecord(l, i)
			}
		}
		c.Barrier()
	}
}

func printRecord(l *flist.List, i int) {
	path, err := l.FileName(i)
	if err != nil {
		return
	}
	if !l.HaveDetail() {
		typ, _ := l.FileType(i)
		fmt.Printf("%-7s %s\n", typ, path)
		return
	}
	mode, _ := l.FileMode(i)
	size, _ := l.FileSize(i)
	mtime, _ := l.FileMtime(i)
	user, uerr := l.FileUsername(i)
	if uerr != nil {
		user = "?"
	}
	group, gerr := l.FileGroupname(i)
	if gerr != nil {
		group = "?"
	}
	when := time.Unix(int64(mtime), 0).Format("2006-01-02 15:04")
	fmt.Printf("%06o %8s %8s %12d %s %s\n", mode, user, group, size, when, path)
}

// printTree gathers every shard's paths on rank 0 and renders them. A
// terminal gets a tree; anything else gets plain sorted paths.
func printTree(c *comm.Comm, l *flist.List) {
	var local []string
	for i := 0; i < int(l.LocalSize()); i++ {
		if path, err := l.FileName(i); err == nil {
			local = append(local, path)
		}
	}
	blobs := c.GatherBytes([]byte(strings.Join(local, "\n")), 0)
	if c.Rank() != 0 {
		return
	}

	var paths []string
	for _, b := range blobs {
		for _, p := range strings.Split(string(b), "\n") {
			if p != "" {
				paths = append(paths, p)
			}
		}
	}
	sort.Strings(paths)

	if !term.IsTerminal(int(os.Stdout.Fd())) {
		for _, p := range paths {
			fmt.Println(p)
		}
		return
	}
	fmt.Print(renderTree(paths))
}

// renderTree builds a visual tree from sorted absolute paths. The
// shortest path becomes the root; anything whose parent was not walked
// hangs off the root under its full path.
func renderTree(paths []string) string {
	if len(paths) == 0 {
		return ""
	}
	root := gotree.New(paths[0])
	nodes := map[string]gotree.Tree{paths[0]: root}
	for _, p := range paths[1:] {
		if _, ok := nodes[p]; ok {
			continue
		}
		if parent, ok := nodes[filepath.Dir(p)]; ok {
			nodes[p] = parent.Add(filepath.Base(p))
		} else {
			nodes[p] = root.Add(p)
		}
	}
	return root.Print()
}
