package main

import (
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"pagedb"
)

var benchSchema = []pagedb.Attribute{
	{Name: "id", Type: pagedb.TypeInteger, PrimaryKey: true, Unique: true},
	{Name: "name", Type: pagedb.TypeVarchar, MaxLength: 32},
	{Name: "score", Type: pagedb.TypeDouble, Nullable: true},
}

type benchResult struct {
	worker  int
	records int
	pages   int
	elapsed time.Duration
}

func newBenchCmd(f *flags, out, stderr io.Writer) *cobra.Command {
	var (
		workers int
		records int
		seed    int64
	)
	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Insert random records into independent databases in parallel",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := f.resolve(cmd)
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg.Log, stderr)
			if err != nil {
				return err
			}
			opts, err := cfg.options(logger)
			if err != nil {
				return err
			}
			dir, err := os.MkdirTemp("", "pagedb-bench-")
			if err != nil {
				return err
			}
			defer os.RemoveAll(dir)

			results, err := runBench(dir, opts, workers, records, seed)
			if err != nil {
				return err
			}
			for _, r := range results {
				fmt.Fprintf(out, "worker %d: %d records, %d pages, %s (%.0f inserts/s)\n",
					r.worker, r.records, r.pages, r.elapsed.Round(time.Millisecond),
					float64(r.records)/r.elapsed.Seconds())
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&workers, "workers", 2, "independent databases to load in parallel")
	cmd.Flags().IntVar(&records, "records", 1000, "records per worker")
	cmd.Flags().Int64Var(&seed, "seed", 1, "random seed for key order")
	return cmd
}

// runBench loads one database per worker under dir. Workers share no files or
// buffers, which is what makes running them in parallel safe.
func runBench(dir string, opts *pagedb.Options, workers, records int, seed int64) ([]benchResult, error) {
	if workers < 1 || records < 1 {
		return nil, errors.New("workers and records must be positive")
	}
	results := make([]benchResult, workers)
	var g errgroup.Group
	for w := 0; w < workers; w++ {
		w := w
		g.Go(func() error {
			root := filepath.Join(dir, "worker-"+strconv.Itoa(w))
			r, err := benchWorker(root, opts, records, rand.New(rand.NewSource(seed+int64(w))))
			if err != nil {
				return errors.Wrapf(err, "worker %d", w)
			}
			r.worker = w
			results[w] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func benchWorker(root string, opts *pagedb.Options, records int, rnd *rand.Rand) (res benchResult, err error) {
	sm, err := pagedb.Open(root, opts)
	if err != nil {
		return res, err
	}
	defer func() {
		if cerr := sm.Close(); err == nil {
			err = cerr
		}
	}()

	const tableID = 1
	start := time.Now()
	for _, k := range rnd.Perm(records) {
		rec := pagedb.Record{
			pagedb.Int(int32(k)),
			pagedb.Varchar("name-" + strconv.Itoa(k)),
			pagedb.Double(rnd.Float64()),
		}
		if _, err := sm.InsertRecord(tableID, benchSchema, rec); err != nil {
			return res, err
		}
	}
	if err := sm.Flush(); err != nil {
		return res, err
	}
	res.elapsed = time.Since(start)
	res.records = records
	if res.pages, err = sm.PageCount(tableID); err != nil {
		return res, err
	}
	log.WithFields(log.Fields{"root": root, "pages": res.pages}).Debug("bench worker done")
	return res, nil
}
