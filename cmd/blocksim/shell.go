package main

import (
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"sort"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/KevoDB/blocksim/pkg/block"
	"github.com/KevoDB/blocksim/pkg/common/iterator"
	"github.com/KevoDB/blocksim/pkg/common/iterator/bounded"
	"github.com/KevoDB/blocksim/pkg/common/iterator/filtered"
	"github.com/KevoDB/blocksim/pkg/dbms"
	"github.com/KevoDB/blocksim/pkg/operation/tpmms"
	"github.com/KevoDB/blocksim/pkg/relation"
	"github.com/KevoDB/blocksim/pkg/relation/csvio"
	"github.com/KevoDB/blocksim/pkg/schema"
)

var errExit = errors.New("exit")

// shell executes one command line at a time against a block store
type shell struct {
	db   *dbms.DBMS
	out  io.Writer
	last block.Cost
}

func newShell(db *dbms.DBMS, out io.Writer) *shell {
	return &shell{db: db, out: out}
}

// execute runs one command line. The I/O cost of the command is kept for .cost.
func (s *shell) execute(line string) error {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return nil
	}
	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	switch cmd {
	case ".help":
		fmt.Fprint(s.out, helpText)
		return nil
	case ".exit", ".quit":
		return errExit
	case ".config":
		return s.showConfig()
	case ".cost":
		fmt.Fprintf(s.out, "Last command: %s\n", s.last)
		return nil
	case ".stats":
		return s.showStats()
	case ".list":
		return s.list()
	}

	handler, ok := map[string]func([]string) error{
		".create":   s.create,
		".load":     s.load,
		".save":     s.save,
		".gen":      s.generate,
		".print":    s.print,
		".select":   s.selectRange,
		".drop":     s.drop,
		".estimate": s.estimate,
		".sort":     s.sort,
	}[cmd]
	if !ok {
		return fmt.Errorf("unknown command %q, enter .help for usage hints", parts[0])
	}

	cost, err := s.db.TrackIOCost(func() error {
		return handler(args)
	})
	s.last = cost
	return err
}

func (s *shell) create(args []string) error {
	if len(args) != 2 {
		return errors.New("usage: .create NAME TYPES")
	}
	columns, err := schema.ParseColumnDefinition(args[1])
	if err != nil {
		return err
	}
	if _, err := s.db.CreateNamedRelation(args[0], columns); err != nil {
		return err
	}
	fmt.Fprintf(s.out, "Created %s(%s)\n", args[0], columns)
	return nil
}

func (s *shell) load(args []string) error {
	if len(args) < 2 || len(args) > 3 {
		return errors.New("usage: .load NAME FILE [header]")
	}
	rel, err := s.db.Relation(args[0])
	if err != nil {
		return err
	}
	count, err := csvio.LoadFile(rel, args[1], csvOptions(args[2:])...)
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "Loaded %d tuples into %s (%d blocks)\n", count, args[0], rel.EstimatedBlockCount())
	return nil
}

func (s *shell) save(args []string) error {
	if len(args) < 2 || len(args) > 3 {
		return errors.New("usage: .save NAME FILE [header]")
	}
	rel, err := s.db.Relation(args[0])
	if err != nil {
		return err
	}
	return csvio.WriteFile(args[1], rel, csvOptions(args[2:])...)
}

func csvOptions(flags []string) []csvio.Option {
	var opts []csvio.Option
	for _, f := range flags {
		if strings.EqualFold(f, "header") {
			opts = append(opts, csvio.WithHeader())
		}
	}
	return opts
}

func (s *shell) generate(args []string) error {
	if len(args) < 2 || len(args) > 3 {
		return errors.New("usage: .gen NAME COUNT [SEED]")
	}
	rel, err := s.db.Relation(args[0])
	if err != nil {
		return err
	}
	count, err := strconv.Atoi(args[1])
	if err != nil || count < 0 {
		return fmt.Errorf("invalid count %q", args[1])
	}
	seed := uint64(1)
	if len(args) == 3 {
		if seed, err = strconv.ParseUint(args[2], 10, 64); err != nil {
			return fmt.Errorf("invalid seed %q", args[2])
		}
	}

	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	columns := rel.Columns()
	err = relation.Fill(rel, func(out *relation.BlockOutput) error {
		for i := 0; i < count; i++ {
			t := columns.CreateTuple()
			for c := 0; c < columns.Len(); c++ {
				if err := t.Set(c, randomValue(rng, columns.Type(c))); err != nil {
					return err
				}
			}
			if err := out.Add(t); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "Generated %d tuples into %s (%d blocks)\n", count, args[0], rel.EstimatedBlockCount())
	return nil
}

func randomValue(rng *rand.Rand, typ schema.ColumnType) any {
	switch typ {
	case schema.Integer:
		return rng.Int64N(1000)
	case schema.Double:
		return rng.Float64()*2000 - 1000
	default:
		b := make([]byte, 8)
		for i := range b {
			b[i] = byte('a' + rng.IntN(26))
		}
		return string(b)
	}
}

func (s *shell) list() error {
	names := s.db.RelationNames()
	if len(names) == 0 {
		fmt.Fprintln(s.out, "No relations")
		return nil
	}
	for _, name := range names {
		rel, err := s.db.Relation(name)
		if err != nil {
			return err
		}
		fmt.Fprintf(s.out, "%s(%s): %d blocks\n", name, rel.Columns(), rel.EstimatedBlockCount())
	}
	return nil
}

func (s *shell) print(args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return errors.New("usage: .print NAME [LIMIT]")
	}
	rel, err := s.db.Relation(args[0])
	if err != nil {
		return err
	}
	limit := -1
	if len(args) == 2 {
		if limit, err = strconv.Atoi(args[1]); err != nil || limit < 0 {
			return fmt.Errorf("invalid limit %q", args[1])
		}
	}
	return s.printTuples(bounded.NewBoundedIterator(relation.NewTupleIterator(rel), limit))
}

func (s *shell) selectRange(args []string) error {
	if len(args) != 4 {
		return errors.New("usage: .select NAME COL LOW HIGH")
	}
	rel, err := s.db.Relation(args[0])
	if err != nil {
		return err
	}
	columns := rel.Columns()
	col, err := parseColumn(columns, args[1])
	if err != nil {
		return err
	}
	lower, err := boundTuple(columns, col, args[2])
	if err != nil {
		return err
	}
	upper, err := boundTuple(columns, col, args[3])
	if err != nil {
		return err
	}
	return s.printTuples(filtered.NewColumnRangeIterator(relation.NewTupleIterator(rel), columns, col, lower, upper))
}

// boundTuple builds a tuple holding text in column col, or nil for "*"
func boundTuple(columns *schema.ColumnDefinition, col int, text string) (*schema.Tuple, error) {
	if text == "*" {
		return nil, nil
	}
	v, err := columns.ParseValue(col, text)
	if err != nil {
		return nil, err
	}
	t := columns.CreateTuple()
	if err := t.Set(col, v); err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *shell) printTuples(it iterator.Iterator) error {
	defer it.Close()

	count := 0
	for it.SeekToFirst(); it.Valid(); it.Next() {
		fmt.Fprintln(s.out, it.Tuple())
		count++
	}
	if err := it.Err(); err != nil {
		return err
	}
	fmt.Fprintf(s.out, "%d tuples\n", count)
	return nil
}

func (s *shell) drop(args []string) error {
	if len(args) != 1 {
		return errors.New("usage: .drop NAME")
	}
	if err := s.db.DropRelation(args[0]); err != nil {
		return err
	}
	fmt.Fprintf(s.out, "Dropped %s\n", args[0])
	return nil
}

func (s *shell) newSort(columns *schema.ColumnDefinition, text string) (*tpmms.TPMMS, error) {
	col, err := parseColumn(columns, text)
	if err != nil {
		return nil, err
	}
	return tpmms.New(s.db.BlockManager(), col,
		tpmms.WithLogger(s.db.Logger().WithField("component", "tpmms")),
		tpmms.WithTelemetry(s.db.Telemetry()),
	), nil
}

func (s *shell) estimate(args []string) error {
	if len(args) != 2 {
		return errors.New("usage: .estimate NAME COL")
	}
	rel, err := s.db.Relation(args[0])
	if err != nil {
		return err
	}
	sorter, err := s.newSort(rel.Columns(), args[1])
	if err != nil {
		return err
	}

	blocks := rel.EstimatedBlockCount()
	fmt.Fprintf(s.out, "Estimated I/O cost: %d (%d blocks)\n", sorter.EstimatedIOCost(rel), blocks)
	if runs, err := sorter.Runs(blocks); err != nil {
		fmt.Fprintf(s.out, "Not sortable: %s\n", err)
	} else {
		fmt.Fprintf(s.out, "Runs: %d\n", runs)
	}
	return nil
}

func (s *shell) sort(args []string) error {
	if len(args) != 3 {
		return errors.New("usage: .sort IN OUT COL")
	}
	input, err := s.db.Relation(args[0])
	if err != nil {
		return err
	}
	sorter, err := s.newSort(input.Columns(), args[2])
	if err != nil {
		return err
	}
	output, err := s.db.CreateNamedRelation(args[1], input.Columns())
	if err != nil {
		return err
	}

	if err := sorter.Execute(input, output); err != nil {
		if dropErr := s.db.DropRelation(args[1]); dropErr != nil {
			err = errors.Join(err, dropErr)
		}
		return err
	}
	fmt.Fprintf(s.out, "Sorted %s by column %d into %s (%d blocks)\n",
		args[0], sorter.SortColumn(), args[1], output.EstimatedBlockCount())
	return nil
}

func parseColumn(columns *schema.ColumnDefinition, text string) (int, error) {
	col, err := strconv.Atoi(text)
	if err != nil || col < 0 || col >= columns.Len() {
		return 0, fmt.Errorf("invalid column %q for %s", text, columns)
	}
	return col, nil
}

func (s *shell) showConfig() error {
	cfg := s.db.Config()
	fmt.Fprintf(s.out, "Total blocks:     %d\n", cfg.TotalBlocks)
	fmt.Fprintf(s.out, "Block capacity:   %d tuples\n", cfg.BlockCapacity)
	fmt.Fprintf(s.out, "Medium codec:     %s\n", cfg.MediumCodec)
	fmt.Fprintf(s.out, "Verify checksums: %t\n", cfg.VerifyChecksums)
	fmt.Fprintf(s.out, "Image cache:      %s\n", humanize.IBytes(uint64(max(cfg.ImageCacheBytes, 0))))
	return nil
}

func (s *shell) showStats() error {
	stats := s.db.GetStats()

	getUint64 := func(key string) uint64 {
		switch v := stats[key].(type) {
		case uint64:
			return v
		case int64:
			return uint64(v)
		case int:
			return uint64(v)
		default:
			return 0
		}
	}

	fmt.Fprintln(s.out, "Blocks:")
	fmt.Fprintf(s.out, "  Resident: %d of %d (peak %d)\n",
		getUint64("used_blocks"), getUint64("total_blocks"), getUint64("peak_resident_blocks"))
	fmt.Fprintf(s.out, "  Allocations: %d, Loads: %d, Stores: %d, Handoffs: %d\n",
		getUint64("allocate_ops"), getUint64("load_ops"), getUint64("store_ops"), getUint64("handoff_ops"))

	fmt.Fprintln(s.out, "\nI/O cost:")
	fmt.Fprintf(s.out, "  Input: %d, Output: %d\n", getUint64("input_cost"), getUint64("output_cost"))

	fmt.Fprintln(s.out, "\nMedium:")
	fmt.Fprintf(s.out, "  Images: %d\n", getUint64("medium_images"))
	fmt.Fprintf(s.out, "  Raw size: %s, Stored size: %s\n",
		humanize.IBytes(getUint64("medium_raw_bytes")), humanize.IBytes(getUint64("medium_stored_bytes")))
	fmt.Fprintf(s.out, "  Bytes read: %s, Bytes written: %s\n",
		humanize.IBytes(getUint64("total_bytes_read")), humanize.IBytes(getUint64("total_bytes_written")))

	if last, ok := stats["last_sort"].(map[string]interface{}); ok && last["runs"].(uint64) > 0 {
		fmt.Fprintln(s.out, "\nLast sort:")
		fmt.Fprintf(s.out, "  Runs: %d, Blocks read: %d, Blocks written: %d\n",
			last["runs"], last["blocks_read"], last["blocks_written"])
		if d, ok := last["duration_us"].(int64); ok {
			fmt.Fprintf(s.out, "  Duration: %dus\n", d)
		}
	}

	if errs, ok := stats["errors"].(map[string]uint64); ok && len(errs) > 0 {
		fmt.Fprintln(s.out, "\nErrors:")
		keys := make([]string, 0, len(errs))
		for k := range errs {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(s.out, "  %s: %d\n", k, errs[k])
		}
	}
	return nil
}
