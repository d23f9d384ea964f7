package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/DmitriyVTitov/size"
	"github.com/dustin/go-humanize"

	"github.com/janelia-flyem/sparsevdb/config"
	"github.com/janelia-flyem/sparsevdb/storage"
	"github.com/janelia-flyem/sparsevdb/stream"
	"github.com/janelia-flyem/sparsevdb/tree"
	"github.com/janelia-flyem/sparsevdb/vdb"
)

// DoCommand serves as a switchboard for commands, printing results to stdout.
func DoCommand(ctx context.Context, cfg *config.Config, cmd Command) error {
	w := bufio.NewWriter(os.Stdout)
	defer w.Flush()
	return runCommand(ctx, cfg, cmd, w)
}

func runCommand(ctx context.Context, cfg *config.Config, cmd Command, w io.Writer) error {
	if len(cmd) == 0 {
		return vdb.NewError(vdb.ValueError, "blank command")
	}
	switch cmd.Name() {
	case "about":
		fmt.Fprintf(w, "tree format %s\nstorage engines: %s\n", stream.FormatVersion, storage.EnginesAvailable())
		return nil
	case "sphere":
		return doSphere(cfg, cmd, w)
	case "info":
		return doInfo(cmd, w)
	case "count":
		return doCount(cmd, w)
	case "dilate", "erode":
		return doMorphology(ctx, cfg, cmd, w)
	case "import":
		return doImport(ctx, cfg, cmd, w)
	case "export":
		return doExport(ctx, cfg, cmd, w)
	case "list":
		return doList(cfg, w)
	case "delete":
		return doDelete(cfg, cmd, w)
	}
	return vdb.NewError(vdb.ValueError, "unknown command %q, try 'vdbtool help'", cmd.Name())
}

func readGridFile(filename string) (tree.Grid, stream.Header, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, stream.Header{}, vdb.WrapError(vdb.IoError, err, "opening %q", filename)
	}
	defer f.Close()
	return stream.ReadGrid(bufio.NewReader(f))
}

func writeGridFile(filename, name string, g tree.Grid, opts stream.Options) (stream.Header, error) {
	f, err := os.Create(filename)
	if err != nil {
		return stream.Header{}, vdb.WrapError(vdb.IoError, err, "creating %q", filename)
	}
	bw := bufio.NewWriter(f)
	h, err := stream.WriteGrid(bw, name, g, opts)
	if err == nil {
		err = bw.Flush()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return h, vdb.WrapError(vdb.IoError, err, "writing %q", filename)
	}
	return h, nil
}

func gridName(filename string) string {
	return strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
}

func doSphere(cfg *config.Config, cmd Command, w io.Writer) error {
	var filename string
	cmd.CommandArgs(&filename)
	if filename == "" {
		return vdb.NewError(vdb.ValueError, "sphere needs an output file")
	}
	radius, err := cmd.IntParameter("radius", 16)
	if err != nil {
		return err
	}
	center, err := cmd.CoordParameter("center", tree.Coord{})
	if err != nil {
		return err
	}
	value, err := cmd.FloatParameter("value", 1)
	if err != nil {
		return err
	}
	t, err := makeSphere(cfg.Tree, center, int32(radius), float32(value))
	if err != nil {
		return err
	}
	opts, err := cfg.Stream.Options()
	if err != nil {
		return err
	}
	h, err := writeGridFile(filename, gridName(filename), t, opts)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "wrote %s to %s\n", h, filename)
	return nil
}

// makeSphere returns a solid ball of active voxels, pruned so that constant
// interior regions become tiles.
func makeSphere(cfg tree.Config, center tree.Coord, radius int32, value float32) (*tree.Tree[float32], error) {
	if radius < 0 {
		return nil, vdb.NewError(vdb.ValueError, "negative sphere radius %d", radius)
	}
	t, err := tree.NewWithConfig[float32](0, cfg)
	if err != nil {
		return nil, err
	}
	acc := tree.NewAccessor(t)
	r2 := int64(radius) * int64(radius)
	tree.CreateCube(center.OffsetBy(-radius), 2*radius+1).ForEach(func(c tree.Coord) bool {
		d := c.Sub(center)
		if int64(d.X)*int64(d.X)+int64(d.Y)*int64(d.Y)+int64(d.Z)*int64(d.Z) <= r2 {
			acc.SetValue(c, value)
		}
		return true
	})
	t.Prune(0)
	return t, nil
}

func doInfo(cmd Command, w io.Writer) error {
	var filename string
	cmd.CommandArgs(&filename)
	if filename == "" {
		return vdb.NewError(vdb.ValueError, "info needs an input file")
	}
	g, h, err := readGridFile(filename)
	if err != nil {
		return err
	}
	printGrid(w, g, h)
	return nil
}

func printGrid(w io.Writer, g tree.Grid, h stream.Header) {
	fmt.Fprintf(w, "name:          %s\n", h.Name)
	fmt.Fprintf(w, "uuid:          %s\n", h.UUID)
	fmt.Fprintf(w, "format:        %s (%s)\n", h.Format, h.Compression)
	fmt.Fprintf(w, "created:       %s\n", humanize.Time(h.Created))
	fmt.Fprintf(w, "grid:          %s\n", g)
	fmt.Fprintf(w, "active voxels: %s\n", humanize.Comma(int64(g.ActiveVoxelCount())))
	fmt.Fprintf(w, "active bbox:   %s\n", g.EvalActiveVoxelBoundingBox())
	fmt.Fprintf(w, "memory:        %s estimated, %s measured\n",
		humanize.Bytes(g.MemUsage()), humanize.Bytes(uint64(size.Of(g))))
}

func doCount(cmd Command, w io.Writer) error {
	var filename string
	cmd.CommandArgs(&filename)
	if filename == "" {
		return vdb.NewError(vdb.ValueError, "count needs an input file")
	}
	box, err := cmd.BBoxParameter("box", tree.InfBBox())
	if err != nil {
		return err
	}
	g, _, err := readGridFile(filename)
	if err != nil {
		return err
	}
	n, err := countInBox(g, box)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "%d active voxels in %s\n", n, box)
	return nil
}

func doMorphology(ctx context.Context, cfg *config.Config, cmd Command, w io.Writer) error {
	var input, output string
	cmd.CommandArgs(&input, &output)
	if input == "" || output == "" {
		return vdb.NewError(vdb.ValueError, "%s needs input and output files", cmd.Name())
	}
	mc := cfg.Morphology
	if s, found := cmd.Parameter("nn"); found {
		mc.Neighbors = s
	}
	if s, found := cmd.Parameter("tiles"); found {
		mc.Tiles = s
	}
	nn, policy, err := mc.Options()
	if err != nil {
		return err
	}
	iterations, err := cmd.IntParameter("iterations", mc.Iterations)
	if err != nil {
		return err
	}
	opts, err := cfg.Stream.Options()
	if err != nil {
		return err
	}

	g, h, err := readGridFile(input)
	if err != nil {
		return err
	}
	before := g.ActiveVoxelCount()
	timedLog := vdb.NewTimeLog()
	if err := morph(ctx, g, cmd.Name() == "erode", iterations, nn, policy); err != nil {
		return err
	}
	timedLog.Infof("%s %q by %d with %s connectivity, %s tiles", cmd.Name(), h.Name, iterations, nn, policy)
	if _, err := writeGridFile(output, h.Name, g, opts); err != nil {
		return err
	}
	fmt.Fprintf(w, "%s: %d -> %d active voxels, wrote %s\n", cmd.Name(), before, g.ActiveVoxelCount(), output)
	return nil
}

func doImport(ctx context.Context, cfg *config.Config, cmd Command, w io.Writer) error {
	var filename, name string
	cmd.CommandArgs(&filename, &name)
	if filename == "" {
		return vdb.NewError(vdb.ValueError, "import needs an input file")
	}
	g, h, err := readGridFile(filename)
	if err != nil {
		return err
	}
	if name == "" {
		name = h.Name
	}
	opts, err := cfg.Stream.Options()
	if err != nil {
		return err
	}
	store, err := cfg.OpenStore()
	if err != nil {
		return err
	}
	defer store.Close()
	sh, err := stream.SaveGrid(ctx, store, name, g, opts)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "imported %s into %s\n", sh, store)
	return nil
}

func doExport(ctx context.Context, cfg *config.Config, cmd Command, w io.Writer) error {
	var name, filename string
	cmd.CommandArgs(&name, &filename)
	if name == "" || filename == "" {
		return vdb.NewError(vdb.ValueError, "export needs a grid name and an output file")
	}
	opts, err := cfg.Stream.Options()
	if err != nil {
		return err
	}
	store, err := cfg.OpenStore()
	if err != nil {
		return err
	}
	defer store.Close()
	g, _, err := stream.OpenGrid(ctx, store, name, true)
	if err != nil {
		return err
	}
	h, err := writeGridFile(filename, name, g, opts)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "exported %s to %s\n", h, filename)
	return nil
}

func doList(cfg *config.Config, w io.Writer) error {
	store, err := cfg.OpenStore()
	if err != nil {
		return err
	}
	defer store.Close()
	names, err := stream.ListGrids(store)
	if err != nil {
		return err
	}
	for _, name := range names {
		h, err := stream.GetHeader(store, name)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%-20s %-8s %10d leaves  %s\n", name, h.ValueType, h.Leaves, h.UUID)
	}
	return nil
}

func doDelete(cfg *config.Config, cmd Command, w io.Writer) error {
	var name string
	cmd.CommandArgs(&name)
	if name == "" {
		return vdb.NewError(vdb.ValueError, "delete needs a grid name")
	}
	store, err := cfg.OpenStore()
	if err != nil {
		return err
	}
	defer store.Close()
	if _, err := stream.GetHeader(store, name); err != nil {
		return err
	}
	if err := stream.Delete(store, name); err != nil {
		return err
	}
	fmt.Fprintf(w, "deleted %q from %s\n", name, store)
	return nil
}
