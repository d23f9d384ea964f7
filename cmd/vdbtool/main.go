// Command-line tool for building, inspecting, transforming and storing
// sparse voxel trees.

package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"runtime"
	"runtime/pprof"
	"strings"
	"syscall"

	"github.com/janelia-flyem/sparsevdb/config"
	"github.com/janelia-flyem/sparsevdb/vdb"

	// Engines compiled into the tool.
	_ "github.com/janelia-flyem/sparsevdb/storage/badger"
	_ "github.com/janelia-flyem/sparsevdb/storage/filestore"
)

var (
	// Display usage if true.
	showHelp = flag.Bool("help", false, "")

	// Run in verbose mode if true.
	runVerbose = flag.Bool("verbose", false, "")

	// Path to TOML configuration.  Leave unset for an in-memory store.
	configFile = flag.String("config", "", "")

	// Profile CPU usage using standard gotest system.
	cpuprofile = flag.String("cpuprofile", "", "")

	// Number of worker goroutines for parallel tree operations.
	useCPU = flag.Int("numcpu", 0, "")
)

const helpMessage = `
vdbtool builds, inspects and transforms sparse voxel trees

Usage: vdbtool [options] <command>

      -config     =string   TOML configuration file.
      -cpuprofile =string   Write CPU profile to this file.
      -numcpu     =number   Number of workers for parallel tree operations.
      -verbose    (flag)    Run in verbose mode.
  -h, -help       (flag)    Show help message

Commands on tree files:

	about
	sphere <file> [radius=16] [center=0,0,0] [value=1]
	info   <file>
	count  <file> box=x0,y0,z0,x1,y1,z1
	dilate <input> <output> [iterations=N] [nn=face|face-edge|face-edge-vertex] [tiles=ignore|expand|preserve]
	erode  <input> <output> [iterations=N] [nn=...] [tiles=...]

Commands on the configured store:

	import <file> [name]
	export <name> <file>
	list
	delete <name>
`

var usage = func() {
	fmt.Print(helpMessage)
}

func main() {
	flag.BoolVar(showHelp, "h", false, "Show help message")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() >= 1 && strings.ToLower(flag.Args()[0]) == "help" {
		*showHelp = true
	}
	if *showHelp || flag.NArg() == 0 {
		flag.Usage()
		os.Exit(0)
	}

	cfg := config.Default()
	if *configFile != "" {
		var err error
		if cfg, err = config.Load(*configFile); err != nil {
			fmt.Fprintln(os.Stderr, err.Error())
			os.Exit(1)
		}
	}
	if *runVerbose {
		cfg.Logging.Level = "debug"
	}
	if *useCPU != 0 {
		cfg.Workers = *useCPU
	}
	if err := cfg.Apply(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
	runtime.GOMAXPROCS(vdb.NumWorkers)

	if *cpuprofile != "" {
		f, err := os.Create(*cpuprofile)
		if err != nil {
			log.Fatal(err)
		}
		pprof.StartCPUProfile(f)
		defer pprof.StopCPUProfile()
	}

	// Capture ctrl+c and other interrupts.  Long operations see the canceled
	// context and return early.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stopSig := make(chan os.Signal, 1)
	go func() {
		sig := <-stopSig
		log.Printf("Stop signal captured: %q.  Shutting down...\n", sig)
		cancel()
	}()
	signal.Notify(stopSig, os.Interrupt, syscall.SIGTERM)

	command := Command(flag.Args())
	if err := DoCommand(ctx, cfg, command); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		pprof.StopCPUProfile()
		os.Exit(1)
	}
}
