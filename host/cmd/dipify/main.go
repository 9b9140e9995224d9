package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/cheggaaa/pb"
	"gonum.org/v1/gonum/spatial/r3"

	"deltastage/stage"
	"deltastage/stage/config"
	"deltastage/stage/gcode"
	"deltastage/stage/preview"
)

var (
	configPath  = flag.String("config", "", "Machine config file (.json or .yaml); its dipify section is used")
	progress    = flag.Bool("progress", false, "Show a progress bar on stderr when reading a file")
	previewPath = flag.String("preview", "", "Write a PNG scatter of the touch points")
	verbose     = flag.Bool("v", false, "Log every skipped or malformed line")
	scale       = flag.Float64("scale", 0, "Scale factor applied to all coordinates (overrides config)")
	segment     = flag.Float64("segment", 0, "Maximum sub-segment length (overrides config)")
	probeLimit  = flag.Int("probe-limit", -1, "Touches between dips, 0 disables dipping (overrides config)")
	uv          = flag.Bool("uv", false, "Enable UV exposure commands")
	layer       = flag.Float64("layer", 0, "Initial layer height in output units")
)

func usage() {
	fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] [input_file] [output_file]\n\n", os.Args[0])
	fmt.Fprintln(flag.CommandLine.Output(), "Rewrites G-code into short touch-down moves for a dip probe.")
	fmt.Fprintln(flag.CommandLine.Output(), "Reads stdin and writes stdout when files are not given.")
	fmt.Fprintln(flag.CommandLine.Output())
	flag.PrintDefaults()
}

func main() {
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() > 2 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := segmenterConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if err := run(cfg, flag.Arg(0), flag.Arg(1)); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg stage.SegmenterConfig, inPath, outPath string) error {
	var in io.Reader = os.Stdin
	if inPath != "" && inPath != "-" {
		f, err := os.Open(inPath)
		if err != nil {
			return err
		}
		defer f.Close()
		in = f

		if *progress {
			info, err := f.Stat()
			if err != nil {
				return err
			}
			bar := pb.New64(info.Size()).SetUnits(pb.U_BYTES)
			bar.Output = os.Stderr
			bar.Start()
			defer bar.Finish()
			in = bar.NewProxyReader(f)
		}
	}

	var out io.Writer = os.Stdout
	if outPath != "" && outPath != "-" {
		f, err := os.Create(outPath)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}

	logf := func(string, ...interface{}) {}
	if *verbose {
		logf = log.Printf
	}

	var touches preview.Collector
	seg, err := gcode.New(cfg, gcode.WithLogger(logf), gcode.WithTrace(touches.Add))
	if err != nil {
		return err
	}

	stats, err := seg.Process(in, out)
	if err != nil {
		return err
	}

	if stats.ParseErrors > 0 {
		log.Printf("dipify: %d malformed lines passed through unchanged", stats.ParseErrors)
	}
	if *verbose {
		log.Printf("dipify: %d lines in, %d out, %d touches, %d dips, %d exposures, %d layers",
			stats.Lines, stats.Output, stats.Touches, stats.Dips, stats.Exposures, stats.Layers)
	}

	if *previewPath != "" {
		res := r3.Vec{X: cfg.Reservoir.X, Y: cfg.Reservoir.Y, Z: cfg.Reservoir.Z}
		if err := preview.Render(*previewPath, touches.Points, preview.Options{Reservoir: &res}); err != nil {
			return err
		}
	}
	return nil
}

// segmenterConfig loads the dipify section and applies flag overrides
func segmenterConfig() (stage.SegmenterConfig, error) {
	cfg := config.DefaultSegmenterConfig()
	if *configPath != "" {
		machine, err := config.LoadFile(*configPath)
		if err != nil {
			return cfg, err
		}
		cfg = machine.Dipify
	}

	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "scale":
			cfg.ScaleFactor = *scale
		case "segment":
			cfg.SegmentLength = *segment
		case "probe-limit":
			cfg.ProbePointLimit = *probeLimit
		case "uv":
			cfg.UVEnabled = *uv
		case "layer":
			cfg.InitialLayer = *layer
		}
	})

	return cfg, config.ValidateSegmenter(cfg)
}
