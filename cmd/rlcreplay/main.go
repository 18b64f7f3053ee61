// Command rlcreplay reassembles RLC SDUs from captured frames. Frames come
// from capture files given as arguments (pcap, pcapng or record streams),
// from a spool directory that is followed for new files, or from capture
// agents connecting over QUIC. The engine's results can be browsed over
// HTTP; with -http the command keeps serving after the replay until it is
// interrupted.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"avaneesh/rlc-go/internal/logger"
	"avaneesh/rlc-go/pkg/engine"
	"avaneesh/rlc-go/pkg/feed"
	"avaneesh/rlc-go/pkg/query"
)

type options struct {
	config string
	follow string
	listen string
	http   string
	port   uint
	dump   bool
	level  string
}

func main() {
	var opts options
	flag.StringVar(&opts.config, "config", "", "JSON engine configuration")
	flag.StringVar(&opts.follow, "follow", "", "spool directory to follow for new captures")
	flag.StringVar(&opts.listen, "listen", "", "QUIC address to accept capture agents on")
	flag.StringVar(&opts.http, "http", "", "address of the HTTP query API")
	flag.UintVar(&opts.port, "port", feed.DefaultPort, "UDP port carrying frame records in pcap captures (0 = any)")
	flag.BoolVar(&opts.dump, "dump", false, "print every completed SDU")
	flag.StringVar(&opts.level, "log", "", "log level (overrides the configuration)")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] [capture ...]\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() == 0 && opts.follow == "" && opts.listen == "" {
		flag.Usage()
		os.Exit(2)
	}

	if err := run(opts, flag.Args()); err != nil {
		fmt.Fprintf(os.Stderr, "rlcreplay: %v\n", err)
		os.Exit(1)
	}
}

func run(opts options, files []string) error {
	cfg := engine.DefaultConfig()
	if opts.config != "" {
		var err error
		if cfg, err = engine.LoadConfig(opts.config); err != nil {
			return err
		}
	}
	level := cfg.LogLevel
	if opts.level != "" {
		level = opts.level
	}
	if err := engine.SetLogLevelName(level); err != nil {
		return err
	}
	log := logger.Component("rlcreplay")

	eng, err := engine.New(cfg)
	if err != nil {
		return err
	}
	defer eng.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	eg, ctx := errgroup.WithContext(ctx)
	pipe := feed.NewPipe(1024)
	pcapOpts := feed.PcapOptions{Port: uint16(opts.port)}

	// Producers
	producers, pctx := errgroup.WithContext(ctx)
	if len(files) > 0 {
		producers.Go(func() error {
			return replayFiles(pctx, pipe, files, pcapOpts, log)
		})
	}
	if opts.follow != "" {
		producers.Go(func() error {
			return follow(pctx, pipe, opts.follow, pcapOpts, log)
		})
	}
	if opts.listen != "" {
		server, err := feed.ListenQUIC(feed.QUICConfig{Address: opts.listen})
		if err != nil {
			return err
		}
		producers.Go(func() error {
			<-pctx.Done()
			return server.Close()
		})
		producers.Go(func() error {
			_, err := pipe.Copy(pctx, server)
			return ignoreCancel(err)
		})
	}
	eg.Go(func() error {
		defer pipe.Close()
		return producers.Wait()
	})

	// Consumer
	eg.Go(func() error {
		var p feed.Processor = eng
		if opts.dump {
			p = dumper{eng}
		}
		st, err := feed.Drain(ctx, feed.Renumber(pipe), p, log)
		log.Info("replayed %d frames: %d SDUs completed, %d frames rejected", st.Frames, st.Completed, st.Failed)
		return ignoreCancel(err)
	})

	if opts.http != "" {
		server := query.NewServer(opts.http, eng, logger.Component("http"))
		eg.Go(func() error {
			log.Info("query API on %s", opts.http)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return errors.WithStack(err)
			}
			return nil
		})
		eg.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		})
	}

	err = eg.Wait()

	snap := eng.Stats()
	fmt.Printf("frames=%d control=%d duplicates=%d malformed=%d unresolved=%d sdus=%d orphans=%d gaps=%d\n",
		snap.Frames, snap.ControlFrames, snap.Duplicates, snap.Malformed, snap.MissingAddressing,
		snap.SDUs, snap.OrphanWarnings, snap.NonContiguousWarnings)
	return err
}

// replayFiles feeds the given captures, interleaved by capture time
func replayFiles(ctx context.Context, pipe *feed.Pipe, files []string, opts feed.PcapOptions, log logger.Logger) error {
	sources := make([]feed.Source, 0, len(files))
	for _, path := range files {
		src, err := feed.OpenFile(path, opts)
		if err != nil {
			return err
		}
		defer src.Close()
		sources = append(sources, src)
	}

	n, err := pipe.Copy(ctx, feed.Merge(sources...))
	log.Info("read %d frames from %d captures", n, len(files))
	return ignoreCancel(err)
}

// follow feeds every capture already in dir and then each new one
func follow(ctx context.Context, pipe *feed.Pipe, dir string, opts feed.PcapOptions, log logger.Logger) error {
	w, err := feed.WatchDir(dir, feed.ExtRecords, feed.ExtPcap, feed.ExtPcapNG)
	if err != nil {
		return err
	}
	defer w.Close()

	existing, err := w.Existing()
	if err != nil {
		return err
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error { return w.Run(ctx) })
	eg.Go(func() error {
		replay := func(path string) error {
			src, err := feed.OpenFile(path, opts)
			if err != nil {
				log.Warn("skip %s: %v", path, err)
				return nil
			}
			defer src.Close()
			n, err := pipe.Copy(ctx, src)
			log.Info("%s: %d frames", path, n)
			if err != nil && ctx.Err() == nil {
				log.Warn("%s: %v", path, err)
				return nil
			}
			return ignoreCancel(err)
		}

		for _, path := range existing {
			if err := replay(path); err != nil {
				return err
			}
		}
		for path := range w.Files() {
			if err := replay(path); err != nil {
				return err
			}
		}
		return nil
	})
	return ignoreCancel(eg.Wait())
}

// dumper prints SDUs as frames complete them
type dumper struct {
	*engine.Engine
}

func (d dumper) Process(f engine.Frame) (*engine.Result, error) {
	res, err := d.Engine.Process(f)
	if res != nil {
		for _, sdu := range res.SDUs {
			fmt.Printf("%s frames=%v %x\n", sdu, sdu.Frames, sdu.Data)
		}
	}
	return res, err
}

func ignoreCancel(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
