// Command slotpool exercises a slot pool from the command line.
package main

import (
	"fmt"
	"log"
	"log/slog"
	"os"

	"github.com/holmberd/go-slotpool"
	"github.com/urfave/cli/v2"
)

func main() {
	app := cli.App{
		Name:  "slotpool",
		Usage: "run workloads against a fixed-size slot pool",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to a YAML pool configuration",
				Value:   "slotpool.yaml",
				EnvVars: []string{slotpool.EnvPrefix + "_CONFIG_FILE"},
			},
			&cli.IntFlag{Name: "slot-size", Usage: "slot size in bytes (overrides config)"},
			&cli.IntFlag{Name: "slot-count", Usage: "slots per chunk (overrides config)"},
			&cli.BoolFlag{Name: "heap", Usage: "back chunks with the Go heap instead of mmap"},
			&cli.BoolFlag{Name: "verbose", Aliases: []string{"v"}, Usage: "log pool growth and reclamation"},
		},
		Commands: []*cli.Command{{
			Name:  "bench",
			Usage: "run a seeded random allocate/deallocate workload",
			Flags: []cli.Flag{
				&cli.IntFlag{Name: "ops", Value: 100000, Usage: "number of operations"},
				&cli.IntFlag{Name: "live", Value: 10000, Usage: "maximum number of live slots"},
				&cli.Int64Flag{Name: "seed", Value: 1, Usage: "random seed"},
			},
			Action: withPool(func(p *slotpool.Pool, ctx *cli.Context) error {
				res, err := runBench(p, benchOptions{
					Ops:  ctx.Int("ops"),
					Live: ctx.Int("live"),
					Seed: ctx.Int64("seed"),
				})
				if err != nil {
					return err
				}
				printBench(ctx.App.Writer, res)
				return nil
			}),
		}, {
			Name:  "scenario",
			Usage: "grow, release and reclaim a small pool step by step",
			Action: func(ctx *cli.Context) error {
				config, err := loadConfig(ctx)
				if err != nil {
					return err
				}
				config.SlotSize, config.SlotCount = 16, 2
				return runScenario(ctx.App.Writer, config)
			},
		}},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func loadConfig(ctx *cli.Context) (slotpool.Config, error) {
	config, err := slotpool.LoadConfigFile(ctx.String("config"), slotpool.EnvPrefix)
	if err != nil {
		return slotpool.Config{}, fmt.Errorf("loading config: %w", err)
	}
	if ctx.IsSet("slot-size") {
		config.SlotSize = ctx.Int("slot-size")
	}
	if ctx.IsSet("slot-count") {
		config.SlotCount = ctx.Int("slot-count")
	}
	if ctx.Bool("heap") {
		config.Allocator = slotpool.HeapAllocator{}
	}
	level := slog.LevelInfo
	if ctx.Bool("verbose") {
		level = slog.LevelDebug
	}
	config.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	return config, nil
}

func withPool(f func(*slotpool.Pool, *cli.Context) error) cli.ActionFunc {
	return func(ctx *cli.Context) error {
		config, err := loadConfig(ctx)
		if err != nil {
			return err
		}
		p, err := slotpool.Custom(config)
		if err != nil {
			return fmt.Errorf("creating pool: %w", err)
		}
		if err := f(p, ctx); err != nil {
			p.Destroy()
			return err
		}
		return p.Destroy()
	}
}
