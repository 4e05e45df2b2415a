package main

import (
	"fmt"
	"io"
	"time"

	"github.com/koustreak/hcpfetch/internal/config"
	"github.com/koustreak/hcpfetch/internal/errs"
	"github.com/koustreak/hcpfetch/internal/filestore"
	"github.com/koustreak/hcpfetch/internal/hcp"
	"github.com/koustreak/hcpfetch/internal/logger"
	"github.com/koustreak/hcpfetch/internal/server"
	"github.com/urfave/cli/v2"
)

// runtime is what the Before hook builds for every command.
type runtime struct {
	cfg    *config.Config
	log    *logger.Logger
	store  filestore.Store
	client *hcp.Client
}

func newApp(stdout, stderr io.Writer, open storeOpener) *cli.App {
	rt := &runtime{}

	app := &cli.App{
		Name:      "hcpfetch",
		Usage:     "browse and download the HCP open-access bucket",
		Writer:    stdout,
		ErrWriter: stderr,
		// main decides the exit status.
		ExitErrHandler: func(*cli.Context, error) {},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "YAML config file",
				EnvVars: []string{"HCP_CONFIG"},
			},
			&cli.StringFlag{
				Name:  "env-file",
				Usage: "dotenv file to load before reading HCP_* variables",
				Value: ".env",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "debug, info, warn or error",
			},
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "console or json",
			},
			&cli.StringFlag{
				Name:    "bucket",
				Aliases: []string{"b"},
				Usage:   "bucket to read from",
			},
		},
		Commands: []*cli.Command{
			bucketsCommand(rt),
			existsCommand(rt),
			lsCommand(rt),
			getCommand(rt),
			downloadCommand(rt),
			urlCommand(rt),
			serveCommand(rt),
		},
	}

	// Per-command hooks run after urfave/cli has handled -h/--help.
	for _, cmd := range app.Commands {
		cmd.Before = func(c *cli.Context) error { return rt.setup(c, stderr, open) }
		cmd.After = rt.teardown
	}
	return app
}

// setup loads config and builds the logger, store and client.
func (rt *runtime) setup(c *cli.Context, stderr io.Writer, open storeOpener) error {
	cfg, err := config.Load(config.LoadOptions{
		File:    c.String("config"),
		EnvFile: c.String("env-file"),
	})
	if err != nil {
		return err
	}
	if v := c.String("log-level"); v != "" {
		cfg.Log.Level = v
	}
	if v := c.String("log-format"); v != "" {
		cfg.Log.Format = v
	}
	if v := c.String("bucket"); v != "" {
		cfg.Client.Bucket = v
	}

	rt.cfg = cfg
	rt.log = logger.New(cfg.Logger(stderr))

	store, err := open(c.Context, cfg.FileStore())
	if err != nil {
		return err
	}
	rt.store = store
	rt.client = hcp.New(store, append(cfg.ClientOptions(), hcp.WithLogger(rt.log))...)
	return nil
}

func (rt *runtime) teardown(*cli.Context) error {
	if rt.store != nil {
		return rt.store.Close()
	}
	return nil
}

func requireArg(c *cli.Context, name string) (string, error) {
	if c.Args().Len() < 1 || c.Args().First() == "" {
		return "", errs.Newf(errs.ErrKindInvalidInput, "missing %s argument", name)
	}
	return c.Args().First(), nil
}

func bucketsCommand(rt *runtime) *cli.Command {
	return &cli.Command{
		Name:  "buckets",
		Usage: "list the buckets visible to the configured credentials",
		Action: func(c *cli.Context) error {
			names, err := rt.client.ListBuckets(c.Context)
			if err != nil {
				return err
			}
			for _, n := range names {
				fmt.Fprintln(c.App.Writer, n)
			}
			return nil
		},
	}
}

func existsCommand(rt *runtime) *cli.Command {
	return &cli.Command{
		Name:      "exists",
		Usage:     "check whether an object exists (exit status 1 when it does not)",
		ArgsUsage: "KEY",
		Action: func(c *cli.Context) error {
			key, err := requireArg(c, "KEY")
			if err != nil {
				return err
			}
			ok, err := rt.client.Exists(c.Context, key)
			if err != nil {
				return err
			}
			fmt.Fprintln(c.App.Writer, ok)
			if !ok {
				return cli.Exit("", 1)
			}
			return nil
		},
	}
}

func lsCommand(rt *runtime) *cli.Command {
	return &cli.Command{
		Name:      "ls",
		Usage:     "list keys, or one level of prefixes with --delimiter",
		ArgsUsage: "[PREFIX]",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "delimiter",
				Aliases: []string{"d"},
				Usage:   "list the next hierarchy level only",
			},
			&cli.BoolFlag{
				Name:  "no-trailing-slash",
				Usage: "do not append / to the prefix in delimiter mode",
			},
			&cli.IntFlag{
				Name:  "max-keys",
				Usage: "maximum entries to return (1-1000)",
			},
			&cli.BoolFlag{
				Name:    "all",
				Aliases: []string{"a"},
				Usage:   "follow every listing page; --max-keys is ignored",
			},
		},
		Action: func(c *cli.Context) error {
			opts := []hcp.CallOption{
				hcp.Delimiter(c.Bool("delimiter")),
				hcp.TrailingSlash(!c.Bool("no-trailing-slash")),
			}
			if c.IsSet("max-keys") {
				opts = append(opts, hcp.MaxKeys(c.Int("max-keys")))
			}

			list := rt.client.ListObjects
			if c.Bool("all") {
				list = rt.client.ListAll
			}
			entries, err := list(c.Context, c.Args().First(), opts...)
			if err != nil {
				return err
			}
			for _, e := range entries {
				fmt.Fprintln(c.App.Writer, e)
			}
			return nil
		},
	}
}

func getCommand(rt *runtime) *cli.Command {
	return &cli.Command{
		Name:      "get",
		Usage:     "fetch one object to a file or stdout",
		ArgsUsage: "KEY",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "out",
				Aliases: []string{"o"},
				Usage:   "write to this file instead of stdout",
			},
		},
		Action: func(c *cli.Context) error {
			key, err := requireArg(c, "KEY")
			if err != nil {
				return err
			}
			obj, found, err := rt.client.GetObject(c.Context, key)
			if err != nil {
				return err
			}
			if !found {
				return errs.Newf(errs.ErrKindNotFound, "object %q not found", key)
			}
			defer obj.Close()

			if out := c.String("out"); out != "" {
				return filestore.WriteFile(out, obj)
			}
			_, err = io.Copy(c.App.Writer, obj)
			return err
		},
	}
}

func downloadCommand(rt *runtime) *cli.Command {
	return &cli.Command{
		Name:      "download",
		Usage:     "download every object under a prefix",
		ArgsUsage: "PREFIX",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "local",
				Aliases: []string{"l"},
				Usage:   "local root directory (default from config)",
			},
			&cli.IntFlag{
				Name:  "trim",
				Usage: "drop this many leading segments of bucket/key from local paths",
			},
			&cli.IntFlag{
				Name:  "concurrency",
				Usage: "parallel file transfers (default from config)",
			},
		},
		Action: func(c *cli.Context) error {
			prefix, err := requireArg(c, "PREFIX")
			if err != nil {
				return err
			}

			client := rt.client
			if c.IsSet("concurrency") {
				opts := append(rt.cfg.ClientOptions(), hcp.WithLogger(rt.log), hcp.WithConcurrency(c.Int("concurrency")))
				client = hcp.New(rt.store, opts...)
			}

			report, err := client.DownloadPrefix(c.Context, prefix,
				hcp.LocalRoot(c.String("local")),
				hcp.Trim(c.Int("trim")),
			)
			if report != nil {
				fmt.Fprintf(c.App.Writer, "%d files, %d directories, %d listing pages\n",
					len(report.Files), len(report.Dirs), report.Pages)
			}
			return err
		},
	}
}

func urlCommand(rt *runtime) *cli.Command {
	return &cli.Command{
		Name:      "url",
		Usage:     "print a presigned download URL for an object",
		ArgsUsage: "KEY",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:  "ttl",
				Usage: "how long the URL stays valid",
				Value: time.Hour,
			},
		},
		Action: func(c *cli.Context) error {
			key, err := requireArg(c, "KEY")
			if err != nil {
				return err
			}
			u, err := rt.store.PresignGetURL(c.Context, rt.client.Bucket(), key, c.Duration("ttl"))
			if err != nil {
				return err
			}
			fmt.Fprintln(c.App.Writer, u)
			return nil
		},
	}
}

func serveCommand(rt *runtime) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "serve a read-only HTTP API over the bucket",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "addr",
				Usage: "listen address (default from config)",
			},
		},
		Action: func(c *cli.Context) error {
			addr := rt.cfg.Server.Addr
			if v := c.String("addr"); v != "" {
				addr = v
			}

			srv := server.New(rt.client, rt.log)
			return srv.ListenAndServe(c.Context, addr, rt.cfg.Server.ReadTimeout, rt.cfg.Server.WriteTimeout)
		},
	}
}
