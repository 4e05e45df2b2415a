// Command hcpfetch lists and downloads objects from the HCP open-access
// bucket, or any other S3-compatible bucket.
//
//	hcpfetch ls HCP_1200 --delimiter
//	hcpfetch exists HCP_1200/100206/T1w/T1w_acpc_dc_restore.nii.gz
//	hcpfetch download HCP_1200/100206/T1w/ --local /scratch/hcp --trim 1
//	hcpfetch serve --addr :8080
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := newApp(os.Stdout, os.Stderr, openStore)
	err := app.RunContext(ctx, os.Args)
	if err == nil {
		return
	}

	code := 1
	var exitErr cli.ExitCoder
	if errors.As(err, &exitErr) {
		code = exitErr.ExitCode()
	}
	if msg := err.Error(); msg != "" {
		fmt.Fprintln(os.Stderr, "hcpfetch:", msg)
	}
	stop()
	os.Exit(code)
}
