package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/CZERTAINLY/port-lens/internal/policy"
	"github.com/CZERTAINLY/port-lens/internal/ports"
	"github.com/CZERTAINLY/port-lens/internal/probe"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

func doScan(cmd *cobra.Command, args []string) error {
	config, err := loadConfig(cmd, args)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	host := args[0]

	portSpec := flagPorts
	if portSpec == "" {
		portSpec = config.Scan.Ports
	}
	portList := ports.Parse(portSpec)
	if portList == nil {
		return fmt.Errorf("no valid ports in %q", portSpec)
	}

	pol := buildPolicy(ctx, config.Policy)
	if err := pol.Authorize(ctx, host); err != nil {
		switch {
		case errors.Is(err, policy.ErrResolve):
			color.Red("[-] Unable to resolve host: %s\n", host)
		default:
			color.Red("[-] Scanning %q is denied by policy (%s).\n", host, pol.Networks())
		}
		return err
	}

	color.Cyan("--- Scanning %s [%d ports] ---\n", host, len(portList))
	color.Cyan("--- Workers: %d | Timeout: %s ---\n",
		min(config.Scan.MaxConcurrency, len(portList)),
		time.Duration(config.Scan.TimeoutSeconds*float64(time.Second)))

	bar := progressbar.NewOptions(len(portList),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowBytes(false),
		progressbar.OptionSetWidth(30),
		progressbar.OptionSetDescription("[cyan][scanning][reset]"),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]=[reset]",
			SaucerHead:    "[green]>[reset]",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)

	scanner := newScanner(config.Scan, pol).
		WithProgress(func(res probe.Result) {
			_ = bar.Add(1)
			if res.Open {
				_ = bar.Clear()
				if res.Service != "" {
					color.Green("\r[+] Port %d open (%s)\n", res.Port, res.Service)
				} else {
					color.Green("\r[+] Port %d open\n", res.Port)
				}
			}
		})

	startTime := time.Now()
	report, err := scanner.Scan(ctx, host, portList)
	if err != nil {
		return err
	}
	_ = bar.Finish()
	fmt.Println()

	color.Cyan("[+] Done in %s: %d of %d ports open.\n",
		time.Since(startTime).Round(time.Millisecond), report.OpenCount(), len(report))
	return nil
}
