// Command efekta-shell is an offline REPL over the device definitions. It
// decodes hand-written attribute reports and shows the requests encoders and
// configure hooks would send, without a radio.
package main

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/chzyer/readline"

	"zigbee-efekta/internal/converter"
	"zigbee-efekta/internal/devices/efekta"
	"zigbee-efekta/internal/external"
	"zigbee-efekta/internal/zcl"
	"zigbee-efekta/internal/zcl/clusters"
)

func main() {
	defsDir := flag.String("definitions", "", "directory of external definition files")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Parse()

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	registry := zcl.NewRegistry(logger)
	clusters.RegisterStandard(registry)
	ext, err := external.LoadDir(*defsDir, registry, logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer ext.Close()
	defs, err := converter.NewRegistry(append(efekta.Definitions(), ext.Definitions...)...)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	// Non-interactive: run the arguments as one command.
	if flag.NArg() > 0 {
		sh := newShell(defs, registry, os.Stdout, logger)
		if err := sh.exec(strings.Join(flag.Args(), " ")); err != nil && !errors.Is(err, errQuit) {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "efekta> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		AutoComplete:    completer(defs),
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "readline:", err)
		os.Exit(1)
	}
	defer rl.Close()

	sh := newShell(defs, registry, rl.Stdout(), logger)
	sh.help()
	for {
		line, err := rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) {
				continue
			}
			return
		}
		if err := sh.exec(line); err != nil {
			if errors.Is(err, errQuit) {
				return
			}
			fmt.Fprintln(rl.Stderr(), "error:", err)
		}
	}
}

func completer(defs *converter.Registry) *readline.PrefixCompleter {
	models := func(string) []string {
		var out []string
		for _, def := range defs.All() {
			out = append(out, def.Model)
		}
		return out
	}
	withModel := func(cmd string) readline.PrefixCompleterInterface {
		return readline.PcItem(cmd, readline.PcItemDynamic(models))
	}
	return readline.NewPrefixCompleter(
		readline.PcItem("help"),
		readline.PcItem("models"),
		withModel("show"),
		withModel("decode"),
		withModel("set"),
		withModel("get"),
		withModel("configure"),
		withModel("options"),
		withModel("state"),
		readline.PcItem("validate"),
		readline.PcItem("quit"),
	)
}
