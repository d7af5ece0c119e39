package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"openfms/framekit/internal/framing"
	"openfms/framekit/internal/message"
	"openfms/framekit/internal/protocol"
	"openfms/framekit/internal/script"
)

var (
	buildCmd = &cobra.Command{
		Use:   "build <protocol> <command>",
		Short: "Build a saved command and print its bytes",
		Args:  cobra.ExactArgs(2),
		RunE:  runBuild,
	}

	frameCmd = &cobra.Command{
		Use:   "frame <protocol> [hex...]",
		Short: "Split hex input into frames with a protocol's framing",
		Long: "Each argument is one received chunk. With no chunk arguments the input\n" +
			"is read from stdin, one chunk per line.",
		Args: cobra.MinimumNArgs(1),
		RunE: runFrame,
	}
)

func initToolFlags() {
	buildCmd.Flags().StringArrayP("param", "p", nil, "parameter as name=value, repeatable")
	buildCmd.Flags().String("payload", "", "payload bytes as hex")
	buildCmd.Flags().Bool("json", false, "print the element layout as JSON")

	frameCmd.Flags().Bool("flush", true, "flush whatever is left after the last chunk")
}

func loadProject(cmd *cobra.Command) (*protocol.Project, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	return protocol.LoadProject(cfg.ProjectFile)
}

// parseParams turns name=value pairs into build parameters. A value that is
// valid JSON is decoded, so 12 is a number and "0012" a string; anything
// else is taken as text.
func parseParams(pairs []string) (map[string]any, error) {
	params := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		name, value, ok := strings.Cut(pair, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid parameter %q, want name=value", pair)
		}
		var v any
		if err := json.Unmarshal([]byte(value), &v); err != nil {
			v = value
		}
		params[name] = v
	}
	return params, nil
}

func runBuild(cmd *cobra.Command, args []string) error {
	project, err := loadProject(cmd)
	if err != nil {
		return err
	}
	proto, err := project.Protocol(args[0])
	if err != nil {
		return err
	}
	command, err := proto.Command(args[1])
	if err != nil {
		return err
	}
	st, err := proto.Structure(command.Structure)
	if err != nil {
		return err
	}

	pairs, _ := cmd.Flags().GetStringArray("param")
	params, err := parseParams(pairs)
	if err != nil {
		return err
	}
	payloadHex, _ := cmd.Flags().GetString("payload")
	payload, err := protocol.ParseHex(payloadHex)
	if err != nil {
		return err
	}

	log := zerolog.New(cmd.ErrOrStderr()).Level(zerolog.WarnLevel)
	builder := message.NewBuilder(script.NewSandbox(log), log, nil)
	res, err := builder.Build(cmd.Context(), st, command.Options(params, payload))
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	fmt.Fprintln(out, res.Data.String())
	for _, el := range res.Elements {
		fmt.Fprintf(out, "  %-12s %-9s @%-3d %s\n", el.ElementID, el.Kind, el.Offset, el.Bytes)
	}
	return nil
}

func runFrame(cmd *cobra.Command, args []string) error {
	project, err := loadProject(cmd)
	if err != nil {
		return err
	}
	proto, err := project.Protocol(args[0])
	if err != nil {
		return err
	}

	inputs := args[1:]
	if len(inputs) == 0 {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return err
		}
		for _, line := range strings.Split(string(data), "\n") {
			if strings.TrimSpace(line) != "" {
				inputs = append(inputs, line)
			}
		}
	}

	log := zerolog.New(cmd.ErrOrStderr()).Level(zerolog.WarnLevel)
	out := cmd.OutOrStdout()
	n := 0
	framer := framing.New(proto.Framing, framing.NewExtractor(script.NewSandbox(log), log, nil),
		func(frames []protocol.TimedChunk) {
			for _, f := range frames {
				n++
				fmt.Fprintf(out, "#%d %s\n", n, protocol.HexBytes(f.Data))
			}
		},
		framing.WithLogger(log),
	)

	ctx := cmd.Context()
	for _, in := range inputs {
		b, err := protocol.ParseHex(in)
		if err != nil {
			return err
		}
		framer.Push(ctx, protocol.TimedChunk{Data: b, Timestamp: time.Now()})
	}
	if flush, _ := cmd.Flags().GetBool("flush"); flush {
		framer.Flush(ctx)
	}
	if rest := framer.Buffered(); rest > 0 {
		fmt.Fprintf(out, "(%d bytes buffered)\n", rest)
	}
	return nil
}
