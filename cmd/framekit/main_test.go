package main

import (
	"bytes"
	"io"
	"os"
	"strings"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleProject = "../../configs/project.yaml"

func TestMain(m *testing.M) {
	initCommands()
	os.Exit(m.Run())
}

// run executes the CLI with args and returns stdout. Commands share global
// flag state, so these tests do not run in parallel.
func run(t *testing.T, stdin string, args ...string) string {
	t.Helper()

	resetFlags()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetArgs(append(args, "--project", sampleProject))
	require.NoError(t, rootCmd.Execute())
	return out.String()
}

// resetFlags clears values left over from a previous Execute
func resetFlags() {
	for _, fs := range []*pflag.FlagSet{rootCmd.PersistentFlags(), buildCmd.Flags(), frameCmd.Flags()} {
		fs.VisitAll(func(f *pflag.Flag) {
			if sv, ok := f.Value.(pflag.SliceValue); ok {
				sv.Replace(nil)
			} else {
				f.Value.Set(f.DefValue)
			}
			f.Changed = false
		})
	}
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}

func TestParseParams(t *testing.T) {
	params, err := parseParams([]string{"slave=1", `phone="0139"`, "name=abc", "on=true", "empty="})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"slave": float64(1),
		"phone": "0139",
		"name":  "abc",
		"on":    true,
		"empty": "",
	}, params)

	_, err = parseParams([]string{"novalue"})
	assert.Error(t, err)
	_, err = parseParams([]string{"=1"})
	assert.Error(t, err)
}

func TestBuildCommand(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{
			name: "modbus read",
			args: []string{"build", "modbus", "read", "-p", "slave=1", "-p", "register=0", "-p", "count=1"},
			want: "01 03 00 00 00 01 84 0A",
		},
		{
			name: "transformed value",
			args: []string{"build", "modbus", "set_scaled", "-p", "slave=1", "-p", "register=1", "-p", "value=12.3"},
			want: "01 06 00 01 00 7B 98 29",
		},
		{
			name: "jt808 general response",
			args: []string{"build", "jt808", "ack",
				"-p", `phone="013912345678"`, "-p", "seq=1", "-p", "reply_seq=5", "-p", "reply_id=512", "-p", "result=0"},
			want: "7E 80 01 00 05 01 39 12 34 56 78 00 01 00 05 02 00 00 B2 7E",
		},
		{
			name: "nmea poll",
			args: []string{"build", "nmea", "poll", "-p", "sentence=$PMTK"},
			want: "24 50 4D 54 4B 0D 0A",
		},
		{
			name: "wialon static reply",
			args: []string{"build", "wialon", "login_ack"},
			want: "23 41 4C 23 31 0D 0A",
		},
		{
			name: "wialon transformed reply",
			args: []string{"build", "wialon", "data_ack", "-p", "count=3"},
			want: "23 41 44 23 33 0D 0A",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, firstLine(run(t, "", tt.args...)))
		})
	}
}

func TestBuildCommand_UnknownCommand(t *testing.T) {
	resetFlags()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetArgs([]string{"build", "modbus", "reboot", "--project", sampleProject})
	assert.Error(t, rootCmd.Execute())
}

func TestFrameCommand(t *testing.T) {
	out := run(t, "", "frame", "jt808", "7E 01 02", "03 7E 7E 04")
	assert.Equal(t, "#1 7E 01 02 03 7E\n(2 bytes buffered)\n", out)

	out = run(t, "24 41 0D 0A 24 42\n0D 0A\n", "frame", "nmea")
	assert.Equal(t, "#1 24 41 0D 0A\n#2 24 42 0D 0A\n", out)

	out = run(t, "", "frame", "modbus", "01 03", "02 00 01")
	assert.Equal(t, "#1 01 03 02 00 01\n", out)
}
