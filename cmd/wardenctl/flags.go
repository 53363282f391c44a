package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/warden/ipc"
	"github.com/justapithecus/warden/transport"
)

func connectionFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "network",
			Usage:   "Agent network: vsock, tcp or unix",
			Value:   transport.NetworkTCP,
			EnvVars: []string{"WARDEN_NETWORK"},
		},
		&cli.StringFlag{
			Name:    "address",
			Usage:   "Agent tcp host or unix socket path",
			Value:   "127.0.0.1",
			EnvVars: []string{"WARDEN_ADDRESS"},
		},
		&cli.UintFlag{
			Name:    "cid",
			Usage:   "Guest context id (vsock)",
			Value:   3,
			EnvVars: []string{"WARDEN_CID"},
		},
		&cli.UintFlag{
			Name:    "port",
			Usage:   "Agent port (vsock and tcp)",
			Value:   transport.DefaultPort,
			EnvVars: []string{"WARDEN_PORT"},
		},
		&cli.DurationFlag{
			Name:  "timeout",
			Usage: "Deadline for the whole exchange",
			Value: 2 * time.Minute,
		},
		&cli.IntFlag{
			Name:  "max-frame-bytes",
			Usage: "Largest response frame accepted",
			Value: ipc.DefaultMaxFrameSize,
		},
		&cli.StringFlag{
			Name:  "format",
			Usage: "Output format: json, table, yaml",
		},
		&cli.BoolFlag{
			Name:  "no-color",
			Usage: "Disable colors in table output",
		},
	}
}

func dialerFromFlags(c *cli.Context) *transport.Dialer {
	return &transport.Dialer{
		Network:   c.String("network"),
		Address:   c.String("address"),
		ContextID: uint32(c.Uint("cid")),
		Port:      uint32(c.Uint("port")),
		Timeout:   c.Duration("timeout"),
	}
}

// readFileArgs reads files given as "name=path" or a bare path. A bare
// path is named by nameOf(path).
func readFileArgs(specs []string, nameOf func(string) string) (map[string][]byte, error) {
	files := make(map[string][]byte, len(specs))
	for _, spec := range specs {
		name, path, ok := strings.Cut(spec, "=")
		if !ok {
			path = spec
			name = nameOf(spec)
		}
		if name == "" || path == "" {
			return nil, fmt.Errorf("invalid file argument %q (want name=path or path)", spec)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		if _, dup := files[name]; dup {
			return nil, fmt.Errorf("duplicate file name %q", name)
		}
		files[name] = data
	}
	return files, nil
}

// sourceName is the logical source name: the base name without extension.
func sourceName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
