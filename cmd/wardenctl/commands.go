package main

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/warden/compile"
	"github.com/justapithecus/warden/iox"
	"github.com/justapithecus/warden/ipc"
	"github.com/justapithecus/warden/render"
	"github.com/justapithecus/warden/transport"
	"github.com/justapithecus/warden/types"
	"github.com/justapithecus/warden/workspace"
)

func healthCommand() *cli.Command {
	return &cli.Command{
		Name:      "health",
		Usage:     "Digest files inside the guest image",
		ArgsUsage: "<path>...",
		Action: func(c *cli.Context) error {
			if c.NArg() == 0 {
				return cli.Exit("health requires at least one path", 1)
			}
			return send(c, &types.HealthRequest{FilesToCheck: c.Args().Slice()})
		},
	}
}

func compileCommand() *cli.Command {
	return &cli.Command{
		Name:  "compile",
		Usage: "Compile sources in the guest",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "job-id",
				Usage:    "Job id scoping the guest workspace",
				Required: true,
			},
			&cli.StringSliceFlag{
				Name:     "src",
				Usage:    "Source file as name=path or path (named by its base name)",
				Required: true,
			},
		},
		Action: func(c *cli.Context) error {
			sources, err := readFileArgs(c.StringSlice("src"), sourceName)
			if err != nil {
				return cli.Exit(err.Error(), 1)
			}
			return send(c, &types.CompileRequest{JobID: c.String("job-id"), SourceFiles: sources})
		},
	}
}

func execCommand() *cli.Command {
	return &cli.Command{
		Name:  "exec",
		Usage: "Run compiled classes in the guest",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "entrypoint",
				Usage:    "Fully qualified class to run",
				Required: true,
			},
			&cli.StringSliceFlag{
				Name:  "class",
				Usage: "Class file as name=path or path (named by its file name)",
			},
			&cli.StringFlag{
				Name:  "class-dir",
				Usage: "Directory whose .class files are all sent, keyed by relative path",
			},
		},
		Action: func(c *cli.Context) error {
			classes, err := readFileArgs(c.StringSlice("class"), filepath.Base)
			if err != nil {
				return cli.Exit(err.Error(), 1)
			}
			if dir := c.String("class-dir"); dir != "" {
				found, err := workspace.Collect(dir, compile.DefaultOutputExt)
				if err != nil {
					return cli.Exit(fmt.Sprintf("read %s: %v", dir, err), 1)
				}
				for name, data := range found {
					classes[name] = data
				}
			}
			if len(classes) == 0 {
				return cli.Exit("exec requires --class or --class-dir", 1)
			}
			return send(c, &types.ExecuteRequest{Entrypoint: c.String("entrypoint"), ClassFiles: classes})
		},
	}
}

// ManifestView is the rendered form of a compile manifest.
type ManifestView struct {
	JobID        string                 `json:"job_id" yaml:"job_id"`
	ExitCode     int                    `json:"exit_code" yaml:"exit_code"`
	Duration     string                 `json:"duration" yaml:"duration"`
	CompiledAt   string                 `json:"compiled_at" yaml:"compiled_at"`
	AgentVersion string                 `json:"agent_version" yaml:"agent_version"`
	Sources      []compile.ManifestFile `json:"sources" yaml:"sources" table:"-"`
	Artifacts    []compile.ManifestFile `json:"artifacts" yaml:"artifacts" table:"-"`
}

func manifestCommand() *cli.Command {
	return &cli.Command{
		Name:      "manifest",
		Usage:     "Show a compile manifest copied out of a guest workspace",
		ArgsUsage: "<manifest.msgpack>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return cli.Exit("manifest requires exactly one path", 1)
			}
			m, err := compile.ReadManifest(c.Args().First())
			if err != nil {
				return cli.Exit(err.Error(), 1)
			}
			r, err := render.NewRenderer(c)
			if err != nil {
				return cli.Exit(err.Error(), 1)
			}
			return renderManifest(r, m)
		},
	}
}

func renderManifest(r *render.Renderer, m *compile.Manifest) error {
	view := &ManifestView{
		JobID:        m.JobID,
		ExitCode:     m.ExitCode,
		Duration:     time.Duration(m.DurationNs).String(),
		CompiledAt:   m.CompiledAt.UTC().Format(time.RFC3339),
		AgentVersion: m.AgentVersion,
		Sources:      m.Sources,
		Artifacts:    m.Artifacts,
	}
	if err := r.Render(view); err != nil {
		return err
	}
	if r.Format() != render.FormatTable {
		return nil
	}
	r.Line(render.TitleStyle, "sources")
	if err := r.Render(view.Sources); err != nil {
		return err
	}
	r.Line(render.TitleStyle, "artifacts")
	return r.Render(view.Artifacts)
}

// send performs one request/response exchange and renders the result.
func send(c *cli.Context, req types.Request) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	resp, err := exchange(c.Context, dialerFromFlags(c), req, c.Duration("timeout"), c.Int("max-frame-bytes"))
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	if err := r.RenderResponse(resp); err != nil {
		return err
	}
	if _, failed := resp.(*types.ErrorResponse); failed {
		return cli.Exit("", 1)
	}
	return nil
}

func exchange(ctx context.Context, dialer *transport.Dialer, req types.Request, timeout time.Duration, maxFrame int) (types.Response, error) {
	payload, err := ipc.EncodeRequest(req)
	if err != nil {
		return nil, err
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	conn, err := dialer.Dial(ctx)
	if err != nil {
		return nil, err
	}
	defer iox.DiscardClose(conn)

	raw, err := transport.Exchange(ctx, conn, payload, maxFrame)
	if err != nil {
		return nil, err
	}
	return ipc.DecodeResponse(raw)
}
