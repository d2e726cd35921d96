package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/momentics/hioload-probe/api"
	"github.com/momentics/hioload-probe/internal/probe"
)

type probeFlags struct {
	port     uint16
	alpn     []string
	versions []string
	format   string
}

func newProbeCommand(g *globalFlags) *cobra.Command {
	f := &probeFlags{}
	cmd := &cobra.Command{
		Use:   "probe HOST...",
		Short: "Report TLS versions, cipher, ALPN and HEAD status per host",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, hosts []string) error {
			versions, err := parseVersions(f.versions)
			if err != nil {
				return err
			}
			env, err := g.setup(cmd.Context())
			if err != nil {
				return err
			}
			defer env.Close()

			cfg := env.store.GetSnapshot()
			alpn := cfg.ALPN
			if cmd.Flags().Changed("alpn") {
				alpn = f.alpn
			}
			opts := []probe.Option{
				probe.WithALPN(alpn...),
				probe.WithChunkSize(cfg.ChunkSize),
				probe.WithTaskTimeout(3 * cfg.TLSTimeout),
				probe.WithTransportOptions(env.transportOptions(true)...),
			}
			if len(versions) > 0 {
				opts = append(opts, probe.WithVersions(versions...))
			}
			if len(cfg.Ciphers) > 0 {
				opts = append(opts, probe.WithCiphers(cfg.Ciphers...))
			}
			if cfg.MaxWorkers > 0 {
				opts = append(opts, probe.WithParallelHosts(cfg.MaxWorkers))
			}
			p, err := probe.New(env.tasks, opts...)
			if err != nil {
				return err
			}
			reps, err := p.ProbeAll(cmd.Context(), hosts, f.port)
			if err != nil {
				return err
			}
			return writeReports(cmd.OutOrStdout(), f.format, reps)
		},
	}
	cmd.Flags().Uint16VarP(&f.port, "port", "p", 443, "server port")
	cmd.Flags().StringSliceVar(&f.alpn, "alpn", nil, "ALPN protocols to offer (default from config)")
	cmd.Flags().StringSliceVar(&f.versions, "versions", nil, "TLS versions to try, e.g. 1.2,1.3")
	cmd.Flags().StringVarP(&f.format, "format", "o", "text", "output format: text, yaml or json")
	return cmd
}

func parseVersions(names []string) ([]api.TLSVersion, error) {
	var out []api.TLSVersion
	for _, n := range names {
		n = strings.TrimPrefix(strings.ToUpper(strings.TrimSpace(n)), "TLS")
		switch n {
		case "1.0", "10":
			out = append(out, api.TLS10)
		case "1.1", "11":
			out = append(out, api.TLS11)
		case "1.2", "12":
			out = append(out, api.TLS12)
		case "1.3", "13":
			out = append(out, api.TLS13)
		default:
			return nil, fmt.Errorf("tls version %q: %w", n, api.ErrInvalidArgument)
		}
	}
	return out, nil
}

func writeReports(w io.Writer, format string, reps []*probe.Report) error {
	switch format {
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(reps); err != nil {
			return err
		}
		return enc.Close()
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(reps)
	case "text":
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "HOST\tVERSION\tSUPPORTED\tCIPHER\tALPN")
		for _, r := range reps {
			for _, v := range r.Versions {
				fmt.Fprintf(tw, "%s:%d\t%s\t%t\t%s\t%s\n", r.Host, r.Port, v.Version, v.Supported, v.Cipher, v.ALPN)
			}
			summary := r.StatusLine
			if r.Error != "" {
				summary = "error: " + r.Error
			}
			fmt.Fprintf(tw, "%s:%d\tbest=%s\t%s\t%s\t\n", r.Host, r.Port, r.Best, r.HTTPVersion, summary)
		}
		return tw.Flush()
	default:
		return fmt.Errorf("output format %q: %w", format, api.ErrInvalidArgument)
	}
}
