package cli

import (
	"fmt"
	"net"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/momentics/hioload-probe/api"
	"github.com/momentics/hioload-probe/client"
)

type fetchFlags struct {
	port    uint16
	version string
	path    string
}

func newFetchCommand(g *globalFlags) *cobra.Command {
	f := &fetchFlags{}
	cmd := &cobra.Command{
		Use:   "fetch HOST...",
		Short: "GET a path from every host at once and report the bytes received",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, hosts []string) error {
			kind := api.KindPlain
			if f.version != "" && f.version != "none" {
				vs, err := parseVersions([]string{f.version})
				if err != nil {
					return err
				}
				kind = api.KindFor(vs[0])
			}
			env, err := g.setup(cmd.Context())
			if err != nil {
				return err
			}
			defer env.Close()

			cfg := env.store.GetSnapshot()
			p := client.NewConnectionPool(
				client.WithTransportFactory(client.Factory(env.transportOptions(kind.IsTLS())...)),
				client.WithMaxWorkers(cfg.MaxWorkers),
			)
			defer p.Close()

			handles := make([]client.Handle, len(hosts))
			for i, host := range hosts {
				req := fmt.Sprintf("GET %s HTTP/1.1\r\nHost: %s\r\nUser-Agent: hioload-probe\r\nConnection: close\r\n\r\n",
					f.path, net.JoinHostPort(host, strconv.Itoa(int(f.port))))
				if handles[i], err = p.Add(cmd.Context(), host, []byte(req), f.port, kind); err != nil {
					return err
				}
			}
			p.WaitAll()

			out := cmd.OutOrStdout()
			for i, h := range handles {
				data, ok := p.GetData(h)
				if !ok {
					fmt.Fprintf(out, "%s\t%s\terror: %v\n", hosts[i], kind, p.Err(h))
					continue
				}
				fmt.Fprintf(out, "%s\t%s\t%d bytes\n", hosts[i], kind, len(data))
			}
			return nil
		},
	}
	cmd.Flags().Uint16VarP(&f.port, "port", "p", 80, "server port")
	cmd.Flags().StringVar(&f.version, "tls", "none", "TLS version to use (1.0-1.3) or none")
	cmd.Flags().StringVar(&f.path, "path", "/", "request path")
	return cmd
}
