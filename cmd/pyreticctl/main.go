// Command pyreticctl is a small demo CLI exercising the compilation
// pipeline end to end: compile a config's topology/egress policy, run its
// path queries through the regex/DFA/stitch pipeline, or serve the
// controller/runtime HTTP+WebSocket boundary.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/marcelodevops/pyretic/internal/api"
	"github.com/marcelodevops/pyretic/internal/compiler"
	"github.com/marcelodevops/pyretic/internal/config"
	"github.com/marcelodevops/pyretic/internal/logging"
)

var rootCmd = &cobra.Command{
	Use:   "pyreticctl",
	Short: "Demo CLI for the policy/path-query compilation pipeline",
	Long: `pyreticctl drives the policy algebra, classifier compiler, and
path-query compiler over a declarative HCL topology-stub config, without
needing a live OpenFlow controller attached.`,
}

func main() {
	rootCmd.AddCommand(compileCmd(), pathqueryCmd(), serveCmd())
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func compileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "compile",
		Short: "Compile a config's topology and egress policy to classifiers",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("config")
			cfg, err := config.LoadFile(path)
			if err != nil {
				return err
			}
			c := compiler.New(nil)
			n, err := config.Build(cfg, c, nil)
			if err != nil {
				return err
			}
			topoCls, err := c.Compile(n.TopologyPolicy())
			if err != nil {
				return err
			}
			egressCls, err := c.Compile(n.EgressPolicy())
			if err != nil {
				return err
			}
			topoDump, err := topoCls.DumpYAML()
			if err != nil {
				return err
			}
			egressDump, err := egressCls.DumpYAML()
			if err != nil {
				return err
			}
			fmt.Println("# topology")
			fmt.Println(string(topoDump))
			fmt.Println("# egress")
			fmt.Println(string(egressDump))
			return nil
		},
	}
	cmd.Flags().String("config", "", "path to an HCL topology-stub config")
	cmd.MarkFlagRequired("config")
	return cmd
}

func pathqueryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pathquery",
		Short: "Run a config's path queries through the regex/DFA/stitch pipeline",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("config")
			cfg, err := config.LoadFile(path)
			if err != nil {
				return err
			}
			c := compiler.New(nil)
			n, err := config.Build(cfg, c, nil)
			if err != nil {
				return err
			}
			frags, err := n.PathRegistry.GetPolicyFragments(n)
			if err != nil {
				return err
			}
			stitched, err := n.PathRegistry.Stitch(n.TopologyPolicy(), n)
			if err != nil {
				return err
			}
			cls, err := c.Compile(stitched)
			if err != nil {
				return err
			}
			dump, err := cls.DumpYAML()
			if err != nil {
				return err
			}
			fmt.Printf("ingress capture: %v\n", frags.Ingress != nil)
			fmt.Printf("end_path capture: %v\n", frags.EndPath != nil)
			fmt.Println("# stitched policy")
			fmt.Println(string(dump))
			return nil
		},
	}
	cmd.Flags().String("config", "", "path to an HCL topology-stub/path-query config")
	cmd.MarkFlagRequired("config")
	return cmd
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the controller/runtime HTTP+WebSocket boundary",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("config")
			addr, _ := cmd.Flags().GetString("addr")

			cfg, err := config.LoadFile(path)
			if err != nil {
				return err
			}
			c := compiler.New(nil)
			n, err := config.Build(cfg, c, nil)
			if err != nil {
				return err
			}

			logger := logging.Default()
			logger.Info("pyreticctl: built network", "links", len(cfg.Links), "egress", len(cfg.Egress), "vfields", n.VFields.Fields())

			srv := api.NewServer(logger)
			for name, fwd := range n.PathBuckets {
				fwd.Register(srv.Forwarder(name))
				logger.Info("pyreticctl: streaming path bucket over /events", "bucket", name)
			}
			return srv.ListenAndServe(addr, api.DefaultServerConfig())
		},
	}
	cmd.Flags().String("config", "", "path to an HCL topology-stub/path-query config")
	cmd.Flags().String("addr", ":8080", "address to listen on")
	cmd.MarkFlagRequired("config")
	return cmd
}
