package main

import (
	"fmt"

	"github.com/cuemby/manifold/pkg/transport"
	"github.com/spf13/cobra"
)

// remoteCertDir defaults to the node certificate directory init
// provisioned, so push/pull/serve need no extra flag in the common
// single-node-pair case.
func remoteCertDir(root string) string {
	return root + "/.manifold/certs/node"
}

var pushCmd = &cobra.Command{
	Use:   "push",
	Short: "Push local refs and their object closures to a remote manifold node",
	RunE: func(cmd *cobra.Command, args []string) error {
		root := rootDir(cmd)
		remoteAddr, _ := cmd.Flags().GetString("remote")
		certDir, _ := cmd.Flags().GetString("cert-dir")
		if certDir == "" {
			certDir = remoteCertDir(root)
		}
		if remoteAddr == "" {
			return fmt.Errorf("--remote is required")
		}

		objs, refs, err := openStores(root)
		if err != nil {
			return err
		}
		defer objs.Close()
		defer refs.Close()

		client, err := transport.NewHTTPClient(remoteAddr, certDir)
		if err != nil {
			return fmt.Errorf("dial remote: %w", err)
		}

		broker := newEventBroker()
		defer broker.Stop()

		result, err := transport.Push(cmd.Context(), objs, refs, client, broker)
		if err != nil {
			return fmt.Errorf("push: %w", err)
		}

		fmt.Printf("✓ Pushed to %s\n", remoteAddr)
		for name, outcome := range result.Outcomes {
			fmt.Printf("  %-30s %s\n", name, outcome)
		}
		if len(result.Rejected) > 0 {
			fmt.Println("Rejected:")
			for name, reason := range result.Rejected {
				fmt.Printf("  %-30s %s\n", name, reason)
			}
		}
		return nil
	},
}

var pullCmd = &cobra.Command{
	Use:   "pull",
	Short: "Pull refs and their object closures from a remote manifold node",
	RunE: func(cmd *cobra.Command, args []string) error {
		root := rootDir(cmd)
		remoteAddr, _ := cmd.Flags().GetString("remote")
		certDir, _ := cmd.Flags().GetString("cert-dir")
		if certDir == "" {
			certDir = remoteCertDir(root)
		}
		if remoteAddr == "" {
			return fmt.Errorf("--remote is required")
		}

		objs, refs, err := openStores(root)
		if err != nil {
			return err
		}
		defer objs.Close()
		defer refs.Close()

		client, err := transport.NewHTTPClient(remoteAddr, certDir)
		if err != nil {
			return fmt.Errorf("dial remote: %w", err)
		}

		broker := newEventBroker()
		defer broker.Stop()

		result, err := transport.Pull(cmd.Context(), objs, refs, client, broker)
		if err != nil {
			return fmt.Errorf("pull: %w", err)
		}

		fmt.Printf("✓ Pulled from %s\n", remoteAddr)
		for name, outcome := range result.Outcomes {
			fmt.Printf("  %-30s %s\n", name, outcome)
		}
		if len(result.Rejected) > 0 {
			fmt.Println("Rejected:")
			for name, reason := range result.Rejected {
				fmt.Printf("  %-30s %s\n", name, reason)
			}
		}
		return nil
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve this node's object store and ref store over mTLS HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		root := rootDir(cmd)
		addr, _ := cmd.Flags().GetString("addr")
		certDir, _ := cmd.Flags().GetString("cert-dir")
		if certDir == "" {
			certDir = remoteCertDir(root)
		}

		objs, refs, err := openStores(root)
		if err != nil {
			return err
		}
		defer objs.Close()
		defer refs.Close()

		server := transport.NewServer(objs, refs)
		fmt.Printf("Serving manifold transport on %s (certs: %s)\n", addr, certDir)
		if err := server.ListenAndServeTLS(addr, certDir); err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	},
}

func init() {
	pushCmd.Flags().String("remote", "", "Remote node base URL, e.g. https://node-2:8443")
	pushCmd.Flags().String("cert-dir", "", "mTLS client cert directory (defaults to this node's own cert dir)")

	pullCmd.Flags().String("remote", "", "Remote node base URL, e.g. https://node-2:8443")
	pullCmd.Flags().String("cert-dir", "", "mTLS client cert directory (defaults to this node's own cert dir)")

	serveCmd.Flags().String("addr", ":8443", "Address to listen on")
	serveCmd.Flags().String("cert-dir", "", "mTLS server cert directory (defaults to this node's own cert dir)")
}
