package main

import (
	"fmt"
	"net"
	"os"
	"path/filepath"

	"github.com/cuemby/manifold/pkg/security"
	"github.com/spf13/cobra"
)

// initCmd bootstraps a local root CA plus a node certificate for this
// repository, the manifold-native analog of the teacher's cliInitCmd
// (cmd/warren/main.go) -- the teacher's CLI asks a running manager for
// a certificate over a join token; manifold has no always-on manager to
// ask, so a node mints its own CA the first time it serves or dials a
// peer, mirroring pkg/security/ca_test.go's Initialize+IssueNodeCertificate
// sequence rather than the token-exchange RPC the teacher used.
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Bootstrap an mTLS certificate authority and node certificate",
	Long: `Generates a root CA (if one doesn't already exist under
<root>/.manifold/certs/ca) and issues this node a certificate signed by
it, so 'manifold serve' and 'manifold push/pull' can speak mTLS.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		root := rootDir(cmd)
		nodeID, _ := cmd.Flags().GetString("node-id")
		dnsNames, _ := cmd.Flags().GetStringSlice("dns")
		if nodeID == "" {
			host, err := os.Hostname()
			if err != nil {
				host = "local"
			}
			nodeID = host
		}

		caDir := filepath.Join(root, ".manifold", "certs", "ca")
		certDir := filepath.Join(root, ".manifold", "certs", "node")

		ca := security.NewCertAuthority()
		if err := os.MkdirAll(caDir, 0o700); err != nil {
			return fmt.Errorf("create CA dir: %w", err)
		}
		if err := ca.LoadFromFile(caDir); err != nil {
			if err := ca.Initialize(); err != nil {
				return fmt.Errorf("initialize CA: %w", err)
			}
			if err := ca.SaveToFile(caDir); err != nil {
				return fmt.Errorf("save CA: %w", err)
			}
			fmt.Println("✓ Root CA initialized")
		} else {
			fmt.Println("✓ Root CA loaded (already initialized)")
		}

		ips := []net.IP{net.ParseIP("127.0.0.1")}
		cert, err := ca.IssueNodeCertificate(nodeID, append(dnsNames, "localhost"), ips)
		if err != nil {
			return fmt.Errorf("issue node certificate: %w", err)
		}
		if err := security.SaveCertToFile(cert, certDir); err != nil {
			return fmt.Errorf("save node certificate: %w", err)
		}
		if err := security.SaveCACertToFile(ca.GetRootCACert(), certDir); err != nil {
			return fmt.Errorf("save CA certificate alongside node cert: %w", err)
		}

		fmt.Printf("✓ Node certificate issued for %q\n", nodeID)
		fmt.Printf("  Cert dir: %s\n", certDir)
		return nil
	},
}

func init() {
	initCmd.Flags().String("node-id", "", "Node identity embedded in the certificate (defaults to hostname)")
	initCmd.Flags().StringSlice("dns", nil, "Additional DNS names to embed in the certificate")
}
