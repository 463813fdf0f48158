package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/cuemby/manifold/pkg/merge"
	"github.com/cuemby/manifold/pkg/oplog"
	"github.com/cuemby/manifold/pkg/types"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// applyCmd is manifold's declarative entry point, grounded on
// cmd/warren/apply.go's WarrenResource/dispatch-by-Kind pattern. Unlike
// the teacher's version, there's no always-on manager to dial: each
// resource is applied directly against this repository's object store
// and ref store, the same stores every other manifold subcommand opens.
var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Apply a declarative YAML resource (Workspace or Merge)",
	Long: `Apply a manifold resource from a YAML file.

Examples:
  # Create a workspace
  manifold apply -f workspace.yaml

  # Run a merge
  manifold apply -f merge.yaml`,
	RunE: runApply,
}

func init() {
	applyCmd.Flags().StringP("file", "f", "", "YAML file to apply (required)")
	_ = applyCmd.MarkFlagRequired("file")
}

// ManifoldResource is manifold's generic YAML envelope, the same shape
// as the teacher's WarrenResource (apiVersion/kind/metadata/spec).
type ManifoldResource struct {
	APIVersion string                 `yaml:"apiVersion"`
	Kind       string                 `yaml:"kind"`
	Metadata   ResourceMetadata       `yaml:"metadata"`
	Spec       map[string]interface{} `yaml:"spec"`
}

type ResourceMetadata struct {
	Name   string            `yaml:"name"`
	Labels map[string]string `yaml:"labels,omitempty"`
}

func runApply(cmd *cobra.Command, args []string) error {
	filename, _ := cmd.Flags().GetString("file")
	root := rootDir(cmd)

	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read file: %v", err)
	}

	var resource ManifoldResource
	if err := yaml.Unmarshal(data, &resource); err != nil {
		return fmt.Errorf("failed to parse YAML: %v", err)
	}

	switch resource.Kind {
	case "Workspace":
		return applyWorkspace(root, &resource)
	case "Merge":
		return applyMerge(cmd, root, &resource)
	default:
		return fmt.Errorf("unsupported resource kind: %s", resource.Kind)
	}
}

func applyWorkspace(root string, resource *ManifoldResource) error {
	name := resource.Metadata.Name
	ws, err := types.NewWorkspaceId(name)
	if err != nil {
		return err
	}

	objs, refs, err := openStores(root)
	if err != nil {
		return err
	}
	defer objs.Close()
	defer refs.Close()

	if _, ok, err := oplog.ReadHead(refs, ws); err != nil {
		return fmt.Errorf("check existing workspace: %w", err)
	} else if ok {
		fmt.Printf("Workspace already exists: %s (skipping)\n", ws)
		return nil
	}

	epochOid, ok, err := refs.Read(types.RefEpochCurrent)
	if err != nil {
		return fmt.Errorf("read epoch/current: %w", err)
	}
	epoch := types.EpochId("")
	if ok {
		epoch = types.EpochId(epochOid)
	}

	op := types.Operation{WorkspaceId: ws, Timestamp: nowRFC3339(), Payload: types.CreatePayload(epoch)}
	if _, err := oplog.Append(objs, refs, ws, op, types.ZeroObjectId); err != nil {
		return fmt.Errorf("create workspace: %w", err)
	}
	dir := workspaceDir(root, string(ws))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create worktree dir: %w", err)
	}
	if epoch != "" {
		if err := checkoutEpoch(objs, epoch, dir); err != nil {
			return fmt.Errorf("check out base epoch: %w", err)
		}
	}

	fmt.Printf("✓ Workspace created: %s\n", ws)
	return nil
}

func applyMerge(cmd *cobra.Command, root string, resource *ManifoldResource) error {
	sourceNames := getStringSlice(resource.Spec, "sources")
	if len(sourceNames) == 0 {
		return fmt.Errorf("merge spec.sources is required")
	}
	branch := getString(resource.Spec, "branch", "main")
	defaultWS := getString(resource.Spec, "defaultWorkspace", "")
	if defaultWS == "" {
		return fmt.Errorf("merge spec.defaultWorkspace is required")
	}

	objs, refs, err := openStores(root)
	if err != nil {
		return err
	}
	defer objs.Close()
	defer refs.Close()

	sources := make([]types.WorkspaceId, 0, len(sourceNames))
	worktrees := map[types.WorkspaceId]string{}
	for _, name := range sourceNames {
		ws, err := types.NewWorkspaceId(strings.TrimSpace(name))
		if err != nil {
			return err
		}
		sources = append(sources, ws)
		worktrees[ws] = workspaceDir(root, string(ws))
	}

	broker := newEventBroker()
	defer broker.Stop()

	p := &merge.Pipeline{
		Root:    root,
		Objs:    objs,
		Refs:    refs,
		Broker:  broker,
		Differ:  merge.TrivialDiffer{},
		Version: Version,
	}
	opts := merge.RunOpts{
		Sources:        sources,
		Branch:         branch,
		DefaultWS:      types.WorkspaceId(defaultWS),
		WorktreeRoot:   workspaceDir(root, defaultWS),
		SourceWorktree: worktrees,
	}
	if err := p.Run(cmd.Context(), opts); err != nil {
		return fmt.Errorf("merge run: %w", err)
	}

	fmt.Printf("✓ Merge applied: %s\n", resource.Metadata.Name)
	return nil
}

func getString(m map[string]interface{}, key, defaultValue string) string {
	if v, ok := m[key]; ok {
		return fmt.Sprintf("%v", v)
	}
	return defaultValue
}

func getStringSlice(m map[string]interface{}, key string) []string {
	v, ok := m[key]
	if !ok {
		return nil
	}
	raw, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		out = append(out, fmt.Sprintf("%v", item))
	}
	return out
}
