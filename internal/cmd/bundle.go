package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/grovefs/grovefs/internal/bundle"
	"github.com/grovefs/grovefs/internal/ids"
	"github.com/grovefs/grovefs/internal/storage"
)

var bundleCmd = &cobra.Command{
	Use:   "bundle",
	Short: "Export, import, or inspect a grovefs bundle archive",
}

var bundleExportCmd = &cobra.Command{
	Use:   "export <out.zip>",
	Short: "Export the running repository's reachable state to a bundle archive",
	Args:  cobra.ExactArgs(1),
	RunE:  runBundleExport,
}

var bundleImportCmd = &cobra.Command{
	Use:   "import <bundle.zip>",
	Short: "Import a bundle archive into this node's storage",
	Args:  cobra.ExactArgs(1),
	RunE:  runBundleImport,
}

var bundleStatCmd = &cobra.Command{
	Use:   "stat <bundle.zip>",
	Short: "Print a bundle archive's manifest, block count, and size without importing it",
	Args:  cobra.ExactArgs(1),
	RunE:  runBundleStat,
}

func init() {
	rootCmd.AddCommand(bundleCmd)
	bundleCmd.AddCommand(bundleExportCmd, bundleImportCmd, bundleStatCmd)
	bundleExportCmd.Flags().Bool("slim", false, "export only reachable documents sharing the root document's id prefix (spec.md §4.8 slim bundle)")
	bundleExportCmd.Flags().StringSlice("entrypoint", nil, "opaque entrypoint string to carry in the manifest (repeatable)")
	bundleExportCmd.Flags().StringSlice("network-uri", nil, "opaque network URI to carry in the manifest (repeatable)")
}

func runBundleExport(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	adapter, err := openStorage(cfg)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer adapter.Close()

	rootID, err := readPersistedRoot(cmd.Context(), adapter)
	if err != nil {
		return err
	}

	slim, _ := cmd.Flags().GetBool("slim")
	entrypoints, _ := cmd.Flags().GetStringSlice("entrypoint")
	networkURIs, _ := cmd.Flags().GetStringSlice("network-uri")

	data, err := bundle.Export(cmd.Context(), adapter, bundle.ExportOptions{
		RootID:      rootID,
		Actor:       uuid.New().String(),
		Entrypoints: entrypoints,
		NetworkURIs: networkURIs,
		Slim:        slim,
	})
	if err != nil {
		return fmt.Errorf("export bundle: %w", err)
	}

	if err := os.WriteFile(args[0], data, 0o644); err != nil {
		return fmt.Errorf("write bundle file: %w", err)
	}
	fmt.Printf("exported %s root=%s size=%s slim=%v\n", args[0], rootID, humanize.Bytes(uint64(len(data))), slim)
	return nil
}

func runBundleImport(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read bundle file: %w", err)
	}
	imported, err := bundle.Import(data)
	if err != nil {
		return fmt.Errorf("parse bundle: %w", err)
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	adapter, err := openStorage(cfg)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer adapter.Close()

	ctx := cmd.Context()
	entries, err := imported.Storage.LoadRange(ctx, nil)
	if err != nil {
		return fmt.Errorf("enumerate bundle blocks: %w", err)
	}
	for _, e := range entries {
		if err := adapter.Save(ctx, e.Key, e.Value); err != nil {
			return fmt.Errorf("persist block %s: %w", e.Key.Canonical(), err)
		}
	}

	rootKey, err := storage.NewKey("_meta", "root")
	if err != nil {
		return err
	}
	if err := adapter.Save(ctx, rootKey, []byte(imported.Manifest.RootID.String())); err != nil {
		return fmt.Errorf("persist root id: %w", err)
	}

	fmt.Printf("imported %s root=%s blocks=%d\n", args[0], imported.Manifest.RootID, len(entries))
	return nil
}

func runBundleStat(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read bundle file: %w", err)
	}
	imported, err := bundle.Import(data)
	if err != nil {
		return fmt.Errorf("parse bundle: %w", err)
	}
	entries, err := imported.Storage.LoadRange(cmd.Context(), nil)
	if err != nil {
		return fmt.Errorf("enumerate bundle blocks: %w", err)
	}

	var total int
	for _, e := range entries {
		total += len(e.Value)
	}

	m := imported.Manifest
	fmt.Printf("manifest:       manifestVersion=%d version=%d.%d\n", m.ManifestVersion, m.Version.Major, m.Version.Minor)
	fmt.Printf("rootId:         %s\n", m.RootID)
	fmt.Printf("entrypoints:    %v\n", m.Entrypoints)
	fmt.Printf("networkUris:    %v\n", m.NetworkURIs)
	fmt.Printf("blocks:         %d\n", len(entries))
	fmt.Printf("archive size:   %s\n", humanize.Bytes(uint64(len(data))))
	fmt.Printf("blocks size:    %s\n", humanize.Bytes(uint64(total)))
	return nil
}

// readPersistedRoot reads the root id saved under the engine's reserved
// "_meta/root" key (the same key engine.Start hydrates from), so `bundle
// export` can run against storage without standing up a full engine.
func readPersistedRoot(ctx context.Context, adapter storage.Adapter) (ids.DocumentId, error) {
	key, err := storage.NewKey("_meta", "root")
	if err != nil {
		return "", err
	}
	data, ok, err := adapter.Load(ctx, key)
	if err != nil {
		return "", fmt.Errorf("load persisted root id: %w", err)
	}
	if !ok {
		return "", fmt.Errorf("no root document found in storage; run `grovefs serve` first or pass --config naming a storage path of a hydrated store")
	}
	return ids.DocumentId(data), nil
}
