package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/creastat/discussions"
	"github.com/creastat/discussions/config"

	"github.com/spf13/cobra"
)

var (
	cfgFile string
	verbose bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "discussctl",
	Short: "Manage discussion vectors in the configured vector index",
	Long: `discussctl stores, searches and deletes discussion vectors in a managed
vector index (Qdrant, Redis Stack or Supabase).

Connection settings come from --config and VECTOR_DB_* environment variables.`,
	SilenceUsage: true,
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Connect and create the index if it does not exist",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer store.Close()

		fmt.Fprintf(cmd.OutOrStdout(), "index ready, namespace %q\n", store.Namespace())
		return nil
	},
}

var (
	storeVector string
	storeMeta   []string
)

var storeCmd = &cobra.Command{
	Use:   "store",
	Short: "Upsert a vector with metadata",
	Example: `  discussctl store --vector 0.1,0.2,0.3 --meta user_id=u1 --meta discussion_id=d1`,
	RunE: func(cmd *cobra.Command, args []string) error {
		vector, err := parseVector(storeVector)
		if err != nil {
			return err
		}
		metadata, err := parseMetadata(storeMeta)
		if err != nil {
			return err
		}

		store, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer store.Close()

		id, err := store.StoreVector(cmd.Context(), vector, metadata)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), map[string]string{"id": id})
	},
}

var (
	queryVector string
	queryUser   string
	queryTopK   int
)

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Find the nearest discussions, optionally for one user",
	RunE: func(cmd *cobra.Command, args []string) error {
		vector, err := parseVector(queryVector)
		if err != nil {
			return err
		}

		store, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer store.Close()

		results, err := store.QueryVectors(cmd.Context(), vector, queryUser, queryTopK)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), results)
	},
}

var deleteUser string

var deleteCmd = &cobra.Command{
	Use:   "delete <discussion-id>",
	Short: "Delete a discussion; with --user only the owner may delete it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer store.Close()

		deleted, err := store.DeleteVector(cmd.Context(), args[0], deleteUser)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), map[string]any{"id": args[0], "deleted": deleted})
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "YAML config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log index lifecycle and failures to stderr")

	storeCmd.Flags().StringVar(&storeVector, "vector", "", "comma-separated vector components")
	storeCmd.Flags().StringArrayVar(&storeMeta, "meta", nil, "metadata key=value (repeatable)")
	_ = storeCmd.MarkFlagRequired("vector")

	queryCmd.Flags().StringVar(&queryVector, "vector", "", "comma-separated vector components")
	queryCmd.Flags().StringVar(&queryUser, "user", "", "restrict results to this user (empty searches all users)")
	queryCmd.Flags().IntVarP(&queryTopK, "top-k", "k", 5, "number of results")
	_ = queryCmd.MarkFlagRequired("vector")

	deleteCmd.Flags().StringVar(&deleteUser, "user", "", "owner check: only delete if the discussion belongs to this user")

	rootCmd.AddCommand(initCmd, storeCmd, queryCmd, deleteCmd)
}

func openStore(ctx context.Context) (*discussions.Store, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}

	logger := log.New(io.Discard, "", 0)
	if verbose {
		logger = log.New(os.Stderr, "[discussctl] ", log.LstdFlags)
	}
	return discussions.Open(ctx, cfg, discussions.WithLogger(logger))
}

// parseVector parses "0.1, 0.2,0.3" into a vector.
func parseVector(s string) ([]float32, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("vector is empty")
	}

	parts := strings.Split(s, ",")
	out := make([]float32, len(parts))
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return nil, fmt.Errorf("vector component %d: %w", i, err)
		}
		out[i] = float32(f)
	}
	return out, nil
}

// parseMetadata turns key=value pairs into metadata. Values that parse as
// integers, floats or booleans keep that type; everything else is a string.
// Identity keys are always strings.
func parseMetadata(pairs []string) (map[string]any, error) {
	md := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid metadata %q, expected key=value", pair)
		}
		switch key {
		case discussions.KeyDiscussionID, discussions.KeyUserID:
			md[key] = value
		default:
			md[key] = scalar(value)
		}
	}
	return md, nil
}

func scalar(v string) any {
	if i, err := strconv.ParseInt(v, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return f
	}
	if b, err := strconv.ParseBool(v); err == nil {
		return b
	}
	return v
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
