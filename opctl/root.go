// Package opctl implements the opctl command, which runs single storage
// operations against the Operator described by a configuration file.
package opctl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/distribution/storage-operator/internal/dcontext"
	"github.com/distribution/storage-operator/operator"
	"github.com/distribution/storage-operator/operator/factory"
	"github.com/distribution/storage-operator/version"
)

// NewRootCommand returns the opctl command tree.
func NewRootCommand() *cobra.Command {
	var (
		configPath  string
		showVersion bool
	)

	rootCmd := &cobra.Command{
		Use:           "opctl",
		Short:         "`opctl` runs storage operations against a configured backend",
		Long:          "`opctl` runs storage operations against the backend and layers described by a configuration file",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if showVersion {
				version.FprintVersion(cmd.OutOrStdout())
				return nil
			}
			return cmd.Usage()
		},
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to the configuration file (default $"+configEnv+")")
	rootCmd.Flags().BoolVarP(&showVersion, "version", "v", false, "show the version and exit")

	// withOperator runs fn with the configured Operator and closes it after.
	withOperator := func(fn runFunc) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			config, err := resolveConfiguration(configPath)
			if err != nil {
				return fmt.Errorf("configuration error: %w", err)
			}

			ctx := dcontext.Background()
			ctx, err = configureLogging(ctx, config)
			if err != nil {
				return fmt.Errorf("unable to configure logging with config: %w", err)
			}

			op, err := newOperator(ctx, config)
			if err != nil {
				return fmt.Errorf("failed to construct %s operator: %w", config.Storage.Type(), err)
			}
			defer op.Close()

			return fn(ctx, op, cmd, args)
		}
	}

	rootCmd.AddCommand(
		newReadCommand(withOperator),
		newWriteCommand(withOperator),
		newRemoveCommand(withOperator),
		newListCommand(withOperator),
		newStatCommand(withOperator),
		newCapsCommand(withOperator),
		newPresignCommand(withOperator),
		newSchemesCommand(),
	)
	return rootCmd
}

// runFunc is a subcommand body run against the configured Operator.
type runFunc func(ctx context.Context, op *operator.Operator, cmd *cobra.Command, args []string) error

type wrapFunc func(fn runFunc) func(*cobra.Command, []string) error

func newReadCommand(with wrapFunc) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "read <path>",
		Short: "`read` writes the content of an object to stdout",
		Args:  cobra.ExactArgs(1),
		RunE: with(func(ctx context.Context, op *operator.Operator, cmd *cobra.Command, args []string) error {
			data, err := op.Read(ctx, args[0])
			if err != nil {
				return err
			}
			if output != "" {
				return os.WriteFile(output, data, 0o644)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		}),
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "write the content to a file instead of stdout")
	return cmd
}

func newWriteCommand(with wrapFunc) *cobra.Command {
	var (
		contentType  string
		cacheControl string
		userMeta     map[string]string
	)
	cmd := &cobra.Command{
		Use:   "write <path> [file]",
		Short: "`write` stores a file, or stdin, as an object",
		Args:  cobra.RangeArgs(1, 2),
		RunE: with(func(ctx context.Context, op *operator.Operator, cmd *cobra.Command, args []string) error {
			var (
				data []byte
				err  error
			)
			if len(args) == 2 && args[1] != "-" {
				data, err = os.ReadFile(args[1])
			} else {
				data, err = io.ReadAll(cmd.InOrStdin())
			}
			if err != nil {
				return err
			}

			opts := []operator.WriteOption{
				operator.WithContentType(contentType),
				operator.WithCacheControl(cacheControl),
			}
			for k, v := range userMeta {
				opts = append(opts, operator.WithUserMetadata(k, v))
			}
			return op.Write(ctx, args[0], data, opts...)
		}),
	}
	cmd.Flags().StringVarP(&contentType, "content-type", "t", "", "content type of the object")
	cmd.Flags().StringVar(&cacheControl, "cache-control", "", "cache control directive of the object")
	cmd.Flags().StringToStringVarP(&userMeta, "meta", "m", nil, "user metadata as key=value pairs")
	return cmd
}

func newRemoveCommand(with wrapFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "rm <path>...",
		Short: "`rm` deletes objects, or directories and everything beneath them",
		Args:  cobra.MinimumNArgs(1),
		RunE: with(func(ctx context.Context, op *operator.Operator, cmd *cobra.Command, args []string) error {
			for _, p := range args {
				if err := op.Delete(ctx, p); err != nil {
					return err
				}
			}
			return nil
		}),
	}
}

func newListCommand(with wrapFunc) *cobra.Command {
	var (
		recursive bool
		long      bool
		pageSize  int
	)
	cmd := &cobra.Command{
		Use:   "ls [path]",
		Short: "`ls` lists the children of a directory",
		Args:  cobra.MaximumNArgs(1),
		RunE: with(func(ctx context.Context, op *operator.Operator, cmd *cobra.Command, args []string) error {
			dir := "/"
			if len(args) == 1 {
				dir = args[0]
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			emit := func(e operator.Entry) error {
				if !long {
					_, err := fmt.Fprintln(w, e.Path)
					return err
				}
				return printEntryLine(w, e)
			}

			if recursive {
				if err := operator.Walk(ctx, op, dir, emit); err != nil {
					return err
				}
				return w.Flush()
			}

			lister, err := op.List(ctx, dir, operator.WithPageSize(pageSize))
			if err != nil {
				return err
			}
			for e, err := range lister.All(ctx) {
				if err != nil {
					return err
				}
				if err := emit(e); err != nil {
					return err
				}
			}
			return w.Flush()
		}),
	}
	cmd.Flags().BoolVarP(&recursive, "recursive", "r", false, "list every entry beneath the directory")
	cmd.Flags().BoolVarP(&long, "long", "l", false, "show mode, size and modification time")
	cmd.Flags().IntVar(&pageSize, "page-size", 0, "entries fetched per backend call")
	return cmd
}

func printEntryLine(w io.Writer, e operator.Entry) error {
	modTime := ""
	if !e.ModTime.IsZero() {
		modTime = e.ModTime.UTC().Format(time.RFC3339)
	}
	_, err := fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", e.Mode, e.Size, modTime, e.Path)
	return err
}

func newStatCommand(with wrapFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "stat <path>",
		Short: "`stat` describes an object or directory",
		Args:  cobra.ExactArgs(1),
		RunE: with(func(ctx context.Context, op *operator.Operator, cmd *cobra.Command, args []string) error {
			e, err := op.Stat(ctx, args[0])
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintf(w, "path:\t%s\n", e.Path)
			fmt.Fprintf(w, "mode:\t%s\n", e.Mode)
			if !e.IsDir() {
				fmt.Fprintf(w, "size:\t%d\n", e.Size)
			}
			if !e.ModTime.IsZero() {
				fmt.Fprintf(w, "modified:\t%s\n", e.ModTime.UTC().Format(time.RFC3339Nano))
			}
			if e.ContentType != "" {
				fmt.Fprintf(w, "content-type:\t%s\n", e.ContentType)
			}
			if e.ETag != "" {
				fmt.Fprintf(w, "etag:\t%s\n", e.ETag)
			}
			if e.Digest != "" {
				fmt.Fprintf(w, "digest:\t%s\n", e.Digest)
			}
			keys := make([]string, 0, len(e.Metadata))
			for k := range e.Metadata {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				fmt.Fprintf(w, "meta.%s:\t%s\n", k, e.Metadata[k])
			}
			return w.Flush()
		}),
	}
}

func newCapsCommand(with wrapFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "caps",
		Short: "`caps` shows the backend, the layers and the resulting capability",
		Args:  cobra.NoArgs,
		RunE: with(func(ctx context.Context, op *operator.Operator, cmd *cobra.Command, args []string) error {
			c := op.Capabilities()
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintf(w, "scheme:\t%s\n", op.Scheme())
			fmt.Fprintf(w, "root:\t%s\n", op.Info().Root)
			layers := "none"
			if l := op.Layers(); len(l) > 0 {
				layers = strings.Join(l, ",")
			}
			fmt.Fprintf(w, "layers:\t%s\n", layers)
			fmt.Fprintf(w, "operations:\t%s\n", c.Operations())
			if max := c.Limits().MaxWriteSize; max > 0 {
				fmt.Fprintf(w, "max write size:\t%d\n", max)
			}
			if max := c.Limits().MaxListPageSize; max > 0 {
				fmt.Fprintf(w, "max list page size:\t%d\n", max)
			}
			return w.Flush()
		}),
	}
}

func newPresignCommand(with wrapFunc) *cobra.Command {
	var (
		opName  string
		expires time.Duration
	)
	cmd := &cobra.Command{
		Use:   "presign <path>",
		Short: "`presign` prints a time-limited URL for an object",
		Args:  cobra.ExactArgs(1),
		RunE: with(func(ctx context.Context, op *operator.Operator, cmd *cobra.Command, args []string) error {
			o, err := operator.ParseOperations(opName)
			if err != nil {
				return err
			}
			if o == 0 {
				return errors.New("--op must name an operation")
			}
			if expires <= 0 {
				return fmt.Errorf("--expires must be positive, got %v", expires)
			}
			u, err := op.Presign(ctx, args[0], o, expires)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), u)
			return err
		}),
	}
	cmd.Flags().StringVar(&opName, "op", "read", "operation the URL grants: read, write or stat")
	cmd.Flags().DurationVar(&expires, "expires", 15*time.Minute, "validity of the URL")
	return cmd
}

func newSchemesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "schemes",
		Short: "`schemes` lists the registered storage schemes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, s := range factory.Schemes() {
				if _, err := fmt.Fprintln(cmd.OutOrStdout(), s); err != nil {
					return err
				}
			}
			return nil
		},
	}
}
