package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/liliang-cn/quadb"
	"github.com/liliang-cn/quadb/pkg/geom"
)

// Record is the entity the CLI stores at each position.
type Record struct {
	ID    string            `json:"id" cbor:"id"`
	Label string            `json:"label,omitempty" cbor:"label,omitempty"`
	Attrs map[string]string `json:"attrs,omitempty" cbor:"attrs,omitempty"`
}

var (
	cfgFile    string
	dbPath     string
	dimensions int
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:          "quadb",
	Short:        "CLI tool for the quadb spatial index",
	Long:         `A command-line interface for storing and querying positioned records in a quadb SQLite database.`,
	SilenceUsage: true,
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a new spatial index",
	RunE: func(cmd *cobra.Command, args []string) error {
		ix, err := openIndex(cmd.Context())
		if err != nil {
			return err
		}
		defer ix.Close()

		cfg := ix.Config()
		pterm.Success.Printfln("Spatial index %s initialized at %s with %d dimensions", ix.ID(), cfg.Path, cfg.Dimensions)
		return nil
	},
}

var putCmd = &cobra.Command{
	Use:   "put <position>",
	Short: "Store a record at a position (comma-separated coordinates)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pos, err := parsePosition(args[0])
		if err != nil {
			return err
		}

		id, _ := cmd.Flags().GetString("id")
		label, _ := cmd.Flags().GetString("label")
		attrs, _ := cmd.Flags().GetStringToString("attr")
		if id == "" {
			id = uuid.NewString()
		}

		ix, err := openIndex(cmd.Context())
		if err != nil {
			return err
		}
		defer ix.Close()

		rec := Record{ID: id, Label: label, Attrs: attrs}
		if err := ix.Insert(cmd.Context(), pos, rec); err != nil {
			return fmt.Errorf("failed to store record: %w", err)
		}

		pterm.Success.Printfln("Record '%s' stored at %v", id, pos)
		return nil
	},
}

var delCmd = &cobra.Command{
	Use:   "del <position>",
	Short: "Remove the record at a position",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pos, err := parsePosition(args[0])
		if err != nil {
			return err
		}

		ix, err := openIndex(cmd.Context())
		if err != nil {
			return err
		}
		defer ix.Close()

		if err := ix.Remove(cmd.Context(), pos); err != nil {
			return fmt.Errorf("failed to remove record: %w", err)
		}

		pterm.Success.Printfln("Position %v cleared", pos)
		return nil
	},
}

var getCmd = &cobra.Command{
	Use:   "get <position>",
	Short: "Show the record stored at a position",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pos, err := parsePosition(args[0])
		if err != nil {
			return err
		}

		ix, err := openIndex(cmd.Context())
		if err != nil {
			return err
		}
		defer ix.Close()

		rec, ok, err := ix.Lookup(cmd.Context(), pos)
		if err != nil {
			return fmt.Errorf("failed to get record: %w", err)
		}
		if !ok {
			return fmt.Errorf("no record at %v", pos)
		}

		outputJSON, _ := cmd.Flags().GetBool("json")
		if outputJSON {
			return printJSON(quadb.Item[Record]{Position: pos, Value: rec})
		}
		return renderRecords([]quadb.Item[Record]{{Position: pos, Value: rec}})
	},
}

var windowCmd = &cobra.Command{
	Use:   "window",
	Short: "List the records inside a box",
	Long: `List the records inside a box given either as --center and --radius (the box
[center-radius, center+radius] on every axis) or as --min and --max corners.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		w, err := windowFromFlags(cmd)
		if err != nil {
			return err
		}

		ix, err := openIndex(cmd.Context())
		if err != nil {
			return err
		}
		defer ix.Close()

		if err := ix.StreamWindow(cmd.Context(), w); err != nil {
			return fmt.Errorf("failed to scan window: %w", err)
		}
		items := ix.Cached()

		outputJSON, _ := cmd.Flags().GetBool("json")
		if outputJSON {
			return printJSON(items)
		}
		if len(items) > 0 {
			if err := renderRecords(items); err != nil {
				return err
			}
		}
		pterm.Printf("%s records in %s\n", pterm.Green(len(items)), w)
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Display index statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		ix, err := openIndex(cmd.Context())
		if err != nil {
			return err
		}
		defer ix.Close()

		stats, err := ix.Stats(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to get stats: %w", err)
		}

		outputJSON, _ := cmd.Flags().GetBool("json")
		if outputJSON {
			return printJSON(stats)
		}
		pterm.Printf("Index: %s\n", pterm.LightMagenta(stats.ID))
		pterm.Printf("  Table: %s\n", stats.Table)
		pterm.Printf("  Dimensions: %d (%d bits per axis)\n", stats.Dimensions, stats.BitsPerAxis)
		pterm.Printf("  Codec: %s, compression: %s\n", stats.Codec, stats.Compression)
		pterm.Printf("  Records: %s\n", pterm.Green(stats.Stored))
		return nil
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration files",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the effective configuration as TOML",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		out, _ := cmd.Flags().GetString("out")
		if out == "" {
			return cfg.WriteTOML(os.Stdout)
		}
		f, err := os.Create(out)
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", out, err)
		}
		defer f.Close()
		if err := cfg.WriteTOML(f); err != nil {
			return fmt.Errorf("failed to write %s: %w", out, err)
		}
		fmt.Printf("Configuration written to %s\n", out)
		return nil
	},
}

func loadConfig() (quadb.Config, error) {
	cfg, err := quadb.LoadConfig(cfgFile)
	if err != nil {
		return quadb.Config{}, err
	}
	if rootCmd.PersistentFlags().Changed("db") || cfg.Path == "" {
		cfg.Path = dbPath
	}
	if rootCmd.PersistentFlags().Changed("dimensions") {
		cfg.Dimensions = dimensions
	}
	return cfg, nil
}

func openIndex(ctx context.Context) (*quadb.Index[Record], error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if verbose {
		cfg.Logger = quadb.NewLogger(os.Stderr, quadb.LevelDebug)
	}

	ix, err := quadb.Open[Record](ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open index: %w", err)
	}
	return ix, nil
}

func windowFromFlags(cmd *cobra.Command) (geom.Window, error) {
	centerStr, _ := cmd.Flags().GetString("center")
	minStr, _ := cmd.Flags().GetString("min")
	maxStr, _ := cmd.Flags().GetString("max")

	switch {
	case centerStr != "":
		center, err := parsePosition(centerStr)
		if err != nil {
			return geom.Window{}, err
		}
		radius, _ := cmd.Flags().GetFloat64("radius")
		return geom.Around(center, radius)
	case minStr != "" && maxStr != "":
		lo, err := parsePosition(minStr)
		if err != nil {
			return geom.Window{}, err
		}
		hi, err := parsePosition(maxStr)
		if err != nil {
			return geom.Window{}, err
		}
		return geom.NewWindow(lo, hi)
	}
	return geom.Window{}, fmt.Errorf("either --center or both --min and --max are required")
}

func parsePosition(str string) ([]float64, error) {
	parts := strings.Split(str, ",")
	pos := make([]float64, 0, len(parts))
	for _, part := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid position %q: %w", str, err)
		}
		pos = append(pos, v)
	}
	return pos, nil
}

func renderRecords(items []quadb.Item[Record]) error {
	data := pterm.TableData{{"Position", "ID", "Label", "Attributes"}}
	for _, it := range items {
		attrs := make([]string, 0, len(it.Value.Attrs))
		for k, v := range it.Value.Attrs {
			attrs = append(attrs, k+"="+v)
		}
		sort.Strings(attrs)
		data = append(data, []string{
			fmt.Sprint(it.Position),
			it.Value.ID,
			it.Value.Label,
			strings.Join(attrs, ", "),
		})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "TOML configuration file")
	rootCmd.PersistentFlags().StringVarP(&dbPath, "db", "d", "points.db", "Database file path")
	rootCmd.PersistentFlags().IntVarP(&dimensions, "dimensions", "n", 3, "Number of axes")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")

	putCmd.Flags().String("id", "", "Record ID (generated when empty)")
	putCmd.Flags().String("label", "", "Record label")
	putCmd.Flags().StringToString("attr", nil, "Record attributes (key=value,key2=value2)")

	getCmd.Flags().Bool("json", false, "Output as JSON")

	windowCmd.Flags().String("center", "", "Window center (comma-separated)")
	windowCmd.Flags().Float64("radius", 0, "Window half-width on every axis")
	windowCmd.Flags().String("min", "", "Lower window corner (comma-separated)")
	windowCmd.Flags().String("max", "", "Upper window corner (comma-separated)")
	windowCmd.Flags().Bool("json", false, "Output as JSON")

	statsCmd.Flags().Bool("json", false, "Output as JSON")

	importCmd.Flags().Int("batch", 500, "Records per write transaction")
	importCmd.Flags().Int("workers", 4, "Parallel line decoders")

	configCmd.AddCommand(configInitCmd)
	configInitCmd.Flags().String("out", "", "Output file (stdout when empty)")

	rootCmd.AddCommand(
		initCmd,
		putCmd,
		delCmd,
		getCmd,
		windowCmd,
		statsCmd,
		importCmd,
		configCmd,
	)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		log.Fatal(err)
	}
}
