package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/liliang-cn/quadb"
)

// importLine is one line of a JSON Lines import file.
type importLine struct {
	Position []float64         `json:"position"`
	ID       string            `json:"id"`
	Label    string            `json:"label"`
	Attrs    map[string]string `json:"attrs"`
}

var importCmd = &cobra.Command{
	Use:   "import <file.jsonl>",
	Short: "Import records from a JSON Lines file",
	Long: `Import records from a JSON Lines file, one object per line:

  {"position": [1, 2, 3], "id": "a", "label": "tree", "attrs": {"kind": "oak"}}

Records are written in batches, one write transaction per batch.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		batch, _ := cmd.Flags().GetInt("batch")
		workers, _ := cmd.Flags().GetInt("workers")
		if batch < 1 {
			batch = 1
		}

		lines, err := readLines(args[0])
		if err != nil {
			return err
		}
		items, err := decodeLines(lines, workers)
		if err != nil {
			return err
		}

		ix, err := openIndex(cmd.Context())
		if err != nil {
			return err
		}
		defer ix.Close()

		for start := 0; start < len(items); start += batch {
			end := min(start+batch, len(items))
			if err := ix.InsertBatch(cmd.Context(), items[start:end]); err != nil {
				return fmt.Errorf("failed to import records %d-%d: %w", start+1, end, err)
			}
		}

		pterm.Success.Printfln("Imported %d records from %s", len(items), args[0])
		return nil
	},
}

func readLines(path string) ([][]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	var lines [][]byte
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 16<<20)
	for sc.Scan() {
		if len(sc.Bytes()) == 0 {
			continue
		}
		lines = append(lines, append([]byte(nil), sc.Bytes()...))
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return lines, nil
}

// decodeLines parses lines concurrently and keeps their order.
func decodeLines(lines [][]byte, workers int) ([]quadb.Item[Record], error) {
	items := make([]quadb.Item[Record], len(lines))

	var g errgroup.Group
	if workers > 0 {
		g.SetLimit(workers)
	}
	for i, line := range lines {
		g.Go(func() error {
			var l importLine
			if err := json.Unmarshal(line, &l); err != nil {
				return fmt.Errorf("line %d: %w", i+1, err)
			}
			if len(l.Position) == 0 {
				return fmt.Errorf("line %d: missing position", i+1)
			}
			if l.ID == "" {
				l.ID = uuid.NewString()
			}
			items[i] = quadb.Item[Record]{
				Position: l.Position,
				Value:    Record{ID: l.ID, Label: l.Label, Attrs: l.Attrs},
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return items, nil
}
