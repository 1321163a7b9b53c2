package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/attunehealth/attune/config"
	"github.com/attunehealth/attune/models"
	"github.com/attunehealth/attune/provider"
)

// ingestCMD prepares a corpus file offline: it embeds documents that arrive
// without vectors so the server can load the result without calling the
// embedding backend at boot.
func ingestCMD() *cobra.Command {
	var inPath, outPath string
	var cfgPath string

	var cmd = &cobra.Command{
		Use:   "ingest",
		Short: "Embed a JSONL corpus file for serving",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(cfgPath)
			if err != nil {
				return err
			}
			prov, err := provider.NewProvider(provider.OpenAI, cfg.Providers.OpenAI)
			if err != nil {
				return err
			}

			in, err := os.Open(inPath)
			if err != nil {
				return err
			}
			defer in.Close()
			out, err := os.Create(outPath)
			if err != nil {
				return err
			}
			defer out.Close()

			sc := bufio.NewScanner(in)
			sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
			w := bufio.NewWriter(out)
			ctx := cmd.Context()
			var n int
			for sc.Scan() {
				if len(sc.Bytes()) == 0 {
					continue
				}
				var doc models.Document
				if err := json.Unmarshal(sc.Bytes(), &doc); err != nil {
					return fmt.Errorf("line %d: %w", n+1, err)
				}
				if len(doc.Embedding) == 0 {
					vecs, err := prov.Embed(ctx, []string{doc.Text})
					if err != nil {
						return fmt.Errorf("embedding %s: %w", doc.ID, err)
					}
					doc.Embedding = vecs[0]
				}
				enc, err := json.Marshal(doc)
				if err != nil {
					return err
				}
				if _, err := w.Write(append(enc, '\n')); err != nil {
					return err
				}
				n++
			}
			if err := sc.Err(); err != nil {
				return err
			}
			if err := w.Flush(); err != nil {
				return err
			}
			fmt.Printf("embedded %d documents into %s\n", n, outPath)
			return nil
		},
	}
	cmd.Flags().StringVar(&inPath, "in", "corpus.jsonl", "input JSONL corpus")
	cmd.Flags().StringVar(&outPath, "out", "corpus.embedded.jsonl", "output JSONL corpus with embeddings")
	cmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")

	return cmd
}
