package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/ogulcanaydogan/LLM-Cost-Meter/internal/config"
	"github.com/ogulcanaydogan/LLM-Cost-Meter/pkg/model"
	"github.com/spf13/cobra"
)

func newPricingCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pricing",
		Short: "Inspect model prices and manage overrides",
	}
	cmd.AddCommand(newPricingListCmd(opts), newPricingOverrideCmd(opts))
	return cmd
}

func newPricingListCmd(opts *rootOptions) *cobra.Command {
	var provider string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the price catalog",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(opts, cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "PROVIDER\tMODEL\tINPUT ($/1K)\tOUTPUT ($/1K)\tIMAGE ($/unit)\tAUDIO ($/s)\n")
			for _, e := range a.catalog.Entries() {
				if provider != "" && !strings.EqualFold(e.Provider, provider) {
					continue
				}
				fmt.Fprintf(w, "%s\t%s\t$%g\t$%g\t%s\t%s\n",
					e.Provider, e.Model, e.InputPer1K, e.OutputPer1K,
					optionalPrice(e.ImagePerUnit), optionalPrice(e.AudioPerSecond),
				)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVarP(&provider, "provider", "p", "", "Only models of this provider")
	return cmd
}

// newPricingOverrideCmd manages overrides on a running server. Overrides
// live in the server's memory, so a one-shot process cannot hold them.
func newPricingOverrideCmd(opts *rootOptions) *cobra.Command {
	var (
		serverURL     string
		clearOverride bool
	)

	cmd := &cobra.Command{
		Use:   "override <model>",
		Short: "Set or clear a runtime price override on a running server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if serverURL == "" {
				cfg, err := config.Load(opts.cfgFile)
				if err != nil {
					return err
				}
				serverURL = localURL(cfg.Server.Listen)
			}
			endpoint := strings.TrimRight(serverURL, "/") + "/api/v1/pricing/overrides/" + url.PathEscape(args[0])

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()

			if clearOverride {
				if _, err := callAPI(ctx, http.MethodDelete, endpoint, nil); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Override for %s cleared\n", args[0])
				return nil
			}

			patch := pricePatchFromFlags(cmd)
			body, err := callAPI(ctx, http.MethodPut, endpoint, patch)
			if err != nil {
				return err
			}

			var entry model.PriceEntry
			if err := json.Unmarshal(body, &entry); err != nil {
				return fmt.Errorf("decode override: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Override set for %s: input $%g/1K, output $%g/1K\n",
				entry.Model, entry.InputPer1K, entry.OutputPer1K)
			return nil
		},
	}

	cmd.Flags().StringVar(&serverURL, "server", "", "Server base URL (default from server.listen)")
	cmd.Flags().BoolVar(&clearOverride, "clear", false, "Remove the override instead of setting it")
	cmd.Flags().String("provider", "", "Provider of the model")
	cmd.Flags().Float64("input", 0, "Input price in USD per 1K units")
	cmd.Flags().Float64("output", 0, "Output price in USD per 1K units")
	cmd.Flags().Float64("image", 0, "Price in USD per image")
	cmd.Flags().Float64("audio", 0, "Price in USD per audio second")
	return cmd
}

// pricePatchFromFlags sets only the fields given on the command line.
func pricePatchFromFlags(cmd *cobra.Command) model.PricePatch {
	var patch model.PricePatch
	flags := cmd.Flags()
	if flags.Changed("provider") {
		v, _ := flags.GetString("provider")
		patch.Provider = &v
	}
	for name, field := range map[string]**float64{
		"input":  &patch.InputPer1K,
		"output": &patch.OutputPer1K,
		"image":  &patch.ImagePerUnit,
		"audio":  &patch.AudioPerSecond,
	} {
		if flags.Changed(name) {
			v, _ := flags.GetFloat64(name)
			*field = &v
		}
	}
	return patch
}

func callAPI(ctx context.Context, method, endpoint string, payload any) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call server: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("server returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return data, nil
}

func localURL(listen string) string {
	if strings.HasPrefix(listen, ":") {
		return "http://localhost" + listen
	}
	return "http://" + listen
}

func optionalPrice(v float64) string {
	if v == 0 {
		return "-"
	}
	return fmt.Sprintf("$%g", v)
}
