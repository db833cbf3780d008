package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/alex-user-go/slotfinder/internal/app"
	"github.com/alex-user-go/slotfinder/internal/handler"
	"github.com/alex-user-go/slotfinder/internal/obs"
	"github.com/alex-user-go/slotfinder/internal/search"
	"github.com/alex-user-go/slotfinder/internal/search/types"
)

// searchFlags maps command line flags onto the HTTP API parameters so both
// surfaces validate the same way.
var searchFlags = []struct {
	name  string
	param string
	usage string
}{
	{"query", "q", "conversational query; overrides the structured flags"},
	{"when", "when", "earliest start, e.g. today, tomorrow, next friday 3pm"},
	{"budget", "budget_max", "maximum price in dollars"},
	{"distance", "distance_miles_max", "maximum distance in miles"},
	{"service", "service", "service to match, e.g. fade"},
	{"stylist", "stylist", "preferred stylist"},
	{"lat", "lat", "latitude of the customer"},
	{"lng", "lng", "longitude of the customer"},
	{"limit", "limit", "maximum number of results"},
}

func newSearchCmd(opts *rootOptions) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "search",
		Short: "Run one search against the configured providers",
		Example: `  slotfinder search --query "fade tomorrow under $40 with alex"
  slotfinder search --service fade --budget 35 --limit 5 --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			values := url.Values{}
			for _, f := range searchFlags {
				if cmd.Flags().Changed(f.name) {
					v, _ := cmd.Flags().GetString(f.name)
					values.Set(f.param, v)
				}
			}
			req, err := handler.ParseSearchParams(values)
			if err != nil {
				return err
			}

			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			providersList, err := app.BuildProviders(cfg.Providers, logger)
			if err != nil {
				return err
			}
			aggregator := search.NewAggregator(providersList, cfg.Search.Timeout, obs.NewMetrics(logger), logger)

			result, err := aggregator.Search(context.Background(), req)
			if err != nil {
				return fmt.Errorf("search: %w", err)
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(result)
			}
			return printSlots(cmd.OutOrStdout(), result)
		},
	}

	for _, f := range searchFlags {
		cmd.Flags().String(f.name, "", f.usage)
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the raw result as JSON")
	return cmd
}

func printSlots(out io.Writer, result *types.Result) error {
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SCORE\tSTART\tPRICE\tSERVICE\tSTYLIST\tLOCATION\tID")
	for _, s := range result.Slots {
		stylist := "-"
		if s.StylistName != nil {
			stylist = *s.StylistName
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			strconv.FormatFloat(s.Score, 'f', 4, 64),
			s.StartTime.Format("Mon Jan 2 15:04"),
			handler.FormatPrice(s.PriceCents),
			s.ServiceName,
			stylist,
			s.LocationName,
			s.ID,
		)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(out, "\n%d slots from %d/%d providers\n",
		len(result.Slots), result.ProvidersSucceeded, result.ProvidersTotal)
	return err
}
