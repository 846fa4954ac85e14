package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/wipfli/immich/internal/config"
	"github.com/wipfli/immich/internal/search"
)

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Search an owner's photos",
	Long: `Search an owner's photos by text, or by CLIP embedding with --clip.
Without a query every photo matches.

Examples:
  immich search --owner 6f1c... beach
  immich search --owner 6f1c... --clip "dog on a sofa"`,
	RunE: runSearch,
}

var exploreCmd = &cobra.Command{
	Use:   "explore",
	Short: "Show the explore groupings of an owner",
	Args:  cobra.NoArgs,
	RunE:  runExplore,
}

func init() {
	rootCmd.AddCommand(searchCmd, exploreCmd)

	searchCmd.Flags().String("owner", "", "Owner (user) id")
	searchCmd.Flags().Bool("clip", false, "Search by CLIP embedding")
	searchCmd.Flags().Bool("json", false, "Output as JSON")
	_ = searchCmd.MarkFlagRequired("owner")

	exploreCmd.Flags().String("owner", "", "Owner (user) id")
	exploreCmd.Flags().Bool("json", false, "Output as JSON")
	_ = exploreCmd.MarkFlagRequired("owner")
}

// openSearch initializes the database and the search service.
func openSearch(ctx context.Context) (*search.Service, func(), error) {
	cfg := config.Load()
	if err := initDatabase(ctx, cfg); err != nil {
		return nil, nil, err
	}
	svc, closeCache, err := newSearchService(ctx, cfg)
	if err != nil {
		closeDatabase()
		return nil, nil, err
	}
	return svc, func() {
		closeCache()
		closeDatabase()
	}, nil
}

func runSearch(cmd *cobra.Command, args []string) error {
	owner := mustGetString(cmd, "owner")
	jsonOutput := mustGetBool(cmd, "json")
	req := search.SearchRequest{
		Q:    strings.Join(args, " "),
		CLIP: mustGetBool(cmd, "clip"),
	}

	ctx := context.Background()
	svc, closeFn, err := openSearch(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	resp, err := svc.Search(ctx, owner, req)
	if err != nil {
		return err
	}

	if jsonOutput {
		return outputJSON(resp)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tFILE\tCITY\tTAKEN\tDISTANCE")
	fmt.Fprintln(w, "--\t----\t----\t-----\t--------")
	for _, a := range resp.Assets.Items {
		city := ""
		if a.ExifInfo != nil {
			city = a.ExifInfo.City
		}
		distance := "-"
		if a.Distance != nil {
			distance = fmt.Sprintf("%.4f", *a.Distance)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", a.ID, a.OriginalFileName, city, a.FileCreatedAt.Format("2006-01-02"), distance)
	}
	w.Flush()

	fmt.Printf("\nTotal: %d photos\n", resp.Assets.Total)
	return nil
}

func runExplore(cmd *cobra.Command, args []string) error {
	owner := mustGetString(cmd, "owner")
	jsonOutput := mustGetBool(cmd, "json")

	ctx := context.Background()
	svc, closeFn, err := openSearch(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	fields, err := svc.ExploreData(ctx, owner)
	if err != nil {
		return err
	}

	if jsonOutput {
		return outputJSON(fields)
	}

	for _, f := range fields {
		fmt.Printf("%s (%d)\n", f.FieldName, len(f.Items))
		for _, item := range f.Items {
			fmt.Printf("  %-30s %s\n", item.Value, item.Data.OriginalFileName)
		}
	}
	return nil
}
