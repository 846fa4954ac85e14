package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/wipfli/immich/internal/config"
	"github.com/wipfli/immich/internal/database"
)

var peopleCmd = &cobra.Command{
	Use:   "people",
	Short: "List and correct recognized people",
	Long: `List the people recognized in a library and correct face clustering.
Use subcommands to move faces between people, merge duplicates and clean up.`,
}

var peopleListCmd = &cobra.Command{
	Use:   "list",
	Short: "List an owner's people in display order",
	Long: `List the people of an owner: visible before hidden, named before unnamed,
then by number of faces.

Examples:
  immich people list --owner 6f1c...
  immich people list --owner 6f1c... --with-hidden --min-faces 3 --json`,
	Args: cobra.NoArgs,
	RunE: runPeopleList,
}

var peopleOrphansCmd = &cobra.Command{
	Use:   "orphans",
	Short: "Show people without faces and faces without people",
	Args:  cobra.NoArgs,
	RunE:  runPeopleOrphans,
}

var peopleReassignCmd = &cobra.Command{
	Use:   "reassign <from-person-id> <to-person-id>",
	Short: "Move every face of one person to another",
	Long: `Move every face of <from-person-id> to <to-person-id>.

On photos where both people appear, the face of <from-person-id> is unlinked
instead of moved, so a photo never shows the same person twice.`,
	Args: cobra.ExactArgs(2),
	RunE: runPeopleReassign,
}

var peopleMergeCmd = &cobra.Command{
	Use:   "merge <target-person-id> <source-person-id>...",
	Short: "Merge duplicate people into one",
	Long: `Reassign the faces of every source person to the target and delete the sources.
A source that fails is reported and the remaining ones are still merged.`,
	Args: cobra.MinimumNArgs(2),
	RunE: runPeopleMerge,
}

var peopleResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Delete all people, keeping their faces unlinked",
	Args:  cobra.NoArgs,
	RunE:  runPeopleReset,
}

func init() {
	rootCmd.AddCommand(peopleCmd)
	peopleCmd.AddCommand(peopleListCmd, peopleOrphansCmd, peopleReassignCmd, peopleMergeCmd, peopleResetCmd)

	peopleListCmd.Flags().String("owner", "", "Owner (user) id")
	peopleListCmd.Flags().Bool("with-hidden", false, "Include hidden people")
	peopleListCmd.Flags().Int("min-faces", database.DefaultMinimumFaceCount, "Minimum number of faces")
	peopleListCmd.Flags().Bool("json", false, "Output as JSON")
	_ = peopleListCmd.MarkFlagRequired("owner")

	peopleOrphansCmd.Flags().String("owner", "", "Owner whose unlinked faces are counted")
	peopleOrphansCmd.Flags().Bool("delete", false, "Delete the people without faces")

	peopleReassignCmd.Flags().Bool("json", false, "Output as JSON")
	peopleMergeCmd.Flags().Bool("json", false, "Output as JSON")

	peopleResetCmd.Flags().Bool("yes", false, "Confirm deleting every person")
}

// openPersons initializes the database and returns the person repository.
func openPersons(ctx context.Context) (database.PersonWriter, error) {
	cfg := config.Load()
	if err := initDatabase(ctx, cfg); err != nil {
		return nil, err
	}
	return database.GetPersonWriter(ctx)
}

func outputJSON(data any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(data); err != nil {
		return fmt.Errorf("encoding JSON output: %w", err)
	}
	return nil
}

func personLabel(p database.Person) string {
	if p.Name == "" {
		return "(unnamed)"
	}
	return p.Name
}

func runPeopleList(cmd *cobra.Command, args []string) error {
	owner := mustGetString(cmd, "owner")
	jsonOutput := mustGetBool(cmd, "json")
	opts := database.PersonSearchOptions{
		MinimumFaceCount: mustGetInt(cmd, "min-faces"),
		WithHidden:       mustGetBool(cmd, "with-hidden"),
	}

	ctx := context.Background()
	persons, err := openPersons(ctx)
	if err != nil {
		return err
	}
	defer closeDatabase()

	people, err := persons.PersonsRankedForOwner(ctx, owner, opts)
	if err != nil {
		return fmt.Errorf("listing people: %w", err)
	}

	if jsonOutput {
		return outputJSON(people)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tFACES\tHIDDEN")
	fmt.Fprintln(w, "--\t----\t-----\t------")
	for _, p := range people {
		fmt.Fprintf(w, "%s\t%s\t%d\t%t\n", p.ID, personLabel(p), p.FaceCount, p.IsHidden)
	}
	w.Flush()

	fmt.Printf("\nTotal: %d people\n", len(people))
	return nil
}

func runPeopleOrphans(cmd *cobra.Command, args []string) error {
	owner := mustGetString(cmd, "owner")
	deleteOrphans := mustGetBool(cmd, "delete")

	ctx := context.Background()
	persons, err := openPersons(ctx)
	if err != nil {
		return err
	}
	defer closeDatabase()

	empty, err := persons.PersonsWithoutFaces(ctx)
	if err != nil {
		return fmt.Errorf("listing people without faces: %w", err)
	}
	fmt.Printf("People without faces: %d\n", len(empty))
	for _, p := range empty {
		fmt.Printf("  %s  %s (owner %s)\n", p.ID, personLabel(p), p.OwnerID)
	}

	if owner != "" {
		faces, err := persons.FacesWithoutPerson(ctx, owner)
		if err != nil {
			return fmt.Errorf("listing faces without person: %w", err)
		}
		fmt.Printf("Faces without a person for owner %s: %d\n", owner, len(faces))
	}

	if !deleteOrphans || len(empty) == 0 {
		return nil
	}

	deleted := 0
	for _, p := range empty {
		if err := persons.DeletePerson(ctx, p.ID); err != nil {
			fmt.Printf("  Warning: failed to delete %s: %v\n", p.ID, err)
			continue
		}
		deleted++
	}
	fmt.Printf("Deleted %d people\n", deleted)
	return nil
}

func runPeopleReassign(cmd *cobra.Command, args []string) error {
	fromID, toID := args[0], args[1]
	jsonOutput := mustGetBool(cmd, "json")

	ctx := context.Background()
	persons, err := openPersons(ctx)
	if err != nil {
		return err
	}
	defer closeDatabase()

	res, err := persons.ReassignFaces(ctx, fromID, toID)
	if err != nil {
		return fmt.Errorf("reassigning faces: %w", err)
	}

	if jsonOutput {
		return outputJSON(res)
	}
	fmt.Printf("Moved %d faces from %s to %s\n", res.Moved, fromID, toID)
	if res.Detached > 0 {
		fmt.Printf("Unlinked %d faces on %d photos that already show %s\n", res.Detached, len(res.ConflictAssetIDs), toID)
	}
	return nil
}

func runPeopleMerge(cmd *cobra.Command, args []string) error {
	targetID, sourceIDs := args[0], args[1:]
	jsonOutput := mustGetBool(cmd, "json")

	ctx := context.Background()
	persons, err := openPersons(ctx)
	if err != nil {
		return err
	}
	defer closeDatabase()

	results, err := database.MergePersons(ctx, persons, targetID, sourceIDs)
	if err != nil {
		return fmt.Errorf("merging people: %w", err)
	}

	if jsonOutput {
		return outputJSON(results)
	}

	failed := 0
	for _, r := range results {
		if r.Success {
			fmt.Printf("  %s: merged (%d moved, %d unlinked)\n", r.SourceID, r.Moved, r.Detached)
		} else {
			failed++
			fmt.Printf("  %s: failed: %s\n", r.SourceID, r.Error)
		}
	}
	fmt.Printf("\nMerged %d of %d people into %s\n", len(results)-failed, len(results), targetID)
	if failed > 0 {
		return fmt.Errorf("%d merges failed", failed)
	}
	return nil
}

func runPeopleReset(cmd *cobra.Command, args []string) error {
	if !mustGetBool(cmd, "yes") {
		return errors.New("refusing to delete all people without --yes")
	}

	ctx := context.Background()
	persons, err := openPersons(ctx)
	if err != nil {
		return err
	}
	defer closeDatabase()

	n, err := persons.DeleteAll(ctx)
	if err != nil {
		return fmt.Errorf("deleting people: %w", err)
	}
	fmt.Printf("Deleted %d people\n", n)
	return nil
}
