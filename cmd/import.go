package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"github.com/wipfli/immich/internal/config"
	"github.com/wipfli/immich/internal/database"
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import library data computed elsewhere",
}

var importSmartInfoCmd = &cobra.Command{
	Use:   "smart-info <file.json>",
	Short: "Import assets, smart info, people and faces from a JSON export",
	Long: `Import assets with their CLIP embeddings, tags and detected faces.

The file is a JSON object with the optional arrays "assets", "smartInfo",
"persons" and "faces". Existing rows are replaced. Persons and faces without
an id get a new UUID. Use "-" to read from stdin.

Example:
  immich import smart-info export.json`,
	Args: cobra.ExactArgs(1),
	RunE: runImportSmartInfo,
}

func init() {
	rootCmd.AddCommand(importCmd)
	importCmd.AddCommand(importSmartInfoCmd)

	importSmartInfoCmd.Flags().Bool("json", false, "Output the summary as JSON")
}

type importFile struct {
	Assets    []importAsset     `json:"assets"`
	SmartInfo []importSmartInfo `json:"smartInfo"`
	Persons   []importPerson    `json:"persons"`
	Faces     []importFace      `json:"faces"`
}

type importAsset struct {
	ID               string    `json:"id"`
	OwnerID          string    `json:"ownerId"`
	OriginalFileName string    `json:"originalFileName"`
	City             string    `json:"city"`
	FileCreatedAt    time.Time `json:"fileCreatedAt"`
	IsArchived       bool      `json:"isArchived"`
}

type importSmartInfo struct {
	AssetID       string    `json:"assetId"`
	OwnerID       string    `json:"ownerId"`
	Tags          []string  `json:"tags"`
	Objects       []string  `json:"objects"`
	CLIPEmbedding []float32 `json:"clipEmbedding"`
}

type importPerson struct {
	ID       string `json:"id"`
	OwnerID  string `json:"ownerId"`
	Name     string `json:"name"`
	IsHidden bool   `json:"isHidden"`
}

type importFace struct {
	ID          string               `json:"id"`
	AssetID     string               `json:"assetId"`
	OwnerID     string               `json:"ownerId"`
	PersonID    string               `json:"personId"`
	BoundingBox database.BoundingBox `json:"boundingBox"`
	Embedding   []float32            `json:"embedding"`
}

// ImportResult summarizes an import run
type ImportResult struct {
	Assets     int      `json:"assets"`
	SmartInfo  int      `json:"smart_info"`
	Persons    int      `json:"persons"`
	Faces      int      `json:"faces"`
	Errors     []string `json:"errors,omitempty"`
	DurationMs int64    `json:"duration_ms"`
}

// importStores are the repositories an import writes to
type importStores struct {
	assets    database.AssetWriter
	smartInfo database.SmartInfoStore
	persons   database.PersonWriter
	faces     database.FaceStore
}

func readImportFile(r io.Reader) (*importFile, error) {
	var f importFile
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("parsing import file: %w", err)
	}
	return &f, nil
}

func (f *importFile) total() int {
	return len(f.Assets) + len(f.SmartInfo) + len(f.Persons) + len(f.Faces)
}

// runImport writes assets first so smart info and faces find their owner.
// A failing row is recorded and the import continues.
func runImport(ctx context.Context, stores importStores, f *importFile, bar *progressbar.ProgressBar) ImportResult {
	var result ImportResult
	fail := func(kind, id string, err error) {
		result.Errors = append(result.Errors, fmt.Sprintf("%s %s: %v", kind, id, err))
	}
	step := func() {
		if bar != nil {
			_ = bar.Add(1)
		}
	}

	for _, a := range f.Assets {
		err := stores.assets.UpsertAsset(ctx, database.Asset{
			ID:               a.ID,
			OwnerID:          a.OwnerID,
			OriginalFileName: a.OriginalFileName,
			City:             a.City,
			FileCreatedAt:    a.FileCreatedAt,
			IsArchived:       a.IsArchived,
		})
		if err != nil {
			fail("asset", a.ID, err)
		} else {
			result.Assets++
		}
		step()
	}

	for _, s := range f.SmartInfo {
		err := stores.smartInfo.Upsert(ctx, s.OwnerID, database.SmartInfo{
			AssetID:       s.AssetID,
			Tags:          s.Tags,
			Objects:       s.Objects,
			CLIPEmbedding: s.CLIPEmbedding,
		})
		if err != nil {
			fail("smart info", s.AssetID, err)
		} else {
			result.SmartInfo++
		}
		step()
	}

	for _, p := range f.Persons {
		if err := importPersonRow(ctx, stores.persons, p); err != nil {
			fail("person", p.ID, err)
		} else {
			result.Persons++
		}
		step()
	}

	for _, face := range f.Faces {
		id := face.ID
		if id == "" {
			id = uuid.NewString()
		}
		var personID *string
		if face.PersonID != "" {
			personID = &face.PersonID
		}
		err := stores.faces.UpsertFace(ctx, face.OwnerID, database.Face{
			ID:          id,
			AssetID:     face.AssetID,
			PersonID:    personID,
			BoundingBox: face.BoundingBox,
			Embedding:   face.Embedding,
		})
		if err != nil {
			fail("face", id, err)
		} else {
			result.Faces++
		}
		step()
	}
	return result
}

// importPersonRow creates the person, or updates name and visibility when it exists.
func importPersonRow(ctx context.Context, persons database.PersonWriter, p importPerson) error {
	person := database.Person{ID: p.ID, OwnerID: p.OwnerID, Name: p.Name, IsHidden: p.IsHidden}
	if person.ID == "" {
		person.ID = uuid.NewString()
	}

	existing, err := persons.GetPerson(ctx, person.ID)
	if err != nil {
		return err
	}
	if existing == nil {
		_, err = persons.CreatePerson(ctx, person)
		return err
	}
	if existing.OwnerID != person.OwnerID {
		return fmt.Errorf("person belongs to owner %s", existing.OwnerID)
	}
	_, err = persons.UpdatePerson(ctx, person)
	return err
}

func openImportFile(path string) (io.ReadCloser, error) {
	if path == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	return os.Open(path)
}

func runImportSmartInfo(cmd *cobra.Command, args []string) error {
	jsonOutput := mustGetBool(cmd, "json")
	startTime := time.Now()

	r, err := openImportFile(args[0])
	if err != nil {
		return fmt.Errorf("opening import file: %w", err)
	}
	f, err := readImportFile(r)
	r.Close()
	if err != nil {
		return err
	}

	ctx := context.Background()
	cfg := config.Load()
	if err := initDatabase(ctx, cfg); err != nil {
		return err
	}
	defer closeDatabase()

	var stores importStores
	if stores.assets, err = database.GetAssetWriter(ctx); err != nil {
		return err
	}
	if stores.smartInfo, err = database.GetSmartInfoStore(ctx); err != nil {
		return err
	}
	if stores.persons, err = database.GetPersonWriter(ctx); err != nil {
		return err
	}
	if stores.faces, err = database.GetFaceStore(ctx); err != nil {
		return err
	}

	var bar *progressbar.ProgressBar
	if !jsonOutput {
		fmt.Printf("Importing %d assets, %d smart info rows, %d people and %d faces...\n",
			len(f.Assets), len(f.SmartInfo), len(f.Persons), len(f.Faces))
		bar = progressbar.NewOptions(f.total(),
			progressbar.OptionSetDescription("Importing"),
			progressbar.OptionShowCount(),
			progressbar.OptionShowIts(),
			progressbar.OptionSetItsString("rows"),
			progressbar.OptionShowElapsedTimeOnFinish(),
			progressbar.OptionSetPredictTime(true),
			progressbar.OptionFullWidth(),
		)
	}

	result := runImport(ctx, stores, f, bar)

	// Upserts only reached the in-memory indexes; persist them so the next
	// start does not load graphs built before this import.
	report := io.Writer(os.Stdout)
	if jsonOutput {
		report = os.Stderr
	} else {
		fmt.Println()
	}
	saveHNSWIndexes(report)
	result.DurationMs = time.Since(startTime).Milliseconds()

	if jsonOutput {
		return outputJSON(result)
	}

	fmt.Printf("\nImported %d assets, %d smart info rows, %d people, %d faces in %s\n",
		result.Assets, result.SmartInfo, result.Persons, result.Faces, time.Since(startTime).Round(time.Millisecond))
	if len(result.Errors) > 0 {
		fmt.Printf("\nErrors: %d\n", len(result.Errors))
		for _, e := range result.Errors {
			fmt.Printf("  - %s\n", e)
		}
	}
	return nil
}
