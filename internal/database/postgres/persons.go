package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/wipfli/immich/internal/database"
	apperrors "github.com/wipfli/immich/internal/errors"
)

// PersonRepository owns persons and the person links of faces.
type PersonRepository struct {
	pool       *Pool
	reassigner database.Reassigner
}

// NewPersonRepository creates a person repository.
func NewPersonRepository(pool *Pool) *PersonRepository {
	r := &PersonRepository{pool: pool}
	r.reassigner = database.Reassigner{Begin: r.beginReassign}
	return r
}

const personColumns = "p.id, p.owner_id, p.name, p.is_hidden, p.created_at"

func scanPerson(row interface{ Scan(...any) error }, withCount bool) (database.Person, error) {
	var p database.Person
	dest := []any{&p.ID, &p.OwnerID, &p.Name, &p.IsHidden, &p.CreatedAt}
	if withCount {
		dest = append(dest, &p.FaceCount)
	}
	err := row.Scan(dest...)
	return p, err
}

func scanPersons(rows *sql.Rows, withCount bool) ([]database.Person, error) {
	persons := []database.Person{}
	for rows.Next() {
		p, err := scanPerson(rows, withCount)
		if err != nil {
			return nil, fmt.Errorf("scan person: %w", err)
		}
		persons = append(persons, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate persons: %w", err)
	}
	return persons, nil
}

// GetPerson returns a person with its face count, nil if missing.
func (r *PersonRepository) GetPerson(ctx context.Context, personID string) (*database.Person, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+personColumns+`, (SELECT COUNT(*) FROM asset_faces f WHERE f.person_id = p.id)
		FROM persons p
		WHERE p.id = $1
	`, personID)
	p, err := scanPerson(row, true)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get person: %w", err)
	}
	return &p, nil
}

// PersonsRankedForOwner lists the owner's persons in display order. The
// ORDER BY matches database.ComparePersons; names compare bytewise.
func (r *PersonRepository) PersonsRankedForOwner(ctx context.Context, ownerID string, opts database.PersonSearchOptions) ([]database.Person, error) {
	minFaces := opts.MinimumFaceCount
	if minFaces <= 0 {
		minFaces = database.DefaultMinimumFaceCount
	}

	rows, err := r.pool.Query(ctx, `
		SELECT `+personColumns+`, COUNT(f.id) AS face_count
		FROM persons p
		LEFT JOIN asset_faces f ON f.person_id = p.id
		WHERE p.owner_id = $1 AND ($2 OR NOT p.is_hidden)
		GROUP BY p.id
		HAVING COUNT(f.id) >= $3
		ORDER BY
			p.is_hidden,
			NULLIF(BTRIM(p.name), '') IS NULL,
			face_count DESC,
			p.name COLLATE "C",
			p.id COLLATE "C"
		LIMIT $4
	`, ownerID, opts.WithHidden, minFaces, database.PersonRankLimit)
	if err != nil {
		return nil, fmt.Errorf("query ranked persons: %w", err)
	}
	defer rows.Close()

	return scanPersons(rows, true)
}

// PersonsWithoutFaces returns persons that no face links to.
func (r *PersonRepository) PersonsWithoutFaces(ctx context.Context) ([]database.Person, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+personColumns+`
		FROM persons p
		WHERE NOT EXISTS (SELECT 1 FROM asset_faces f WHERE f.person_id = p.id)
		ORDER BY p.id
	`)
	if err != nil {
		return nil, fmt.Errorf("query persons without faces: %w", err)
	}
	defer rows.Close()

	return scanPersons(rows, false)
}

// FacesWithoutPerson returns the owner's unclustered faces.
func (r *PersonRepository) FacesWithoutPerson(ctx context.Context, ownerID string) ([]database.Face, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+faceColumns+`
		FROM asset_faces f
		JOIN assets a ON a.id = f.asset_id
		WHERE a.owner_id = $1 AND f.person_id IS NULL
		ORDER BY f.id
	`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("query faces without person: %w", err)
	}
	defer rows.Close()

	return scanFaces(rows)
}

// GetFacesByPerson returns the faces linked to a person.
func (r *PersonRepository) GetFacesByPerson(ctx context.Context, personID string) ([]database.Face, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+faceColumns+`
		FROM asset_faces f
		WHERE f.person_id = $1
		ORDER BY f.id
	`, personID)
	if err != nil {
		return nil, fmt.Errorf("query faces by person: %w", err)
	}
	defer rows.Close()

	return scanFaces(rows)
}

// CreatePerson inserts a person, generating an id when empty.
func (r *PersonRepository) CreatePerson(ctx context.Context, person database.Person) (*database.Person, error) {
	if person.OwnerID == "" {
		return nil, apperrors.New(apperrors.CodeInvalidInput, "person owner is required")
	}
	if person.ID == "" {
		person.ID = uuid.NewString()
	}
	if person.CreatedAt.IsZero() {
		person.CreatedAt = time.Now()
	}

	_, err := r.pool.Exec(ctx, `
		INSERT INTO persons (id, owner_id, name, is_hidden, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, person.ID, person.OwnerID, person.Name, person.IsHidden, person.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("create person: %w", err)
	}
	person.FaceCount = 0
	return &person, nil
}

// UpdatePerson changes the name and hidden flag of a person.
func (r *PersonRepository) UpdatePerson(ctx context.Context, person database.Person) (*database.Person, error) {
	res, err := r.pool.Exec(ctx,
		"UPDATE persons SET name = $2, is_hidden = $3 WHERE id = $1",
		person.ID, person.Name, person.IsHidden)
	if err != nil {
		return nil, fmt.Errorf("update person: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, apperrors.NotFound("person", person.ID)
	}
	return r.GetPerson(ctx, person.ID)
}

// DeletePerson removes a person; the foreign key unlinks its faces.
func (r *PersonRepository) DeletePerson(ctx context.Context, personID string) error {
	res, err := r.pool.Exec(ctx, "DELETE FROM persons WHERE id = $1", personID)
	if err != nil {
		return fmt.Errorf("delete person: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return apperrors.NotFound("person", personID)
	}
	return nil
}

// DeleteAll removes every person and returns how many were deleted.
func (r *PersonRepository) DeleteAll(ctx context.Context) (int, error) {
	res, err := r.pool.Exec(ctx, "DELETE FROM persons")
	if err != nil {
		return 0, fmt.Errorf("delete persons: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("count deleted persons: %w", err)
	}
	return int(n), nil
}

// ReassignFaces moves faces between persons in one SERIALIZABLE transaction,
// retrying when PostgreSQL aborts it.
func (r *PersonRepository) ReassignFaces(ctx context.Context, oldPersonID, newPersonID string) (database.ReassignResult, error) {
	return r.reassigner.Reassign(ctx, oldPersonID, newPersonID)
}

func (r *PersonRepository) beginReassign(ctx context.Context) (database.ReassignTx, error) {
	tx, err := r.pool.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, classify(err, "begin reassign")
	}
	return &reassignTx{tx: tx}, nil
}

// reassignTx implements database.ReassignTx on a SERIALIZABLE transaction.
type reassignTx struct {
	tx *sql.Tx
}

func (t *reassignTx) ConflictingAssets(ctx context.Context, oldPersonID, newPersonID string) ([]string, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT DISTINCT o.asset_id
		FROM asset_faces o
		JOIN asset_faces n ON n.asset_id = o.asset_id
		WHERE o.person_id = $1 AND n.person_id = $2
		ORDER BY o.asset_id
	`, oldPersonID, newPersonID)
	if err != nil {
		return nil, classify(err, "scan conflicting assets")
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, classify(err, "scan conflicting asset")
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err, "iterate conflicting assets")
	}
	return ids, nil
}

func (t *reassignTx) DetachFaces(ctx context.Context, personID string, assetIDs []string) (int, error) {
	res, err := t.tx.ExecContext(ctx,
		"UPDATE asset_faces SET person_id = NULL WHERE person_id = $1 AND asset_id = ANY($2)",
		personID, pq.Array(assetIDs))
	if err != nil {
		return 0, classify(err, "detach faces")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("count detached faces: %w", err)
	}
	return int(n), nil
}

// MoveFaces runs the bulk update inside a savepoint. A unique violation means a
// concurrent writer linked the new person on one of the assets; the savepoint
// is rolled back so the transaction stays usable for a rescan.
func (t *reassignTx) MoveFaces(ctx context.Context, oldPersonID, newPersonID string) (int, error) {
	if _, err := t.tx.ExecContext(ctx, "SAVEPOINT reassign_move"); err != nil {
		return 0, classify(err, "savepoint")
	}

	res, err := t.tx.ExecContext(ctx,
		"UPDATE asset_faces SET person_id = $2 WHERE person_id = $1", oldPersonID, newPersonID)
	if sqlState(err) == sqlStateUniqueViolation {
		if _, rbErr := t.tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT reassign_move"); rbErr != nil {
			return 0, classify(rbErr, "rollback to savepoint")
		}
		return 0, apperrors.Wrap(err, apperrors.CodeConflictDuringReassign, "duplicate person on asset")
	}
	if err != nil {
		return 0, classify(err, "move faces")
	}

	if _, err := t.tx.ExecContext(ctx, "RELEASE SAVEPOINT reassign_move"); err != nil {
		return 0, classify(err, "release savepoint")
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("count moved faces: %w", err)
	}
	return int(n), nil
}

func (t *reassignTx) Commit() error {
	return classify(t.tx.Commit(), "commit reassign")
}

func (t *reassignTx) Rollback() error {
	return t.tx.Rollback()
}

// Verify interface compliance
var _ database.PersonWriter = (*PersonRepository)(nil)
