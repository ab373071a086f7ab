package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/loamworks/tessera/internal/activity"
	"github.com/loamworks/tessera/internal/city"
	"github.com/loamworks/tessera/internal/compact"
	"github.com/loamworks/tessera/internal/grid"
	"github.com/loamworks/tessera/internal/roadnet"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS activities (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	sport       TEXT NOT NULL DEFAULT '',
	polyline    TEXT NOT NULL,
	private     INTEGER NOT NULL DEFAULT 0,
	recorded_at DATETIME,
	created_at  DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS visited_cells (
	cell_size REAL NOT NULL,
	x         INTEGER NOT NULL,
	y         INTEGER NOT NULL,
	PRIMARY KEY (cell_size, x, y)
);

CREATE TABLE IF NOT EXISTS visited_rects (
	cell_size REAL NOT NULL,
	min_x     INTEGER NOT NULL,
	min_y     INTEGER NOT NULL,
	max_x     INTEGER NOT NULL,
	max_y     INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS tile_cache (
	zoom       INTEGER NOT NULL,
	x          INTEGER NOT NULL,
	y          INTEGER NOT NULL,
	cell_size  REAL NOT NULL,
	cells      TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	PRIMARY KEY (zoom, x, y, cell_size)
);

CREATE TABLE IF NOT EXISTS cities (
	id             TEXT PRIMARY KEY,
	name           TEXT NOT NULL,
	country        TEXT NOT NULL DEFAULT '',
	region         TEXT NOT NULL DEFAULT '',
	cell_size      REAL NOT NULL,
	boundary       TEXT NOT NULL,
	interior_cells TEXT NOT NULL,
	road_cells     TEXT,
	created_at     DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at     DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_activities_sport ON activities(sport);
CREATE INDEX IF NOT EXISTS idx_activities_created_at ON activities(created_at);
CREATE INDEX IF NOT EXISTS idx_visited_rects_cell_size ON visited_rects(cell_size);
CREATE INDEX IF NOT EXISTS idx_cities_name ON cities(name);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) SaveActivity(ctx context.Context, a *activity.Activity) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO activities (id, name, sport, polyline, private, recorded_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		   name = excluded.name, sport = excluded.sport, polyline = excluded.polyline,
		   private = excluded.private, recorded_at = excluded.recorded_at`,
		a.ID, a.Name, a.Sport, a.Polyline, a.Private, nullableTime(a.RecordedAt), time.Now().UTC(),
	)
	return eris.Wrapf(err, "sqlite: save activity %s", a.ID)
}

func (s *SQLiteStore) ListActivities(ctx context.Context, filter ActivityFilter) ([]activity.Activity, error) {
	query := `SELECT id, name, sport, polyline, private, recorded_at FROM activities WHERE 1=1`
	var args []any

	if filter.Sport != "" {
		query += ` AND sport = ?`
		args = append(args, filter.Sport)
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list activities")
	}
	defer rows.Close()

	var activities []activity.Activity
	for rows.Next() {
		a, err := scanActivity(rows)
		if err != nil {
			return nil, err
		}
		activities = append(activities, *a)
	}
	return activities, eris.Wrap(rows.Err(), "sqlite: list activities iterate")
}

func (s *SQLiteStore) CountActivities(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM activities`).Scan(&count)
	return count, eris.Wrap(err, "sqlite: count activities")
}

func (s *SQLiteStore) AddVisited(ctx context.Context, cellSize float64, cells grid.CellSet) error {
	if cells.Len() == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin add visited")
	}
	defer tx.Rollback()

	if err := insertVisitedCells(ctx, tx, cellSize, cells); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit add visited")
}

func (s *SQLiteStore) Visited(ctx context.Context, cellSize float64) (grid.CellSet, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT x, y FROM visited_cells WHERE cell_size = ?`, cellSize,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: visited")
	}
	defer rows.Close()

	cells := grid.NewCellSet()
	for rows.Next() {
		var c grid.CellCoord
		if err := rows.Scan(&c.X, &c.Y); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan visited cell")
		}
		cells.Add(c)
	}
	return cells, eris.Wrap(rows.Err(), "sqlite: visited iterate")
}

func (s *SQLiteStore) ReplaceVisited(ctx context.Context, cellSize float64, cells grid.CellSet) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin replace visited")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM visited_cells WHERE cell_size = ?`, cellSize); err != nil {
		return eris.Wrap(err, "sqlite: clear visited")
	}
	if err := insertVisitedCells(ctx, tx, cellSize, cells); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit replace visited")
}

func insertVisitedCells(ctx context.Context, tx *sql.Tx, cellSize float64, cells grid.CellSet) error {
	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR IGNORE INTO visited_cells (cell_size, x, y) VALUES (?, ?, ?)`,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare insert visited")
	}
	defer stmt.Close()

	for c := range cells {
		if _, err := stmt.ExecContext(ctx, cellSize, c.X, c.Y); err != nil {
			return eris.Wrap(err, "sqlite: insert visited cell")
		}
	}
	return nil
}

func (s *SQLiteStore) SaveRects(ctx context.Context, cellSize float64, rects []compact.Rectangle) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin save rects")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM visited_rects WHERE cell_size = ?`, cellSize); err != nil {
		return eris.Wrap(err, "sqlite: clear rects")
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO visited_rects (cell_size, min_x, min_y, max_x, max_y) VALUES (?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare insert rect")
	}
	defer stmt.Close()

	for _, r := range rects {
		if _, err := stmt.ExecContext(ctx, cellSize, r.MinX, r.MinY, r.MaxX, r.MaxY); err != nil {
			return eris.Wrap(err, "sqlite: insert rect")
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit save rects")
}

func (s *SQLiteStore) Rects(ctx context.Context, cellSize float64) ([]compact.Rectangle, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT min_x, min_y, max_x, max_y FROM visited_rects WHERE cell_size = ? ORDER BY min_y, min_x`,
		cellSize,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: rects")
	}
	defer rows.Close()

	var rects []compact.Rectangle
	for rows.Next() {
		var r compact.Rectangle
		if err := rows.Scan(&r.MinX, &r.MinY, &r.MaxX, &r.MaxY); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan rect")
		}
		rects = append(rects, r)
	}
	return rects, eris.Wrap(rows.Err(), "sqlite: rects iterate")
}

func (s *SQLiteStore) GetTileCells(ctx context.Context, key roadnet.TileKey) (grid.CellSet, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT cells FROM tile_cache WHERE zoom = ? AND x = ? AND y = ? AND cell_size = ?`,
		int(key.Z), key.X, key.Y, key.CellSize,
	)

	var cellsJSON string
	err := row.Scan(&cellsJSON)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, eris.Wrap(err, "sqlite: get tile cells")
	}
	cells, err := decodeCells([]byte(cellsJSON))
	if err != nil {
		return nil, false, eris.Wrapf(err, "sqlite: tile %s", key)
	}
	return cells, true, nil
}

func (s *SQLiteStore) PutTileCells(ctx context.Context, key roadnet.TileKey, cells grid.CellSet) error {
	cellsJSON, err := encodeCells(cells)
	if err != nil {
		return eris.Wrapf(err, "sqlite: tile %s", key)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO tile_cache (zoom, x, y, cell_size, cells, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (zoom, x, y, cell_size) DO UPDATE SET cells = excluded.cells`,
		int(key.Z), key.X, key.Y, key.CellSize, string(cellsJSON), time.Now().UTC(),
	)
	return eris.Wrapf(err, "sqlite: put tile cells %s", key)
}

func (s *SQLiteStore) ClearTileCache(ctx context.Context, cellSize *float64) (int, error) {
	query := `DELETE FROM tile_cache`
	var args []any
	if cellSize != nil {
		query += ` WHERE cell_size = ?`
		args = append(args, *cellSize)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: clear tile cache")
	}
	n, err := res.RowsAffected()
	return int(n), eris.Wrap(err, "sqlite: rows affected")
}

func (s *SQLiteStore) TileCacheStats(ctx context.Context) (*TileCacheStats, error) {
	var st TileCacheStats
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(LENGTH(cells)), 0) FROM tile_cache`,
	).Scan(&st.Entries, &st.Bytes)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: tile cache stats")
	}
	return &st, nil
}

func (s *SQLiteStore) SaveCity(ctx context.Context, c *city.City) error {
	boundaryJSON, err := encodeBoundary(c.Boundary)
	if err != nil {
		return eris.Wrapf(err, "sqlite: city %s", c.Name)
	}
	interiorJSON, err := encodeCells(c.Interior)
	if err != nil {
		return eris.Wrapf(err, "sqlite: city %s", c.Name)
	}

	// NULL road_cells means "never computed"; '[]' means computed and empty.
	var roadsJSON sql.NullString
	if c.RoadsComputed {
		data, err := encodeCells(c.Roads)
		if err != nil {
			return eris.Wrapf(err, "sqlite: city %s", c.Name)
		}
		roadsJSON = sql.NullString{String: string(data), Valid: true}
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO cities (id, name, country, region, cell_size, boundary, interior_cells, road_cells, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		   name = excluded.name, country = excluded.country, region = excluded.region,
		   cell_size = excluded.cell_size, boundary = excluded.boundary,
		   interior_cells = excluded.interior_cells, road_cells = excluded.road_cells,
		   updated_at = excluded.updated_at`,
		c.ID, c.Name, c.Country, c.Region, c.CellSize,
		string(boundaryJSON), string(interiorJSON), roadsJSON, c.CreatedAt, c.UpdatedAt,
	)
	return eris.Wrapf(err, "sqlite: save city %s", c.ID)
}

func (s *SQLiteStore) GetCity(ctx context.Context, id string) (*city.City, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, country, region, cell_size, boundary, interior_cells, road_cells, created_at, updated_at
		 FROM cities WHERE id = ?`,
		id,
	)
	c, err := scanCity(row)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get city %s", id)
	}
	return c, nil
}

func (s *SQLiteStore) ListCities(ctx context.Context) ([]city.City, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, country, region, cell_size, boundary, interior_cells, road_cells, created_at, updated_at
		 FROM cities ORDER BY name`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list cities")
	}
	defer rows.Close()

	var cities []city.City
	for rows.Next() {
		c, err := scanCity(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: list cities")
		}
		cities = append(cities, *c)
	}
	return cities, eris.Wrap(rows.Err(), "sqlite: list cities iterate")
}

func (s *SQLiteStore) SetCityRoads(ctx context.Context, id string, roads grid.CellSet) error {
	roadsJSON, err := encodeCells(roads)
	if err != nil {
		return eris.Wrapf(err, "sqlite: city roads %s", id)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE cities SET road_cells = ?, updated_at = ? WHERE id = ?`,
		string(roadsJSON), time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set city roads %s", id)
	}
	return checkRowsAffected(res, "city", id)
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanActivity(row scannable) (*activity.Activity, error) {
	var a activity.Activity
	var recordedAt sql.NullTime

	if err := row.Scan(&a.ID, &a.Name, &a.Sport, &a.Polyline, &a.Private, &recordedAt); err != nil {
		return nil, eris.Wrap(err, "sqlite: scan activity")
	}
	if recordedAt.Valid {
		a.RecordedAt = recordedAt.Time.UTC()
	}
	return &a, nil
}

func scanCity(row scannable) (*city.City, error) {
	var c city.City
	var boundaryJSON, interiorJSON string
	var roadsJSON sql.NullString

	err := row.Scan(&c.ID, &c.Name, &c.Country, &c.Region, &c.CellSize,
		&boundaryJSON, &interiorJSON, &roadsJSON, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "scan city")
	}

	if c.Boundary, err = decodeBoundary([]byte(boundaryJSON)); err != nil {
		return nil, err
	}
	if c.Interior, err = decodeCells([]byte(interiorJSON)); err != nil {
		return nil, err
	}
	if roadsJSON.Valid {
		if c.Roads, err = decodeCells([]byte(roadsJSON.String)); err != nil {
			return nil, err
		}
		c.RoadsComputed = true
	}
	return &c, nil
}
