package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/loamworks/tessera/internal/activity"
	"github.com/loamworks/tessera/internal/city"
	"github.com/loamworks/tessera/internal/compact"
	"github.com/loamworks/tessera/internal/db"
	"github.com/loamworks/tessera/internal/grid"
	"github.com/loamworks/tessera/internal/roadnet"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the hottest store operations.
var preparedStatements = map[string]string{
	"save_activity": `INSERT INTO activities (id, name, sport, polyline, private, recorded_at, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7) ON CONFLICT (id) DO UPDATE SET name = $2, sport = $3, polyline = $4, private = $5, recorded_at = $6`,
	"get_tile":      `SELECT cells FROM tile_cache WHERE zoom = $1 AND x = $2 AND y = $3 AND cell_size = $4`,
	"put_tile":      `INSERT INTO tile_cache (zoom, x, y, cell_size, cells, created_at) VALUES ($1, $2, $3, $4, $5, $6) ON CONFLICT (zoom, x, y, cell_size) DO UPDATE SET cells = $5`,
	"get_visited":   `SELECT x, y FROM visited_cells WHERE cell_size = $1`,
	"set_roads":     `UPDATE cities SET road_cells = $1, updated_at = $2 WHERE id = $3`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	// Apply pool sizing from config with sensible defaults.
	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	// Prepare frequently-used statements on each new connection.
	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// Pool returns the underlying database pool for subsystems that need direct
// bulk access (e.g., TIGER place loads).
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS activities (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	sport       TEXT NOT NULL DEFAULT '',
	polyline    TEXT NOT NULL,
	private     BOOLEAN NOT NULL DEFAULT false,
	recorded_at TIMESTAMPTZ,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS visited_cells (
	cell_size DOUBLE PRECISION NOT NULL,
	x         BIGINT NOT NULL,
	y         BIGINT NOT NULL,
	PRIMARY KEY (cell_size, x, y)
);

CREATE TABLE IF NOT EXISTS visited_rects (
	cell_size DOUBLE PRECISION NOT NULL,
	min_x     BIGINT NOT NULL,
	min_y     BIGINT NOT NULL,
	max_x     BIGINT NOT NULL,
	max_y     BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS tile_cache (
	zoom       INTEGER NOT NULL,
	x          BIGINT NOT NULL,
	y          BIGINT NOT NULL,
	cell_size  DOUBLE PRECISION NOT NULL,
	cells      JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (zoom, x, y, cell_size)
);

CREATE TABLE IF NOT EXISTS cities (
	id             TEXT PRIMARY KEY,
	name           TEXT NOT NULL,
	country        TEXT NOT NULL DEFAULT '',
	region         TEXT NOT NULL DEFAULT '',
	cell_size      DOUBLE PRECISION NOT NULL,
	boundary       JSONB NOT NULL,
	boundary_ewkb  BYTEA,
	interior_cells JSONB NOT NULL,
	road_cells     JSONB,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_activities_sport ON activities(sport);
CREATE INDEX IF NOT EXISTS idx_activities_created_at ON activities(created_at);
CREATE INDEX IF NOT EXISTS idx_visited_rects_cell_size ON visited_rects(cell_size);
CREATE INDEX IF NOT EXISTS idx_cities_name ON cities(name);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) SaveActivity(ctx context.Context, a *activity.Activity) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO activities (id, name, sport, polyline, private, recorded_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (id) DO UPDATE SET
		   name = $2, sport = $3, polyline = $4, private = $5, recorded_at = $6`,
		a.ID, a.Name, a.Sport, a.Polyline, a.Private, nullableTime(a.RecordedAt), time.Now().UTC(),
	)
	return eris.Wrapf(err, "postgres: save activity %s", a.ID)
}

func (s *PostgresStore) ListActivities(ctx context.Context, filter ActivityFilter) ([]activity.Activity, error) {
	query := `SELECT id, name, sport, polyline, private, recorded_at FROM activities WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Sport != "" {
		query += fmt.Sprintf(` AND sport = $%d`, argIdx)
		args = append(args, filter.Sport)
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
		argIdx++
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list activities")
	}
	defer rows.Close()

	var activities []activity.Activity
	for rows.Next() {
		var a activity.Activity
		var recordedAt *time.Time
		if err := rows.Scan(&a.ID, &a.Name, &a.Sport, &a.Polyline, &a.Private, &recordedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan activity")
		}
		if recordedAt != nil {
			a.RecordedAt = recordedAt.UTC()
		}
		activities = append(activities, a)
	}
	return activities, eris.Wrap(rows.Err(), "postgres: list activities iterate")
}

func (s *PostgresStore) CountActivities(ctx context.Context) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM activities`).Scan(&count)
	return count, eris.Wrap(err, "postgres: count activities")
}

func (s *PostgresStore) AddVisited(ctx context.Context, cellSize float64, cells grid.CellSet) error {
	cols := []string{"cell_size", "x", "y"}
	_, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "visited_cells",
		Columns:      cols,
		ConflictKeys: cols,
	}, cellRows(cellSize, cells))
	return eris.Wrap(err, "postgres: add visited")
}

func (s *PostgresStore) Visited(ctx context.Context, cellSize float64) (grid.CellSet, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT x, y FROM visited_cells WHERE cell_size = $1`, cellSize,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: visited")
	}
	defer rows.Close()

	cells := grid.NewCellSet()
	for rows.Next() {
		var c grid.CellCoord
		if err := rows.Scan(&c.X, &c.Y); err != nil {
			return nil, eris.Wrap(err, "postgres: scan visited cell")
		}
		cells.Add(c)
	}
	return cells, eris.Wrap(rows.Err(), "postgres: visited iterate")
}

func (s *PostgresStore) ReplaceVisited(ctx context.Context, cellSize float64, cells grid.CellSet) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin replace visited")
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM visited_cells WHERE cell_size = $1`, cellSize); err != nil {
		return eris.Wrap(err, "postgres: clear visited")
	}
	if _, err := tx.CopyFrom(ctx, pgx.Identifier{"visited_cells"},
		[]string{"cell_size", "x", "y"}, pgx.CopyFromRows(cellRows(cellSize, cells))); err != nil {
		return eris.Wrap(err, "postgres: copy visited cells")
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit replace visited")
}

func (s *PostgresStore) SaveRects(ctx context.Context, cellSize float64, rects []compact.Rectangle) error {
	rows := make([][]any, 0, len(rects))
	for _, r := range rects {
		rows = append(rows, []any{cellSize, r.MinX, r.MinY, r.MaxX, r.MaxY})
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin save rects")
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM visited_rects WHERE cell_size = $1`, cellSize); err != nil {
		return eris.Wrap(err, "postgres: clear rects")
	}
	if _, err := tx.CopyFrom(ctx, pgx.Identifier{"visited_rects"},
		[]string{"cell_size", "min_x", "min_y", "max_x", "max_y"}, pgx.CopyFromRows(rows)); err != nil {
		return eris.Wrap(err, "postgres: copy rects")
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit save rects")
}

func (s *PostgresStore) Rects(ctx context.Context, cellSize float64) ([]compact.Rectangle, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT min_x, min_y, max_x, max_y FROM visited_rects WHERE cell_size = $1 ORDER BY min_y, min_x`,
		cellSize,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: rects")
	}
	defer rows.Close()

	var rects []compact.Rectangle
	for rows.Next() {
		var r compact.Rectangle
		if err := rows.Scan(&r.MinX, &r.MinY, &r.MaxX, &r.MaxY); err != nil {
			return nil, eris.Wrap(err, "postgres: scan rect")
		}
		rects = append(rects, r)
	}
	return rects, eris.Wrap(rows.Err(), "postgres: rects iterate")
}

func (s *PostgresStore) GetTileCells(ctx context.Context, key roadnet.TileKey) (grid.CellSet, bool, error) {
	var cellsJSON []byte
	err := s.pool.QueryRow(ctx,
		`SELECT cells FROM tile_cache WHERE zoom = $1 AND x = $2 AND y = $3 AND cell_size = $4`,
		int(key.Z), key.X, key.Y, key.CellSize,
	).Scan(&cellsJSON)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, eris.Wrap(err, "postgres: get tile cells")
	}
	cells, err := decodeCells(cellsJSON)
	if err != nil {
		return nil, false, eris.Wrapf(err, "postgres: tile %s", key)
	}
	return cells, true, nil
}

func (s *PostgresStore) PutTileCells(ctx context.Context, key roadnet.TileKey, cells grid.CellSet) error {
	cellsJSON, err := encodeCells(cells)
	if err != nil {
		return eris.Wrapf(err, "postgres: tile %s", key)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO tile_cache (zoom, x, y, cell_size, cells, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (zoom, x, y, cell_size) DO UPDATE SET cells = $5`,
		int(key.Z), key.X, key.Y, key.CellSize, cellsJSON, time.Now().UTC(),
	)
	return eris.Wrapf(err, "postgres: put tile cells %s", key)
}

func (s *PostgresStore) ClearTileCache(ctx context.Context, cellSize *float64) (int, error) {
	query := `DELETE FROM tile_cache`
	args := []any{}
	if cellSize != nil {
		query += ` WHERE cell_size = $1`
		args = append(args, *cellSize)
	}
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: clear tile cache")
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) TileCacheStats(ctx context.Context) (*TileCacheStats, error) {
	var st TileCacheStats
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*), COALESCE(SUM(LENGTH(cells::text)), 0) FROM tile_cache`,
	).Scan(&st.Entries, &st.Bytes)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: tile cache stats")
	}
	return &st, nil
}

func (s *PostgresStore) SaveCity(ctx context.Context, c *city.City) error {
	boundaryJSON, err := encodeBoundary(c.Boundary)
	if err != nil {
		return eris.Wrapf(err, "postgres: city %s", c.Name)
	}
	boundaryEWKB, err := encodeEWKB(c.Boundary)
	if err != nil {
		return eris.Wrapf(err, "postgres: city %s", c.Name)
	}
	interiorJSON, err := encodeCells(c.Interior)
	if err != nil {
		return eris.Wrapf(err, "postgres: city %s", c.Name)
	}

	// NULL road_cells means "never computed"; '[]' means computed and empty.
	var roadsJSON any
	if c.RoadsComputed {
		data, err := encodeCells(c.Roads)
		if err != nil {
			return eris.Wrapf(err, "postgres: city %s", c.Name)
		}
		roadsJSON = data
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO cities (id, name, country, region, cell_size, boundary, boundary_ewkb, interior_cells, road_cells, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (id) DO UPDATE SET
		   name = $2, country = $3, region = $4, cell_size = $5, boundary = $6,
		   boundary_ewkb = $7, interior_cells = $8, road_cells = $9, updated_at = $11`,
		c.ID, c.Name, c.Country, c.Region, c.CellSize,
		boundaryJSON, boundaryEWKB, interiorJSON, roadsJSON, c.CreatedAt, c.UpdatedAt,
	)
	return eris.Wrapf(err, "postgres: save city %s", c.ID)
}

func (s *PostgresStore) GetCity(ctx context.Context, id string) (*city.City, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, name, country, region, cell_size, boundary, interior_cells, road_cells, created_at, updated_at
		 FROM cities WHERE id = $1`,
		id,
	)
	c, err := scanCityPg(row)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get city %s", id)
	}
	return c, nil
}

func (s *PostgresStore) ListCities(ctx context.Context) ([]city.City, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, country, region, cell_size, boundary, interior_cells, road_cells, created_at, updated_at
		 FROM cities ORDER BY name`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list cities")
	}
	defer rows.Close()

	var cities []city.City
	for rows.Next() {
		c, err := scanCityPg(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: list cities")
		}
		cities = append(cities, *c)
	}
	return cities, eris.Wrap(rows.Err(), "postgres: list cities iterate")
}

func (s *PostgresStore) SetCityRoads(ctx context.Context, id string, roads grid.CellSet) error {
	roadsJSON, err := encodeCells(roads)
	if err != nil {
		return eris.Wrapf(err, "postgres: city roads %s", id)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE cities SET road_cells = $1, updated_at = $2 WHERE id = $3`,
		roadsJSON, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: set city roads %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "city %s", id)
	}
	return nil
}

// cellRows flattens a cell set into COPY rows.
func cellRows(cellSize float64, cells grid.CellSet) [][]any {
	rows := make([][]any, 0, cells.Len())
	for c := range cells {
		rows = append(rows, []any{cellSize, c.X, c.Y})
	}
	return rows
}

func scanCityPg(row scannable) (*city.City, error) {
	var c city.City
	var boundaryJSON, interiorJSON []byte
	var roadsJSON *[]byte

	err := row.Scan(&c.ID, &c.Name, &c.Country, &c.Region, &c.CellSize,
		&boundaryJSON, &interiorJSON, &roadsJSON, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, eris.Wrap(err, "scan city")
	}

	if c.Boundary, err = decodeBoundary(boundaryJSON); err != nil {
		return nil, err
	}
	if c.Interior, err = decodeCells(interiorJSON); err != nil {
		return nil, err
	}
	if roadsJSON != nil {
		if c.Roads, err = decodeCells(*roadsJSON); err != nil {
			return nil, err
		}
		c.RoadsComputed = true
	}
	return &c, nil
}
