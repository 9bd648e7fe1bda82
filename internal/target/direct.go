// Haven Sync - Discovery Reconciliation Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/havensync

package target

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tomtom215/havensync/internal/database"
	"github.com/tomtom215/havensync/internal/logging"
	"github.com/tomtom215/havensync/internal/models"
)

// Moon is a moon of a planet in the authoritative store.
type Moon struct {
	ID       int64  `json:"id"`
	PlanetID int64  `json:"planet_id"`
	Name     string `json:"name"`
}

// Planet is a planet of a system, with its moons.
type Planet struct {
	ID       int64  `json:"id"`
	SystemID int64  `json:"system_id"`
	Name     string `json:"name"`
	Moons    []Moon `json:"moons"`
}

// System is a star system with its planets.
type System struct {
	ID      int64    `json:"id"`
	Name    string   `json:"name"`
	Region  string   `json:"region,omitempty"`
	X       float64  `json:"x"`
	Y       float64  `json:"y"`
	Z       float64  `json:"z"`
	Planets []Planet `json:"planets"`
}

// StoredDiscovery is a discovery as read back from the authoritative store.
type StoredDiscovery struct {
	ID             int64      `json:"id"`
	SystemID       *int64     `json:"system_id"`
	PlanetID       *int64     `json:"planet_id"`
	MoonID         *int64     `json:"moon_id"`
	SubmissionDate *time.Time `json:"submission_date,omitempty"`
	models.TargetDiscovery
}

// Stats counts rows in the authoritative store.
type Stats struct {
	Systems     int64 `json:"systems"`
	Planets     int64 `json:"planets"`
	Moons       int64 `json:"moons"`
	Discoveries int64 `json:"discoveries"`
}

// DirectAdapter writes to an authoritative store opened in this process.
type DirectAdapter struct {
	db     *sql.DB
	driver string
	now    func() time.Time
}

// NewDirectAdapter wraps an open authoritative database. driver selects the
// SQL dialect (database.DriverSQLite or database.DriverDuckDB).
func NewDirectAdapter(db *sql.DB, driver string) *DirectAdapter {
	if driver == "" {
		driver = database.DriverSQLite
	}
	return &DirectAdapter{db: db, driver: driver, now: time.Now}
}

// OpenDirectAdapter opens the store at path and returns an adapter over it.
// The caller owns closing the returned database.
func OpenDirectAdapter(ctx context.Context, driver, path string) (*DirectAdapter, *sql.DB, error) {
	db, err := database.Open(ctx, driver, path)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	return NewDirectAdapter(db, driver), db, nil
}

// Name implements Adapter.
func (a *DirectAdapter) Name() string {
	return "direct-" + a.driver
}

// Driver returns the SQL dialect in use.
func (a *DirectAdapter) Driver() string {
	return a.driver
}

// EnsureSchema creates the systems, planets, moons and discoveries tables.
func (a *DirectAdapter) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements(a.driver) {
		if _, err := a.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create target schema: %w", err)
		}
	}
	return nil
}

// Ping checks that the store is reachable.
func (a *DirectAdapter) Ping(ctx context.Context) error {
	if err := a.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	return nil
}

// Write implements Adapter. Linkage is resolved and the row inserted in one
// transaction.
func (a *DirectAdapter) Write(ctx context.Context, d *models.TargetDiscovery) (*WriteResult, error) {
	if d == nil {
		return nil, rejected("discovery is nil")
	}

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, a.classify("begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	res := &WriteResult{}
	if err := a.resolveLinkage(ctx, tx, d, res); err != nil {
		return nil, err
	}

	cols := discoveryColumns()
	args := []any{
		d.DiscoveryType, models.NullIfEmpty(d.DiscoveryName),
		database.NullInt64(res.SystemID), database.NullInt64(res.PlanetID), database.NullInt64(res.MoonID),
		d.LocationType, models.NullIfEmpty(d.LocationName),
		models.NullIfEmpty(d.Description), models.NullIfEmpty(d.Coordinates),
		models.NullIfEmpty(d.Condition), models.NullIfEmpty(d.TimePeriod), models.NullIfEmpty(d.Significance),
		models.NullIfEmpty(d.PhotoURL), models.NullIfEmpty(d.EvidenceURLs),
		models.NullIfEmpty(d.DiscoveredBy), models.NullIfEmpty(d.DiscordUserID), models.NullIfEmpty(d.DiscordGuildID),
		d.PatternMatches, d.MysteryTier, analysisStatus(d.AnalysisStatus),
		models.NullIfEmpty(d.Tags), models.NullIfEmpty(d.Metadata),
		database.FormatTime(a.now()),
	}
	args = append(args, d.CategoryFields.Values()...)

	query := fmt.Sprintf("INSERT INTO discoveries (%s) VALUES (%s) RETURNING id",
		strings.Join(cols, ", "), placeholders(len(cols)))
	if err := tx.QueryRowContext(ctx, query, args...).Scan(&res.DiscoveryID); err != nil {
		return nil, a.classify("insert discovery", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, a.classify("commit discovery", err)
	}

	logging.Info().
		Int64("discovery_id", res.DiscoveryID).
		Str("type", d.DiscoveryType).
		Str("location_type", d.LocationType).
		Bool("system_linked", res.SystemID != nil).
		Msg("Discovery written to Haven database")
	return res, nil
}

// resolveLinkage fills the system, planet and moon ids by name. A miss at any
// level is logged and leaves that id nil.
func (a *DirectAdapter) resolveLinkage(ctx context.Context, tx *sql.Tx, d *models.TargetDiscovery, res *WriteResult) error {
	if d.SystemName == "" {
		return nil
	}

	var systemID int64
	err := tx.QueryRowContext(ctx, `SELECT id FROM systems WHERE name = ?`, d.SystemName).Scan(&systemID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		logging.Debug().Str("system", d.SystemName).Msg("System not in Haven database, writing without linkage")
		return nil
	case err != nil:
		return a.classify("lookup system", err)
	}
	res.SystemID = &systemID

	if d.LocationName == "" {
		return nil
	}

	switch d.LocationType {
	case models.LocationPlanet:
		var planetID int64
		err := tx.QueryRowContext(ctx,
			`SELECT id FROM planets WHERE system_id = ? AND name = ?`, systemID, d.LocationName).Scan(&planetID)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			logging.Debug().Str("system", d.SystemName).Str("planet", d.LocationName).Msg("Planet not found in system")
		case err != nil:
			return a.classify("lookup planet", err)
		default:
			res.PlanetID = &planetID
		}

	case models.LocationMoon:
		var moonID, planetID int64
		err := tx.QueryRowContext(ctx, `
			SELECT m.id, m.planet_id
			FROM moons m
			JOIN planets p ON m.planet_id = p.id
			WHERE p.system_id = ? AND m.name = ?
		`, systemID, d.LocationName).Scan(&moonID, &planetID)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			logging.Debug().Str("system", d.SystemName).Str("moon", d.LocationName).Msg("Moon not found in system")
		case err != nil:
			return a.classify("lookup moon", err)
		default:
			res.MoonID = &moonID
			res.PlanetID = &planetID
		}
	}
	return nil
}

// classify maps a database error onto ErrRejected when the store refused the
// row itself and ErrUnreachable for everything else, including storage faults
// such as a full disk or a read-only file.
func (a *DirectAdapter) classify(op string, err error) error {
	if database.IsDataError(err) {
		return rejected("%s: %v", op, err)
	}
	return unreachable("%s: %v", op, err)
}

func analysisStatus(s string) string {
	if s == "" {
		return models.DefaultAnalysisStatus
	}
	return s
}

// AddSystem inserts a system and returns its id.
func (a *DirectAdapter) AddSystem(ctx context.Context, name, region string, x, y, z float64) (int64, error) {
	var id int64
	err := a.db.QueryRowContext(ctx, `
		INSERT INTO systems (name, region, x, y, z, created_at) VALUES (?, ?, ?, ?, ?, ?) RETURNING id
	`, name, models.NullIfEmpty(region), x, y, z, database.FormatTime(a.now())).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to add system %q: %w", name, err)
	}
	return id, nil
}

// AddPlanet inserts a planet into a system and returns its id.
func (a *DirectAdapter) AddPlanet(ctx context.Context, systemID int64, name string) (int64, error) {
	var id int64
	err := a.db.QueryRowContext(ctx,
		`INSERT INTO planets (system_id, name) VALUES (?, ?) RETURNING id`, systemID, name).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to add planet %q: %w", name, err)
	}
	return id, nil
}

// AddMoon inserts a moon orbiting a planet and returns its id.
func (a *DirectAdapter) AddMoon(ctx context.Context, planetID int64, name string) (int64, error) {
	var id int64
	err := a.db.QueryRowContext(ctx,
		`INSERT INTO moons (planet_id, name) VALUES (?, ?) RETURNING id`, planetID, name).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to add moon %q: %w", name, err)
	}
	return id, nil
}

// Systems returns every system keyed by name, with planets and moons.
func (a *DirectAdapter) Systems(ctx context.Context) (map[string]*System, error) {
	rows, err := a.db.QueryContext(ctx, `SELECT id, name, region, x, y, z FROM systems ORDER BY name`)
	if err != nil {
		return nil, a.classify("list systems", err)
	}
	var systems []*System
	for rows.Next() {
		s, err := scanSystem(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		systems = append(systems, s)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate systems: %w", err)
	}

	out := make(map[string]*System, len(systems))
	for _, s := range systems {
		if err := a.loadPlanets(ctx, s); err != nil {
			return nil, err
		}
		out[s.Name] = s
	}
	return out, nil
}

// System returns one system by exact name, or ErrSystemNotFound.
func (a *DirectAdapter) System(ctx context.Context, name string) (*System, error) {
	row := a.db.QueryRowContext(ctx, `SELECT id, name, region, x, y, z FROM systems WHERE name = ?`, name)
	s, err := scanSystem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSystemNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := a.loadPlanets(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSystem(row rowScanner) (*System, error) {
	var s System
	var region sql.NullString
	var x, y, z sql.NullFloat64
	if err := row.Scan(&s.ID, &s.Name, &region, &x, &y, &z); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan system: %w", err)
	}
	s.Region = region.String
	s.X, s.Y, s.Z = x.Float64, y.Float64, z.Float64
	s.Planets = []Planet{}
	return &s, nil
}

func (a *DirectAdapter) loadPlanets(ctx context.Context, s *System) error {
	rows, err := a.db.QueryContext(ctx, `
		SELECT p.id, p.name, m.id, m.name
		FROM planets p
		LEFT JOIN moons m ON m.planet_id = p.id
		WHERE p.system_id = ?
		ORDER BY p.id, m.id
	`, s.ID)
	if err != nil {
		return fmt.Errorf("failed to load planets for %s: %w", s.Name, err)
	}
	defer rows.Close()

	index := map[int64]int{}
	for rows.Next() {
		var planetID int64
		var planetName string
		var moonID sql.NullInt64
		var moonName sql.NullString
		if err := rows.Scan(&planetID, &planetName, &moonID, &moonName); err != nil {
			return fmt.Errorf("failed to scan planet: %w", err)
		}
		i, ok := index[planetID]
		if !ok {
			s.Planets = append(s.Planets, Planet{ID: planetID, SystemID: s.ID, Name: planetName, Moons: []Moon{}})
			i = len(s.Planets) - 1
			index[planetID] = i
		}
		if moonID.Valid {
			s.Planets[i].Moons = append(s.Planets[i].Moons, Moon{ID: moonID.Int64, PlanetID: planetID, Name: moonName.String})
		}
	}
	return rows.Err()
}

// Discovery reads one discovery back by id, or ErrDiscoveryNotFound.
func (a *DirectAdapter) Discovery(ctx context.Context, id int64) (*StoredDiscovery, error) {
	cols := discoveryColumns()
	query := fmt.Sprintf("SELECT id, %s FROM discoveries WHERE id = ?", strings.Join(cols, ", "))

	var out StoredDiscovery
	var discoveryType string
	var systemID, planetID, moonID sql.NullInt64
	var patternMatches, mysteryTier sql.NullInt64
	var submitted sql.NullString
	text := make([]sql.NullString, len(cols))
	dest := make([]any, 0, len(cols)+1)
	dest = append(dest, &out.ID)
	for i, c := range cols {
		switch c {
		case "discovery_type":
			dest = append(dest, &discoveryType)
		case "system_id":
			dest = append(dest, &systemID)
		case "planet_id":
			dest = append(dest, &planetID)
		case "moon_id":
			dest = append(dest, &moonID)
		case "pattern_matches":
			dest = append(dest, &patternMatches)
		case "mystery_tier":
			dest = append(dest, &mysteryTier)
		case "submission_date":
			dest = append(dest, &submitted)
		default:
			dest = append(dest, &text[i])
		}
	}

	err := a.db.QueryRowContext(ctx, query, id).Scan(dest...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrDiscoveryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read discovery %d: %w", id, err)
	}

	out.DiscoveryType = discoveryType
	out.SystemID = database.Int64Ptr(systemID)
	out.PlanetID = database.Int64Ptr(planetID)
	out.MoonID = database.Int64Ptr(moonID)
	out.PatternMatches = int(patternMatches.Int64)
	out.MysteryTier = int(mysteryTier.Int64)
	out.SubmissionDate = database.TimePtr(submitted)

	base := map[string]*string{
		"discovery_name":   &out.DiscoveryName,
		"location_type":    &out.LocationType,
		"location_name":    &out.LocationName,
		"description":      &out.Description,
		"coordinates":      &out.Coordinates,
		"condition":        &out.Condition,
		"time_period":      &out.TimePeriod,
		"significance":     &out.Significance,
		"photo_url":        &out.PhotoURL,
		"evidence_urls":    &out.EvidenceURLs,
		"discovered_by":    &out.DiscoveredBy,
		"discord_user_id":  &out.DiscordUserID,
		"discord_guild_id": &out.DiscordGuildID,
		"analysis_status":  &out.AnalysisStatus,
		"tags":             &out.Tags,
		"metadata":         &out.Metadata,
	}
	for i, c := range cols {
		if !text[i].Valid {
			continue
		}
		if p, ok := base[c]; ok {
			*p = text[i].String
			continue
		}
		out.CategoryFields.Set(c, text[i].String)
	}
	return &out, nil
}

// Stats counts systems, planets, moons and discoveries.
func (a *DirectAdapter) Stats(ctx context.Context) (*Stats, error) {
	var s Stats
	err := a.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM systems),
			(SELECT COUNT(*) FROM planets),
			(SELECT COUNT(*) FROM moons),
			(SELECT COUNT(*) FROM discoveries)
	`).Scan(&s.Systems, &s.Planets, &s.Moons, &s.Discoveries)
	if err != nil {
		return nil, a.classify("count rows", err)
	}
	return &s, nil
}
