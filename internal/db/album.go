package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/jcom-dev/stipnode/internal/geocode"
)

// Album is a named namespace partitioning the image store: it fixes the
// DHT key length and the geocode algorithm every tile in it is routed and
// encoded with.
type Album struct {
	Name             string
	DHTKeyLength     int8
	GeocodeAlgorithm geocode.Algorithm
	DefaultPrecision int
}

// CreateAlbum inserts a new album row. Albums are immutable once created
// and cannot be deleted, so a duplicate name is a client error rather than
// an upsert.
func (d *DB) CreateAlbum(ctx context.Context, a Album) error {
	_, err := d.Pool.Exec(ctx,
		`INSERT INTO albums (name, dht_key_length, geocode_algorithm, default_precision)
		 VALUES ($1, $2, $3, $4)`,
		a.Name, a.DHTKeyLength, string(a.GeocodeAlgorithm), a.DefaultPrecision,
	)
	if err != nil {
		return fmt.Errorf("db: create album %q: %w", a.Name, err)
	}
	return nil
}

// GetAlbum looks up one album by name. Returns pgx.ErrNoRows if it does not
// exist; callers translate that into a 404 at the RPC surface.
func (d *DB) GetAlbum(ctx context.Context, name string) (Album, error) {
	row := d.Pool.QueryRow(ctx,
		`SELECT name, dht_key_length, geocode_algorithm, default_precision FROM albums WHERE name = $1`,
		name,
	)
	return scanAlbum(row)
}

// ListAlbums returns every album, ordered by name.
func (d *DB) ListAlbums(ctx context.Context) ([]Album, error) {
	rows, err := d.Pool.Query(ctx,
		`SELECT name, dht_key_length, geocode_algorithm, default_precision FROM albums ORDER BY name`,
	)
	if err != nil {
		return nil, fmt.Errorf("db: list albums: %w", err)
	}
	defer rows.Close()

	var albums []Album
	for rows.Next() {
		a, err := scanAlbum(rows)
		if err != nil {
			return nil, err
		}
		albums = append(albums, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db: list albums: %w", err)
	}
	return albums, nil
}

type scannable interface {
	Scan(dest ...interface{}) error
}

func scanAlbum(row scannable) (Album, error) {
	var a Album
	var algorithm string
	if err := row.Scan(&a.Name, &a.DHTKeyLength, &algorithm, &a.DefaultPrecision); err != nil {
		if err == pgx.ErrNoRows {
			return Album{}, err
		}
		return Album{}, fmt.Errorf("db: scan album: %w", err)
	}
	a.GeocodeAlgorithm = geocode.Algorithm(algorithm)
	return a, nil
}
