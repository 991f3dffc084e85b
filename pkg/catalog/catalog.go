package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/spatial/r3"

	"slicesync/internal/models"
	"slicesync/pkg/cache"
)

// Catalog indexes frame descriptors by path and series.
type Catalog struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ cache.Store = (*Catalog)(nil)

// Option configures a Catalog.
type Option func(*Catalog)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Catalog) { c.logger = l }
}

// Open migrates the database at path to the current schema and opens it.
func Open(path string, opts ...Option) (*Catalog, error) {
	if err := migrateUp(path); err != nil {
		return nil, err
	}
	db, err := open(path)
	if err != nil {
		return nil, fmt.Errorf("open catalog %s: %w", path, err)
	}
	c := &Catalog{db: db, logger: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Close closes the database.
func (c *Catalog) Close() error { return c.db.Close() }

const upsertFrame = `
INSERT INTO frames(
	key_path, frame, path, series_uid, modality,
	rows, columns, samples_per_pixel, bits_allocated, bits_stored,
	pixel_representation, photometric, number_of_frames, pixel_data_offset,
	transfer_syntax_uid, compressed, rescale_slope, rescale_intercept,
	window_center, window_width, orientation, position, slice_thickness,
	created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
ON CONFLICT(key_path, frame) DO UPDATE SET
	path=excluded.path,
	series_uid=excluded.series_uid,
	modality=excluded.modality,
	rows=excluded.rows,
	columns=excluded.columns,
	samples_per_pixel=excluded.samples_per_pixel,
	bits_allocated=excluded.bits_allocated,
	bits_stored=excluded.bits_stored,
	pixel_representation=excluded.pixel_representation,
	photometric=excluded.photometric,
	number_of_frames=excluded.number_of_frames,
	pixel_data_offset=excluded.pixel_data_offset,
	transfer_syntax_uid=excluded.transfer_syntax_uid,
	compressed=excluded.compressed,
	rescale_slope=excluded.rescale_slope,
	rescale_intercept=excluded.rescale_intercept,
	window_center=excluded.window_center,
	window_width=excluded.window_width,
	orientation=excluded.orientation,
	position=excluded.position,
	slice_thickness=excluded.slice_thickness,
	updated_at=CURRENT_TIMESTAMP;
`

// Upsert stores descriptors in one transaction. Every descriptor needs a
// series uid.
func (c *Catalog) Upsert(ctx context.Context, descs []models.FrameDescriptor) error {
	for _, d := range descs {
		if d.Ref.SeriesUID == "" {
			return fmt.Errorf("upsert %s: missing series uid", d.Ref)
		}
	}
	return withTx(c.db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, upsertFrame)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, d := range descs {
			var orientation, position sql.NullString
			if d.HasOrientation {
				orientation = sql.NullString{String: joinVecs(d.RowCosines, d.ColumnCosines), Valid: true}
			}
			if d.HasPosition {
				position = sql.NullString{String: joinVecs(d.Position), Valid: true}
			}
			_, err := stmt.ExecContext(ctx,
				cache.NormalizePath(d.Ref.Path), d.Ref.Frame, d.Ref.Path, d.Ref.SeriesUID, d.Modality,
				d.Rows, d.Columns, d.SamplesPerPixel, d.BitsAllocated, d.BitsStored,
				int(d.PixelRepresentation), d.Photometric, d.NumberOfFrames, d.PixelDataOffset,
				d.TransferSyntaxUID, d.Compressed, d.RescaleSlope, d.RescaleIntercept,
				d.WindowCenter, d.WindowWidth, orientation, position, d.SliceThickness,
			)
			if err != nil {
				return fmt.Errorf("upsert %s: %w", d.Ref, err)
			}
		}
		return nil
	})
}

// SeriesForPath returns the series a file belongs to.
func (c *Catalog) SeriesForPath(ctx context.Context, path string) (string, bool, error) {
	var uid string
	err := c.db.QueryRowContext(ctx,
		`SELECT series_uid FROM frames WHERE key_path = ? LIMIT 1`,
		cache.NormalizePath(path),
	).Scan(&uid)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return uid, true, nil
}

const selectFrames = `
SELECT path, frame, series_uid, modality,
	rows, columns, samples_per_pixel, bits_allocated, bits_stored,
	pixel_representation, photometric, number_of_frames, pixel_data_offset,
	transfer_syntax_uid, compressed, rescale_slope, rescale_intercept,
	window_center, window_width, orientation, position, slice_thickness
FROM frames`

// SeriesFrames returns every frame of a series ordered by path then frame.
func (c *Catalog) SeriesFrames(ctx context.Context, seriesUID string) ([]models.FrameDescriptor, error) {
	rows, err := c.db.QueryContext(ctx, selectFrames+` WHERE series_uid = ? ORDER BY key_path, frame`, seriesUID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.FrameDescriptor
	for rows.Next() {
		d, err := scanFrame(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// SeriesSummary is one row of the series listing.
type SeriesSummary struct {
	UID      string
	Modality string
	Frames   int
}

// Series lists indexed series by uid.
func (c *Catalog) Series(ctx context.Context) ([]SeriesSummary, error) {
	rows, err := c.db.QueryContext(ctx, `
	SELECT series_uid, MAX(modality), COUNT(*)
	FROM frames GROUP BY series_uid ORDER BY series_uid`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []SeriesSummary
	for rows.Next() {
		var s SeriesSummary
		if err := rows.Scan(&s.UID, &s.Modality, &s.Frames); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// DeleteSeries drops a series from the index.
func (c *Catalog) DeleteSeries(ctx context.Context, seriesUID string) error {
	_, err := c.db.ExecContext(ctx, `DELETE FROM frames WHERE series_uid = ?`, seriesUID)
	return err
}

func scanFrame(rows *sql.Rows) (models.FrameDescriptor, error) {
	var (
		d                     models.FrameDescriptor
		pixelRep              int
		orientation, position sql.NullString
	)
	err := rows.Scan(
		&d.Ref.Path, &d.Ref.Frame, &d.Ref.SeriesUID, &d.Modality,
		&d.Rows, &d.Columns, &d.SamplesPerPixel, &d.BitsAllocated, &d.BitsStored,
		&pixelRep, &d.Photometric, &d.NumberOfFrames, &d.PixelDataOffset,
		&d.TransferSyntaxUID, &d.Compressed, &d.RescaleSlope, &d.RescaleIntercept,
		&d.WindowCenter, &d.WindowWidth, &orientation, &position, &d.SliceThickness,
	)
	if err != nil {
		return d, err
	}
	d.PixelRepresentation = models.PixelRepresentation(pixelRep)
	if orientation.Valid {
		v, err := splitVecs(orientation.String, 2)
		if err != nil {
			return d, fmt.Errorf("%s orientation: %w", d.Ref, err)
		}
		d.RowCosines, d.ColumnCosines, d.HasOrientation = v[0], v[1], true
	}
	if position.Valid {
		v, err := splitVecs(position.String, 1)
		if err != nil {
			return d, fmt.Errorf("%s position: %w", d.Ref, err)
		}
		d.Position, d.HasPosition = v[0], true
	}
	return d, nil
}

// joinVecs formats vectors as a DICOM-style backslash-separated list.
func joinVecs(vs ...r3.Vec) string {
	parts := make([]string, 0, 3*len(vs))
	for _, v := range vs {
		for _, f := range []float64{v.X, v.Y, v.Z} {
			parts = append(parts, strconv.FormatFloat(f, 'g', -1, 64))
		}
	}
	return strings.Join(parts, `\`)
}

func splitVecs(s string, n int) ([]r3.Vec, error) {
	parts := strings.Split(s, `\`)
	if len(parts) != 3*n {
		return nil, fmt.Errorf("want %d values, got %d", 3*n, len(parts))
	}
	f := make([]float64, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, err
		}
		f[i] = v
	}
	out := make([]r3.Vec, n)
	for i := range out {
		out[i] = r3.Vec{X: f[3*i], Y: f[3*i+1], Z: f[3*i+2]}
	}
	return out, nil
}
