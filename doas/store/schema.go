package store

const schema = `
CREATE TABLE IF NOT EXISTS scans (
	id             TEXT PRIMARY KEY,
	file           TEXT NOT NULL,
	window_name    TEXT NOT NULL,
	evaluated_at   INTEGER NOT NULL,
	sky_name       TEXT NOT NULL,
	sky_coadds     INTEGER NOT NULL,
	dark_name      TEXT NOT NULL,
	most_absorbing INTEGER NOT NULL,
	calibration    TEXT,
	shift          REAL,
	squeeze        REAL,
	accepted       INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS spectra (
	scan_id        TEXT NOT NULL REFERENCES scans(id) ON DELETE CASCADE,
	entry          INTEGER NOT NULL,
	position       INTEGER NOT NULL,
	name           TEXT NOT NULL,
	start_time     INTEGER NOT NULL,
	stop_time      INTEGER NOT NULL,
	exposure       INTEGER NOT NULL,
	coadds         INTEGER NOT NULL,
	peak_intensity REAL NOT NULL,
	fit_intensity  REAL NOT NULL,
	chi_square     REAL NOT NULL,
	delta          REAL NOT NULL,
	steps          INTEGER NOT NULL,
	quality        INTEGER NOT NULL,
	PRIMARY KEY (scan_id, entry)
);

CREATE TABLE IF NOT EXISTS columns (
	scan_id       TEXT NOT NULL,
	entry         INTEGER NOT NULL,
	specie        TEXT NOT NULL,
	col_value     REAL NOT NULL,
	col_error     REAL NOT NULL,
	shift         REAL NOT NULL,
	shift_error   REAL NOT NULL,
	squeeze       REAL NOT NULL,
	squeeze_error REAL NOT NULL,
	PRIMARY KEY (scan_id, entry, specie),
	FOREIGN KEY (scan_id, entry) REFERENCES spectra(scan_id, entry) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS corrupted (
	scan_id  TEXT NOT NULL REFERENCES scans(id) ON DELETE CASCADE,
	position INTEGER NOT NULL,
	PRIMARY KEY (scan_id, position)
);

CREATE INDEX IF NOT EXISTS idx_columns_specie ON columns(specie);
`
