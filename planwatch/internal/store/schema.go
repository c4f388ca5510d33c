package store

import "github.com/hazyhaar/planwatch/dbopen"

// TableName is the name of the comments table in every environment.
const TableName = "comments"

const schemaSQLite = `
CREATE TABLE IF NOT EXISTS comments (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	council        TEXT NOT NULL,
	comment_id     TEXT NOT NULL,
	application_id TEXT NOT NULL,
	address        TEXT,
	stance         TEXT,
	date           DATE,
	comment_text   TEXT NOT NULL,
	add_date       DATE NOT NULL,
	lat            REAL,
	lon            REAL,
	CONSTRAINT unique_comment_application UNIQUE (comment_id, application_id)
);
CREATE INDEX IF NOT EXISTS idx_comments_council ON comments(council);
CREATE INDEX IF NOT EXISTS idx_comments_application ON comments(council, application_id);
`

const schemaPostgres = `
CREATE TABLE IF NOT EXISTS comments (
	id             BIGSERIAL PRIMARY KEY,
	council        VARCHAR(255) NOT NULL,
	comment_id     VARCHAR(155) NOT NULL,
	application_id VARCHAR(155) NOT NULL,
	address        VARCHAR(512),
	stance         VARCHAR(255),
	date           DATE,
	comment_text   TEXT NOT NULL,
	add_date       DATE NOT NULL DEFAULT CURRENT_DATE,
	lat            DOUBLE PRECISION,
	lon            DOUBLE PRECISION,
	CONSTRAINT unique_comment_application UNIQUE (comment_id, application_id)
);
CREATE INDEX IF NOT EXISTS idx_comments_council ON comments(council);
CREATE INDEX IF NOT EXISTS idx_comments_application ON comments(council, application_id);
`

// Schema returns the DDL for driver.
func Schema(driver string) string {
	if driver == dbopen.Postgres {
		return schemaPostgres
	}
	return schemaSQLite
}

const (
	columns = `id, council, comment_id, application_id, address, stance, date, comment_text, add_date, lat, lon`

	insertSQL = `INSERT INTO comments
		(council, comment_id, application_id, address, stance, date, comment_text, add_date)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	dedupSQL = `DELETE FROM comments WHERE id IN (
		SELECT id FROM (
			SELECT id, ROW_NUMBER() OVER (
				PARTITION BY council, application_id, address, stance, date, comment_text
				ORDER BY comment_id, id
			) AS rn
			FROM comments
		) ranked
		WHERE rn > 1
	)`

	updateCoordsSQL = `UPDATE comments SET lat = ?, lon = ?
		WHERE comment_id = ? AND application_id = ? AND lat IS NULL AND lon IS NULL`
)
