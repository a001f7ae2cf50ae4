package chainstore

// schemaStatements creates the MySQL-compatible relational mirror described
// in SPEC_FULL §6. Run once at startup; CREATE TABLE IF NOT EXISTS makes it
// safe to call against an already-migrated database.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS blocks (
		height            BIGINT UNSIGNED NOT NULL PRIMARY KEY,
		hash              VARBINARY(32) NOT NULL UNIQUE,
		prev_hash         VARBINARY(32) NOT NULL,
		timestamp         BIGINT NOT NULL,
		merkle_root       VARBINARY(32) NOT NULL,
		proposer_address  VARBINARY(20) NOT NULL,
		signature_scheme  VARCHAR(32) NOT NULL,
		signature         VARBINARY(256) NOT NULL,
		tx_count          INT UNSIGNED NOT NULL
	) ENGINE=InnoDB`,
	`CREATE TABLE IF NOT EXISTS transactions (
		hash          VARBINARY(32) NOT NULL PRIMARY KEY,
		block_height  BIGINT UNSIGNED NOT NULL,
		tx_type       VARCHAR(32) NOT NULL,
		from_address  VARBINARY(20) NOT NULL,
		to_address    VARBINARY(20) NOT NULL,
		amount        BIGINT UNSIGNED NOT NULL,
		nonce         BIGINT UNSIGNED NOT NULL,
		gas_limit     BIGINT UNSIGNED NOT NULL,
		gas_price     BIGINT UNSIGNED NOT NULL,
		data          BLOB,
		timestamp     BIGINT NOT NULL,
		public_key    VARBINARY(65),
		signature     VARBINARY(256),
		raw_source    BLOB,
		INDEX idx_transactions_block_height (block_height)
	) ENGINE=InnoDB`,
}

// migrate applies schemaStatements against db.
func migrate(db dbExecer) error {
	for _, stmt := range schemaStatements {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}
