package breaker

import "database/sql"

var breakerSchemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS circuit_breaker_state (
		peer_id     VARCHAR(128) NOT NULL,
		operation   VARCHAR(64) NOT NULL,
		state       VARCHAR(16) NOT NULL,
		updated_at  BIGINT NOT NULL,
		PRIMARY KEY (peer_id, operation)
	) ENGINE=InnoDB`,
	`CREATE TABLE IF NOT EXISTS circuit_breaker_events (
		id           BIGINT UNSIGNED NOT NULL AUTO_INCREMENT PRIMARY KEY,
		peer_id      VARCHAR(128) NOT NULL,
		operation    VARCHAR(64) NOT NULL,
		from_state   VARCHAR(16) NOT NULL,
		to_state     VARCHAR(16) NOT NULL,
		occurred_at  BIGINT NOT NULL,
		INDEX idx_cbe_peer_op (peer_id, operation)
	) ENGINE=InnoDB`,
}

func migrate(db *sql.DB) error {
	for _, stmt := range breakerSchemaStatements {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}
