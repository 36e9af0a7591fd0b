package storage

import (
	"context"

	"codeberg.org/mutker/sysmetricsd/internal/errors"
)

const (
	TableComponent          = "component"
	TableComponentStatistic = "component_statistic"
	TableProcess            = "process"

	createComponentSQL = `
	CREATE TABLE IF NOT EXISTS component (
	    serial_number      TEXT PRIMARY KEY,
	    device_type        TEXT NOT NULL,
	    v_ram              INTEGER,
	    stock_core_speed   REAL,
	    stock_memory_speed REAL
	)`

	createComponentStatisticSQL = `
	CREATE TABLE IF NOT EXISTS component_statistic (
	    serial_number     TEXT,
	    timestamp         DATETIME,
	    machine_state     TEXT NOT NULL,
	    temperature       REAL NOT NULL,
	    usage             REAL NOT NULL,
	    power_consumption REAL,
	    core_speed        REAL,
	    memory_speed      REAL,
	    total_ram         REAL,
	    end_of_life       DATETIME NOT NULL,
	    PRIMARY KEY (serial_number, timestamp),
	    FOREIGN KEY (serial_number) REFERENCES component(serial_number)
	)`

	createProcessSQL = `
	CREATE TABLE IF NOT EXISTS process (
	    pid          INTEGER,
	    timestamp    DATETIME,
	    cpu_usage    REAL NOT NULL,
	    memory_usage REAL NOT NULL,
	    end_of_life  DATETIME NOT NULL,
	    PRIMARY KEY (pid, timestamp)
	)`

	componentExistsSQL = `SELECT COUNT(*) FROM component WHERE serial_number = ?`

	insertComponentSQL = `
	INSERT OR IGNORE INTO component (
	    serial_number, device_type, v_ram, stock_core_speed, stock_memory_speed
	) VALUES (?, ?, ?, ?, ?)`

	insertComponentStatisticSQL = `
	INSERT OR REPLACE INTO component_statistic (
	    serial_number, timestamp, machine_state, temperature, usage,
	    power_consumption, core_speed, memory_speed, total_ram, end_of_life
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	insertProcessSQL = `
	INSERT OR REPLACE INTO process (
	    pid, timestamp, cpu_usage, memory_usage, end_of_life
	) VALUES (?, ?, ?, ?, ?)`

	deleteStatisticsBeforeSQL = `DELETE FROM component_statistic WHERE timestamp < ?`
	deleteProcessesBeforeSQL  = `DELETE FROM process WHERE timestamp < ?`

	deleteOrphanComponentsSQL = `
	DELETE FROM component
	WHERE serial_number NOT IN (
	    SELECT DISTINCT serial_number FROM component_statistic
	    WHERE serial_number IS NOT NULL
	)`

	selectComponentSQL = `
	SELECT serial_number, device_type, v_ram, stock_core_speed, stock_memory_speed
	FROM component WHERE serial_number = ?`

	selectStatisticsSQL = `
	SELECT serial_number, timestamp, machine_state, temperature, usage,
	       power_consumption, core_speed, memory_speed, total_ram, end_of_life
	FROM component_statistic WHERE serial_number = ?
	ORDER BY timestamp`

	selectProcessesSQL = `
	SELECT pid, timestamp, cpu_usage, memory_usage, end_of_life
	FROM process WHERE pid = ?
	ORDER BY timestamp`

	countsSQL = `
	SELECT
	    (SELECT COUNT(*) FROM component),
	    (SELECT COUNT(*) FROM component_statistic),
	    (SELECT COUNT(*) FROM process)`
)

// schemaStatements create the persisted relations, parents first.
var schemaStatements = []struct {
	table string
	sql   string
}{
	{TableComponent, createComponentSQL},
	{TableComponentStatistic, createComponentStatisticSQL},
	{TableProcess, createProcessSQL},
}

// clearOrder deletes children before the parent so foreign keys never
// block the sweep.
var clearOrder = []string{TableComponentStatistic, TableProcess, TableComponent}

// TableExists checks if a table exists
func TableExists(ctx context.Context, db conn, tableName string) (bool, error) {
	errFactory := errors.New()
	var exists bool
	err := db.QueryRowContext(ctx, `
        SELECT EXISTS (
            SELECT 1 FROM sqlite_master
            WHERE type='table' AND name=?
        )
    `, tableName).Scan(&exists)
	if err != nil {
		return false, errFactory.WithData(ErrOperation, struct {
			Phase string
			Table string
			Error string
		}{
			Phase: "check_table_exists",
			Table: tableName,
			Error: err.Error(),
		})
	}
	return exists, nil
}
