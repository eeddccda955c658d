// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package schema declares the two coordination tables. The column lists
// here are the single source of truth: DDL emission and the public
// field-name mapping are both derived from them, so the API layer can never
// drift from the storage layout.
//
// Columns whose names begin with an underscore are private to the engine
// and carry "eng" public names; clients should treat them as opaque.
package schema

import (
	"fmt"
	"strings"

	"github.com/juju/clientjobs/core/database"
)

const (
	// Version is the schema version. It is bumped on any incompatible
	// change and is baked into the database namespace, so incompatible
	// generations never share tables.
	Version = 29

	rootName = "client_jobs"
)

// DatabaseNamePrefix returns the versioned root of the database namespace,
// e.g. "client_jobs_v29".
func DatabaseNamePrefix() string {
	return DatabaseNamePrefixForVersion(Version)
}

// DatabaseNamePrefixForVersion returns the namespace root for the given
// schema version.
func DatabaseNamePrefixForVersion(version int) string {
	return fmt.Sprintf("%s_v%d", rootName, version)
}

// DatabaseName returns the full database namespace for the current schema
// version and the input environment suffix. Hyphens in the suffix are
// substituted with underscores; a bare hyphen breaks identifier quoting on
// some engines (e.g. a suffix of "ec2-user").
func DatabaseName(suffix string) string {
	return DatabaseNameForVersion(Version, suffix)
}

// DatabaseNameForVersion returns the full database namespace for the given
// schema version and environment suffix.
func DatabaseNameForVersion(version int, suffix string) string {
	suffix = strings.ReplaceAll(suffix, "-", "_")
	return fmt.Sprintf("%s_%s", DatabaseNamePrefixForVersion(version), suffix)
}

// Column declares one storage column: its name and its type/default clause.
type Column struct {
	Name string
	Def  string
}

// Table declares one storage table.
type Table struct {
	Name        string
	Columns     []Column
	Constraints []string
	Indices     []string
}

// DDL returns the schema deltas that provision the table if absent.
func (t Table) DDL() []database.Delta {
	lines := make([]string, 0, len(t.Columns)+len(t.Constraints))
	for _, col := range t.Columns {
		lines = append(lines, fmt.Sprintf("    %-30s %s", col.Name, col.Def))
	}
	lines = append(lines, t.Constraints...)

	deltas := []database.Delta{database.MakeDelta(fmt.Sprintf(
		"CREATE TABLE IF NOT EXISTS %s (\n%s\n)", t.Name, strings.Join(lines, ",\n")))}
	for _, idx := range t.Indices {
		deltas = append(deltas, database.MakeDelta(idx))
	}
	return deltas
}

// ColumnNames returns the storage names of the table's columns, in
// declaration order.
func (t Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, col := range t.Columns {
		names[i] = col.Name
	}
	return names
}

// PublicNames returns the public names of the table's columns, in
// declaration order.
func (t Table) PublicNames() []string {
	names := make([]string, len(t.Columns))
	for i, col := range t.Columns {
		names[i] = PublicFieldName(col.Name)
	}
	return names
}

// PublicToStorage returns the mapping from public field names to storage
// column names.
func (t Table) PublicToStorage() map[string]string {
	m := make(map[string]string, len(t.Columns))
	for _, col := range t.Columns {
		m[PublicFieldName(col.Name)] = col.Name
	}
	return m
}

// StorageToPublic returns the mapping from storage column names to public
// field names.
func (t Table) StorageToPublic() map[string]string {
	m := make(map[string]string, len(t.Columns))
	for _, col := range t.Columns {
		m[col.Name] = PublicFieldName(col.Name)
	}
	return m
}

// PublicFieldName converts a storage column name to its public form:
// any leading underscore is stripped, and snake_case becomes
// lowerCamelCase. For example, "_eng_last_update_time" becomes
// "engLastUpdateTime".
func PublicFieldName(storage string) string {
	words := strings.Split(strings.TrimPrefix(storage, "_"), "_")
	var b strings.Builder
	for i, word := range words {
		if i == 0 || word == "" {
			b.WriteString(word)
			continue
		}
		b.WriteString(strings.ToUpper(word[:1]))
		b.WriteString(word[1:])
	}
	return b.String()
}
