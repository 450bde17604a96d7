package store

import (
	"os"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// The store's SQL and the embedded schema drift independently, so these tests
// pin every table and inserted column the queries reference to what
// RunMigrations actually creates.

var (
	createTableRe = regexp.MustCompile(`CREATE TABLE IF NOT EXISTS\s+([a-z_][a-z0-9_]*)\s*\(([^;]*?)\);`)
	cteRe         = regexp.MustCompile(`WITH\s+([a-z_][a-z0-9_]*)\s+AS`)
	tableRefRe    = regexp.MustCompile(`(?:INSERT INTO|DELETE FROM|FROM|UPDATE|JOIN)\s+([a-z_][a-z0-9_]*)(\()?`)
	insertColsRe  = regexp.MustCompile(`INSERT INTO\s+([a-z_][a-z0-9_]*)\s*\(([^)]*)\)`)
	identifierRe  = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)
)

func embeddedSchema(t *testing.T) string {
	t.Helper()
	entries, err := migrationFiles.ReadDir("migrations")
	require.NoError(t, err)
	var b strings.Builder
	for _, e := range entries {
		data, err := migrationFiles.ReadFile("migrations/" + e.Name())
		require.NoError(t, err)
		b.Write(data)
		b.WriteString("\n")
	}
	return b.String()
}

// schemaTables returns the created tables and their declared columns.
func schemaTables(t *testing.T) map[string]map[string]bool {
	t.Helper()
	tables := map[string]map[string]bool{}
	for _, m := range createTableRe.FindAllStringSubmatch(embeddedSchema(t), -1) {
		cols := map[string]bool{}
		for _, line := range strings.Split(m[2], "\n") {
			fields := strings.Fields(line)
			if len(fields) > 0 && identifierRe.MatchString(fields[0]) {
				cols[fields[0]] = true
			}
		}
		tables[m[1]] = cols
	}
	require.NotEmpty(t, tables, "schema declares no tables")
	return tables
}

// packageSQL returns each non-test source file's content with comment lines
// stripped, so only SQL text inside query literals is scanned.
func packageSQL(t *testing.T) map[string]string {
	t.Helper()
	entries, err := os.ReadDir(".")
	require.NoError(t, err)
	out := map[string]string{}
	for _, e := range entries {
		name := e.Name()
		if !strings.HasSuffix(name, ".go") || strings.HasSuffix(name, "_test.go") {
			continue
		}
		data, err := os.ReadFile(name)
		require.NoError(t, err)
		var kept []string
		for _, line := range strings.Split(string(data), "\n") {
			if strings.HasPrefix(strings.TrimSpace(line), "//") {
				continue
			}
			kept = append(kept, line)
		}
		out[name] = strings.Join(kept, "\n")
	}
	require.NotEmpty(t, out)
	return out
}

func TestQueriesReferenceOnlySchemaTables(t *testing.T) {
	created := schemaTables(t)

	for file, src := range packageSQL(t) {
		ctes := map[string]bool{}
		for _, m := range cteRe.FindAllStringSubmatch(src, -1) {
			ctes[m[1]] = true
		}
		for _, m := range tableRefRe.FindAllStringSubmatch(src, -1) {
			if m[2] != "" {
				continue // function call such as unnest(...)
			}
			name := m[1]
			if ctes[name] {
				continue
			}
			_, ok := created[name]
			assert.True(t, ok, "%s references table %q the embedded schema never creates", file, name)
		}
	}
}

func TestInsertColumnListsMatchSchema(t *testing.T) {
	created := schemaTables(t)

	checked := 0
	for file, src := range packageSQL(t) {
		for _, m := range insertColsRe.FindAllStringSubmatch(src, -1) {
			declared, ok := created[m[1]]
			if !ok {
				continue // table check is TestQueriesReferenceOnlySchemaTables
			}
			for _, col := range strings.Split(m[2], ",") {
				col = strings.TrimSpace(col)
				if !identifierRe.MatchString(col) {
					continue
				}
				assert.True(t, declared[col],
					"%s inserts column %q which table %q does not declare", file, col, m[1])
				checked++
			}
		}
	}
	assert.Greater(t, checked, 20, "expected the scan to cover the store's insert statements")
}
