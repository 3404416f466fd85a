package validator

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanonicalizeName(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"clean name unchanged", "orders_2024", "orders_2024"},
		{"specials stripped", "orders; DROP", "ordersDROP"},
		{"dots stripped", "db.orders", "dborders"},
		{"system prefix rewritten", "system_tables", "user_system_tables"},
		{"admin prefix rewritten", "admin_log", "user_admin_log"},
		{"case insensitive prefix", "System_x", "user_System_x"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CanonicalizeName(tt.in))
		})
	}
}

func TestCanonicalizeName_Idempotent(t *testing.T) {
	inputs := []string{"orders", "system_tables", "admin.users", "a b;c"}
	for _, in := range inputs {
		once := CanonicalizeName(in)
		assert.Equal(t, once, CanonicalizeName(once), "input %q", in)
	}
}

func TestRewriteTableNames(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			"clean statement unchanged",
			"SELECT a FROM orders JOIN users ON 1=1",
			"SELECT a FROM orders JOIN users ON 1=1",
		},
		{
			"system table rewritten",
			"SELECT a FROM system_metrics",
			"SELECT a FROM user_system_metrics",
		},
		{
			"qualified name collapsed",
			"SELECT a FROM db.orders",
			"SELECT a FROM dborders",
		},
		{
			"keyword case preserved",
			"select a from admin_x",
			"select a from user_admin_x",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RewriteTableNames(tt.in))
		})
	}
}

func TestScanSQL(t *testing.T) {
	assert.Empty(t, scanSQL("SELECT 1"))
	assert.Contains(t, scanSQL("GRANT ALL ON *.* TO x"), "GRANT")
	assert.Contains(t, scanSQL("SELECT 1 INTO OUTFILE '/tmp/x'"), "OUTFILE")
	assert.Contains(t, scanSQL("SELECT 1; DELETE FROM t"), "multi-statement")
}

func TestCountStatements(t *testing.T) {
	assert.Equal(t, 1, countStatements("SELECT 1"))
	assert.Equal(t, 1, countStatements("SELECT 1;"))
	assert.Equal(t, 1, countStatements("SELECT 1; ;  "))
	assert.Equal(t, 2, countStatements("SELECT 1; SELECT 2"))
}

func TestMatchSQLWriteKeyword(t *testing.T) {
	assert.Equal(t, "", matchSQLWriteKeyword("SELECT updated_at FROM t"))
	assert.Equal(t, "INSERT", matchSQLWriteKeyword("insert into t values (1)"))
	assert.Equal(t, "DELETE", matchSQLWriteKeyword("DELETE FROM t"))
}
