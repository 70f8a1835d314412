package dbconfig

import (
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfigFromEnv(t *testing.T) {
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("DB_PORT", "6543")
	t.Setenv("DB_PASSWORD", "p@ss/word")
	t.Setenv("DB_MAX_CONNS", "nope")
	t.Setenv("DB_NAME", "")

	c := NewConfigFromEnv()
	assert.Equal(t, "db.internal", c.Host)
	assert.Equal(t, 6543, c.Port)
	assert.Equal(t, "cinemabooking", c.Database)
	assert.Equal(t, int32(4), c.MaxConns)

	// the DSN must survive characters that need escaping
	parsed, err := pgxpool.ParseConfig(c.DSN())
	require.NoError(t, err)
	assert.Equal(t, "p@ss/word", parsed.ConnConfig.Password)
	assert.Equal(t, uint16(6543), parsed.ConnConfig.Port)
	assert.Equal(t, "cinemabooking", parsed.ConnConfig.Database)
}
