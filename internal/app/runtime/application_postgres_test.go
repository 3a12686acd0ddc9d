//go:build integration && postgres

package runtime

import (
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

// Runs the API flow against Postgres with migrations applied at startup.
func TestApplication_Postgres(t *testing.T) {
	_ = godotenv.Load() // allow .env for local runs
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set; skipping Postgres integration")
	}

	cfg := testConfig()
	cfg.Database.Driver = "postgres"
	cfg.Database.DSN = dsn
	cfg.Database.Migrate = true

	application := startApplication(t, cfg)
	exerciseAPI(t, "http://"+application.Addr(), "kakao_"+uuid.NewString())
}
