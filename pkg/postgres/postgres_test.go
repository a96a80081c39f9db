package postgres

import (
	"testing"

	gormlogger "gorm.io/gorm/logger"
)

func TestDataSourceName(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{
			name: "explicit dsn wins",
			cfg:  Config{DSN: "postgres://u:p@db/tasks", Host: "ignored"},
			want: "postgres://u:p@db/tasks",
		},
		{
			name: "fields",
			cfg:  Config{Host: "db", Port: 5432, User: "cron", Password: "secret", DBName: "taskcron", SSLMode: "require"},
			want: "host=db user=cron password=secret dbname=taskcron port=5432 sslmode=require",
		},
		{
			name: "default sslmode and time zone",
			cfg:  Config{Host: "db", Port: 5433, User: "cron", DBName: "taskcron", TimeZone: "UTC"},
			want: "host=db user=cron password= dbname=taskcron port=5433 sslmode=disable TimeZone=UTC",
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tt.cfg.DataSourceName(); got != tt.want {
				t.Fatalf("DataSourceName() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestLogLevel(t *testing.T) {
	t.Parallel()
	for in, want := range map[string]gormlogger.LogLevel{
		"Silent": gormlogger.Silent,
		"Error":  gormlogger.Error,
		"Info":   gormlogger.Info,
		"":       gormlogger.Warn,
		"loud":   gormlogger.Warn,
	} {
		if got := logLevel(in); got != want {
			t.Errorf("logLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
