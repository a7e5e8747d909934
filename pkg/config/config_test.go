package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func validConfig() *Config {
	return &Config{
		Server: ServerConfig{Host: "0.0.0.0", Port: 8080},
		Mongo:  MongoConfig{URI: "mongodb://localhost:27017", Database: "ingestpipe"},
		ETL:    ETLConfig{BatchSize: 5},
	}
}

func TestValidate_AcceptsWellFormedConfig(t *testing.T) {
	cfg := validConfig()
	assert.NoError(t, cfg.Validate())
}

func TestValidate_RejectsOutOfRangePort(t *testing.T) {
	cfg := validConfig()
	cfg.Server.Port = 0
	assert.Error(t, cfg.Validate())

	cfg.Server.Port = 70000
	assert.Error(t, cfg.Validate())
}

func TestValidate_RejectsMissingMongoURI(t *testing.T) {
	cfg := validConfig()
	cfg.Mongo.URI = ""
	assert.Error(t, cfg.Validate())
}

func TestValidate_RejectsMissingMongoDatabase(t *testing.T) {
	cfg := validConfig()
	cfg.Mongo.Database = ""
	assert.Error(t, cfg.Validate())
}

func TestValidate_RejectsSubOneBatchSize(t *testing.T) {
	cfg := validConfig()
	cfg.ETL.BatchSize = 0
	assert.Error(t, cfg.Validate())
}

func TestGetServerAddr(t *testing.T) {
	cfg := validConfig()
	assert.Equal(t, "0.0.0.0:8080", cfg.GetServerAddr())
}
