//go:build !integration

package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMigrateCommand_Mode_IsMigrate(t *testing.T) {
	assert.Equal(t, "migrate", migrateCmd.Annotations["mode"])
}

func TestMigrateCommand_Metadata(t *testing.T) {
	assert.Equal(t, "migrate", migrateCmd.Use)
	assert.NotEmpty(t, migrateCmd.Short)
}
