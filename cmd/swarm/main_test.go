package main

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studiowebux/swarm/internal/config"
)

func TestSetupLogging(t *testing.T) {
	defer logrus.SetLevel(logrus.InfoLevel)

	require.NoError(t, setupLogging("DEBUG", true))
	assert.Equal(t, logrus.DebugLevel, logrus.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, logrus.StandardLogger().Formatter)

	require.NoError(t, setupLogging("warn", false))
	assert.IsType(t, &logrus.TextFormatter{}, logrus.StandardLogger().Formatter)

	assert.Error(t, setupLogging("loud", false))
}

func TestParseRunID(t *testing.T) {
	id, err := parseRunID("12")
	require.NoError(t, err)
	assert.Equal(t, int64(12), id)

	for _, bad := range []string{"", "x", "0", "-3"} {
		_, err := parseRunID(bad)
		assert.Error(t, err, bad)
	}
}

func TestApplyLoadFlags(t *testing.T) {
	settings = config.Default()
	defer func() { flagHost = "" }()

	require.NoError(t, runCmd.Flags().Set("users", "42"))
	require.NoError(t, runCmd.Flags().Set("run-time", "90s"))
	flagHost = "http://target:9000"

	applyLoadFlags(runCmd)
	assert.Equal(t, 42, settings.Users)
	assert.Equal(t, "90s", settings.RunTime)
	assert.Equal(t, "http://target:9000", settings.BaseURL)
	// unchanged flags keep the settings value
	assert.Equal(t, config.Default().SpawnRate, settings.SpawnRate)
}

func TestCommandTree(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"run", "master", "worker", "launch", "health", "report", "seed", "mockapi", "history", "version"} {
		assert.True(t, names[want], want)
	}
}
