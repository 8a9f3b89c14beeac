// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatelock Contributors

package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRootCmd_Subcommands(t *testing.T) {
	cmd := NewRootCmd()

	names := make(map[string]bool)
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}
	assert.True(t, names["serve"])
	assert.True(t, names["migrate"])
	assert.True(t, names["status"])

	flag := cmd.PersistentFlags().Lookup("config")
	require.NotNil(t, flag)
}

func TestNewMigrateCmd_Actions(t *testing.T) {
	cmd := NewMigrateCmd()

	names := make(map[string]bool)
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}
	for _, want := range []string{"up", "down", "steps", "force", "status"} {
		assert.True(t, names[want], "missing migrate action %s", want)
	}
}

func TestMigrateForce_RejectsNegativeVersion(t *testing.T) {
	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{"migrate", "force", "-1"})

	err := cmd.Execute()
	require.Error(t, err)
}

func TestMigrateSteps_RejectsNonNumeric(t *testing.T) {
	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{"migrate", "steps", "many"})

	err := cmd.Execute()
	require.Error(t, err)
}
