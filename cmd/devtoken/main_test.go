package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextday/nextday-api/internal/pkg/jwt"
)

func TestDevtokenMintsVerifiableToken(t *testing.T) {
	t.Setenv("ENV", "development")
	t.Setenv("AUTH_JWT_SECRET", "devtoken-secret")
	t.Setenv("AUTH_JWT_ISSUER", "")

	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--account", "acc_dev", "--role", "admin", "--email", "dev@nextday.test"})
	require.NoError(t, cmd.Execute())

	claims, err := jwt.NewService("devtoken-secret", "", 0).ValidateSessionToken(strings.TrimSpace(out.String()))
	require.NoError(t, err)
	assert.Equal(t, "acc_dev", claims.Subject)
	assert.Equal(t, "admin", claims.Role)
	assert.Equal(t, "dev@nextday.test", claims.Email)
}

func TestDevtokenRequiresAccount(t *testing.T) {
	t.Setenv("ENV", "development")

	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(nil)
	assert.Error(t, cmd.Execute())
}

func TestDevtokenRefusesProduction(t *testing.T) {
	t.Setenv("ENV", "production")

	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--account", "acc_dev"})
	assert.ErrorContains(t, cmd.Execute(), "disabled")
}
