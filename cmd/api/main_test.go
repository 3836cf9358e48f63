package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	root := newRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestHashAdminKeyFromFlag(t *testing.T) {
	out, err := run(t, "", "hash-admin-key", "--key", "operator-key-0123456789abcdef")
	require.NoError(t, err)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(strings.TrimSpace(out)), []byte("operator-key-0123456789abcdef")))
}

func TestHashAdminKeyFromStdin(t *testing.T) {
	out, err := run(t, "operator-key-0123456789abcdef\n", "hash-admin-key")
	require.NoError(t, err)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(strings.TrimSpace(out)), []byte("operator-key-0123456789abcdef")))
}

func TestHashAdminKeyRejectsShortKey(t *testing.T) {
	_, err := run(t, "", "hash-admin-key", "--key", "short")
	require.Error(t, err)
}

func TestShopCommandValidatesID(t *testing.T) {
	_, err := run(t, "", "shop", "deactivate", "abc")
	require.ErrorContains(t, err, "invalid shop id")

	_, err = run(t, "", "shop", "activate")
	require.Error(t, err)
}
