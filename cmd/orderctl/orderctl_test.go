package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akylbek/commerce/order-lifecycle/internal/models"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestPolicyCheck(t *testing.T) {
	path := writeFile(t, "policy.yaml", "version: \"2024.2\"\nthresholds:\n  review_at: 25\n  block_above: 80\n")

	out, err := run(t, "policy", "check", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Policy 2024.2 is valid")
	assert.Contains(t, out, "25")

	bad := writeFile(t, "bad.yaml", "thresholds:\n  review_at: 90\n  block_above: 10\n")
	_, err = run(t, "policy", "check", bad)
	assert.Error(t, err)
}

func TestScore(t *testing.T) {
	path := writeFile(t, "ctx.json", `{
		"email": "fresh@example.net",
		"new_account": true,
		"amount": {"amount": 900000, "currency": "USD"},
		"billing_country": "US",
		"shipping_country": "US",
		"ip_country": "NG"
	}`)

	out, err := run(t, "score", path)
	require.NoError(t, err)
	var a models.Assessment
	require.NoError(t, json.Unmarshal([]byte(out), &a))
	assert.Equal(t, models.RecommendBlock, a.Recommendation)
	assert.Equal(t, 85, a.Score)

	out, err = run(t, "score", path, "--chargebacks", "1")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &a))
	assert.Equal(t, 100, a.Score)
}

func TestAuditNeedsDatabase(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	_, err := run(t, "audit", "order-1", "--database-url", "")
	assert.Error(t, err)
}
