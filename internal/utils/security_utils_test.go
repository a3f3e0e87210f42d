package utils_test

import (
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/trust-ethos/ethos-connect/internal/utils"

	"gotest.tools/v3/assert"
)

func TestGetSecret(t *testing.T) {
	// Setup
	path := filepath.Join(t.TempDir(), "ethosconnect_test_secret")
	err := os.WriteFile(path, []byte("       secret       \n"), 0600)
	assert.NilError(t, err)

	// Get from config
	assert.Equal(t, "mysecret", utils.GetSecret("mysecret", ""))

	// Get from file
	assert.Equal(t, "secret", utils.GetSecret("", path))

	// Get from both (config should take precedence)
	assert.Equal(t, "mysecret", utils.GetSecret("mysecret", path))

	// Get from none
	assert.Equal(t, "", utils.GetSecret("", ""))

	// Get from non-existing file
	assert.Equal(t, "", utils.GetSecret("", "/tmp/non_existing_file"))
}

func TestParseSecretFile(t *testing.T) {
	// Normal case
	content := "   mysecret   \n"
	assert.Equal(t, "mysecret", utils.ParseSecretFile(content))

	// Multiple lines (should take the first non-empty line)
	content = "\n\n   firstsecret   \nsecondsecret\n"
	assert.Equal(t, "firstsecret", utils.ParseSecretFile(content))

	// All empty lines
	content = "\n   \n  \n"
	assert.Equal(t, "", utils.ParseSecretFile(content))
}

func TestGetRandomString(t *testing.T) {
	str, err := utils.GetRandomString(32)
	assert.NilError(t, err)
	assert.Equal(t, 32, len(str))

	other, err := utils.GetRandomString(32)
	assert.NilError(t, err)
	assert.Assert(t, str != other)

	_, err = utils.GetRandomString(0)
	assert.ErrorContains(t, err, "length must be greater than 0")
}

func TestGetRandomHex(t *testing.T) {
	str, err := utils.GetRandomHex(17)
	assert.NilError(t, err)
	assert.Equal(t, 17, len(str))
	assert.Assert(t, regexp.MustCompile(`^[0-9a-f]+$`).MatchString(str))
}

func TestSecureCompare(t *testing.T) {
	assert.Assert(t, utils.SecureCompare("token", "token"))
	assert.Assert(t, !utils.SecureCompare("token", "tokem"))
	assert.Assert(t, !utils.SecureCompare("token", ""))
}
