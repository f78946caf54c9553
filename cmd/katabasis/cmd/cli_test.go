package cmd

import (
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/katabasis-sandbox/katabasis/pkg/domain"
)

func TestParseProtection(t *testing.T) {
	flags, err := parseProtection("rw")
	require.NoError(t, err)
	assert.True(t, flags.Read)
	assert.True(t, flags.Write)
	assert.False(t, flags.Execute)

	flags, err = parseProtection("none")
	require.NoError(t, err)
	assert.Equal(t, domain.NoAccess(), flags)

	_, err = parseProtection("rwx-please")
	assert.Error(t, err)
}

func TestParseCapabilities(t *testing.T) {
	set, err := parseCapabilities([]string{"network", "filesystem"})
	require.NoError(t, err)
	assert.True(t, set.Has(domain.CapabilityNetwork))
	assert.True(t, set.Has(domain.CapabilityFilesystem))
	assert.False(t, set.Has(domain.CapabilityDevice))

	_, err = parseCapabilities([]string{"telepathy"})
	assert.Error(t, err)
}

func TestBuildWorkload(t *testing.T) {
	for _, name := range []string{"sleep", "touch", "fill", "stream"} {
		w, err := buildWorkload(name)
		require.NoError(t, err)
		assert.Equal(t, name, w.Name)
		assert.NotNil(t, w.Run)
	}

	_, err := buildWorkload("mine-bitcoin")
	assert.Error(t, err)
}

func TestRunCommandEndToEnd(t *testing.T) {
	rootCmd.SetArgs([]string{"run", "touch", "--quiet", "--workdir", t.TempDir(), "--name", "cli-test"})
	defer rootCmd.SetArgs(nil)

	err := rootCmd.Execute()
	require.NoError(t, err)
}

func TestConfigSetAndGet(t *testing.T) {
	configFile := filepath.Join(t.TempDir(), "katabasis.yaml")
	viper.Reset()
	viper.SetConfigFile(configFile)
	t.Cleanup(viper.Reset)

	rootCmd.SetArgs([]string{"config", "set", "defaults.mem", "2048"})
	require.NoError(t, rootCmd.Execute())

	viper.Reset()
	viper.SetConfigFile(configFile)
	require.NoError(t, viper.ReadInConfig())
	assert.Equal(t, "2048", viper.GetString("defaults.mem"))
	rootCmd.SetArgs(nil)
}
