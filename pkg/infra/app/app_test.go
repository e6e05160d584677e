package app

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testOptions struct {
	Addr    string `mapstructure:"addr"`
	Region  string `mapstructure:"region"`
	Retries int    `mapstructure:"retries"`

	completed bool
}

func (o *testOptions) Flags() (fss NamedFlagSets) {
	fs := fss.FlagSet("test")
	fs.StringVar(&o.Addr, "addr", o.Addr, "Listen address.")
	fs.StringVar(&o.Region, "region", o.Region, "Region.")
	fs.IntVar(&o.Retries, "retries", o.Retries, "Retries.")
	return fss
}

func (o *testOptions) Complete() error {
	o.completed = true
	return nil
}

func (o *testOptions) Validate() error {
	if o.Retries < 0 {
		return fmt.Errorf("retries cannot be negative")
	}
	return nil
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "app.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func execute(t *testing.T, opts *testOptions, args ...string) (*viper.Viper, error) {
	t.Helper()
	var got *viper.Viper
	a := NewApp(
		WithName("app-test"),
		WithOptions(opts),
		WithNoVersion(),
		WithRunFunc(func(v *viper.Viper) error {
			got = v
			return nil
		}),
	)
	a.Command().SetArgs(args)
	err := a.Command().Execute()
	return got, err
}

func TestConfigFileAndFlagPrecedence(t *testing.T) {
	t.Setenv("APP_TEST_REGION", "us-east-1")
	path := writeConfig(t, "addr: \":9000\"\nregion: ${APP_TEST_REGION}\nretries: 2\n")

	opts := &testOptions{Addr: ":8100"}
	v, err := execute(t, opts, "--config", path, "--retries", "5")
	require.NoError(t, err)

	assert.Equal(t, ":9000", opts.Addr)
	assert.Equal(t, "us-east-1", opts.Region)
	assert.Equal(t, 5, opts.Retries)
	assert.True(t, opts.completed)
	require.NotNil(t, v)
	assert.Equal(t, path, v.ConfigFileUsed())
}

func TestUnsetEnvVarIsKept(t *testing.T) {
	path := writeConfig(t, "region: ${APP_TEST_UNSET_VAR}\n")
	opts := &testOptions{}
	_, err := execute(t, opts, "--config", path)
	require.NoError(t, err)
	assert.Equal(t, "${APP_TEST_UNSET_VAR}", opts.Region)
}

func TestMissingExplicitConfigFails(t *testing.T) {
	_, err := execute(t, &testOptions{}, "--config", filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read config file")
}

func TestValidationErrorStopsRun(t *testing.T) {
	ran := false
	a := NewApp(
		WithName("app-test"),
		WithOptions(&testOptions{}),
		WithNoVersion(),
		WithNoConfig(),
		WithRunFunc(func(*viper.Viper) error {
			ran = true
			return nil
		}),
	)
	a.Command().SetArgs([]string{"--retries", "-1"})
	assert.ErrorContains(t, a.Command().Execute(), "retries cannot be negative")
	assert.False(t, ran)
}

func TestEnvPrefix(t *testing.T) {
	assert.Equal(t, "CHATBOT_SERVER", envPrefix("chatbot-server"))
}

func TestNamedFlagSetsKeepOrder(t *testing.T) {
	var fss NamedFlagSets
	fss.FlagSet("b")
	fss.FlagSet("a")
	fss.FlagSet("b")
	assert.Equal(t, []string{"b", "a"}, fss.Order)
}
