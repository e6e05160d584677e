// Package app 基于 cobra、viper 与 pflag 的命令行启动器。
//
// 配置优先级：命令行 flag > 配置文件 > 默认值。
// 配置文件中的 ${VAR} 与 $VAR 会被替换为环境变量的值，未设置的变量保持原样。
package app

import (
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/kart-io/version"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// RunFunc 启动应用。v 持有已加载的配置文件，可用于热更新。
type RunFunc func(v *viper.Viper) error

// App 一个可执行程序。
type App struct {
	name        string
	shortDesc   string
	description string
	options     CliOptions
	runFunc     RunFunc
	noVersion   bool
	noConfig    bool

	cmd   *cobra.Command
	viper *viper.Viper
}

// Option configures an App.
type Option func(*App)

// WithName sets the command name, also used to find the config file and as the env prefix.
func WithName(name string) Option {
	return func(a *App) { a.name = name }
}

func WithShortDescription(desc string) Option {
	return func(a *App) { a.shortDesc = desc }
}

func WithDescription(desc string) Option {
	return func(a *App) { a.description = desc }
}

// WithOptions sets the options populated from flags and the config file.
func WithOptions(opts CliOptions) Option {
	return func(a *App) { a.options = opts }
}

func WithRunFunc(run RunFunc) Option {
	return func(a *App) { a.runFunc = run }
}

// WithNoVersion 不注册 --version。
func WithNoVersion() Option {
	return func(a *App) { a.noVersion = true }
}

// WithNoConfig 不注册 --config，也不查找配置文件。
func WithNoConfig() Option {
	return func(a *App) { a.noConfig = true }
}

// NewApp creates an App.
func NewApp(opts ...Option) *App {
	a := &App{name: filepath.Base(os.Args[0]), viper: viper.New()}
	for _, opt := range opts {
		opt(a)
	}
	a.buildCommand()
	return a
}

func (a *App) buildCommand() {
	cmd := &cobra.Command{
		Use:          a.name,
		Short:        a.shortDesc,
		Long:         a.description,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE:         a.runCommand,
	}
	cmd.SetOut(os.Stdout)
	cmd.SetErr(os.Stderr)
	cmd.Flags().SortFlags = false

	if !a.noConfig {
		cmd.PersistentFlags().StringP("config", "c", "", "Path to the config file.")
	}
	if !a.noVersion {
		version.AddFlags(cmd.PersistentFlags())
	}
	if a.options != nil {
		fss := a.options.Flags()
		for _, name := range fss.Order {
			cmd.Flags().AddFlagSet(fss.FlagSets[name])
		}
	}
	a.cmd = cmd
}

func (a *App) runCommand(cmd *cobra.Command, _ []string) error {
	if !a.noVersion {
		version.PrintAndExitIfRequested()
	}

	if !a.noConfig {
		if err := a.loadConfig(cmd); err != nil {
			return err
		}
	}

	if a.options != nil {
		if err := a.options.Complete(); err != nil {
			return fmt.Errorf("failed to complete options: %w", err)
		}
		if err := a.options.Validate(); err != nil {
			return err
		}
	}

	if a.runFunc == nil {
		return nil
	}
	return a.runFunc(a.viper)
}

// loadConfig 读取配置文件并解码到 options，随后重新应用命令行中显式设置的 flag。
func (a *App) loadConfig(cmd *cobra.Command) error {
	v := a.viper
	configFile, _ := cmd.Flags().GetString("config")
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName(a.name)
		v.SetConfigType("yaml")
		for _, dir := range configDirs(a.name) {
			v.AddConfigPath(dir)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !stderrors.As(err, &notFound) {
			return fmt.Errorf("failed to read config file: %w", err)
		}
	}
	expandEnvVars(v)

	v.SetEnvPrefix(envPrefix(a.name))
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if a.options == nil {
		return nil
	}

	changed := map[string]string{}
	cmd.Flags().Visit(func(f *pflag.Flag) {
		changed[f.Name] = f.Value.String()
	})
	if err := v.Unmarshal(a.options); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}
	for name, val := range changed {
		if err := cmd.Flags().Set(name, val); err != nil {
			return fmt.Errorf("failed to re-apply flag %s: %w", name, err)
		}
	}
	return nil
}

func configDirs(name string) []string {
	dirs := []string{".", "./configs"}
	if home, err := os.UserHomeDir(); err == nil {
		dirs = append(dirs, filepath.Join(home, "."+name))
	}
	return append(dirs, "/etc/"+name)
}

// envPrefix 由名称生成环境变量前缀，例如 chatbot-server -> CHATBOT_SERVER。
func envPrefix(name string) string {
	return strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
}

var envPattern = regexp.MustCompile(`\$\{([^}]+)\}|\$([A-Za-z_][A-Za-z0-9_]*)`)

func expandEnvVars(v *viper.Viper) {
	for _, key := range v.AllKeys() {
		raw, ok := v.Get(key).(string)
		if !ok {
			continue
		}
		expanded := envPattern.ReplaceAllStringFunc(raw, func(match string) string {
			name := strings.TrimSuffix(strings.TrimPrefix(strings.TrimPrefix(match, "${"), "$"), "}")
			if val, ok := os.LookupEnv(name); ok {
				return val
			}
			return match
		})
		if expanded != raw {
			v.Set(key, expanded)
		}
	}
}

// Run executes the command and exits with status 1 on error.
func (a *App) Run() {
	if err := a.cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// Command returns the cobra command.
func (a *App) Command() *cobra.Command {
	return a.cmd
}

// Viper returns the viper instance holding the loaded config file.
func (a *App) Viper() *viper.Viper {
	return a.viper
}
