package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// Reloadable 可在运行时接收新配置的组件。新配置不合法时返回错误并保留旧配置。
type Reloadable interface {
	OnConfigChange(newConfig any) error
}

// ReloadableSubscriber 把配置文件中的一个段解码后交给 Reloadable。
type ReloadableSubscriber[T any] struct {
	component Reloadable
	configKey string
	newTarget func() T
}

// NewReloadableSubscriber creates a subscriber for configKey.
// newTarget 每次变更时创建一个带默认值的新对象，未出现在文件中的字段保持默认值。
func NewReloadableSubscriber[T any](component Reloadable, configKey string, newTarget func() T) *ReloadableSubscriber[T] {
	return &ReloadableSubscriber[T]{component: component, configKey: configKey, newTarget: newTarget}
}

// Handler returns the ChangeHandler to register with a Watcher.
func (rs *ReloadableSubscriber[T]) Handler() ChangeHandler {
	return func(v *viper.Viper) error {
		target := rs.newTarget()
		if err := v.UnmarshalKey(rs.configKey, target); err != nil {
			return fmt.Errorf("failed to unmarshal config key '%s': %w", rs.configKey, err)
		}
		if err := rs.component.OnConfigChange(target); err != nil {
			return fmt.Errorf("component rejected config change: %w", err)
		}
		return nil
	}
}
