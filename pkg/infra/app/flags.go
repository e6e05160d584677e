package app

import "github.com/spf13/pflag"

// NamedFlagSets 按分组保存 flag，分组顺序即 --help 中的展示顺序。
type NamedFlagSets struct {
	Order    []string
	FlagSets map[string]*pflag.FlagSet
}

// FlagSet returns the flag set with the given name, creating it on first use.
func (nfs *NamedFlagSets) FlagSet(name string) *pflag.FlagSet {
	if nfs.FlagSets == nil {
		nfs.FlagSets = map[string]*pflag.FlagSet{}
	}
	if _, ok := nfs.FlagSets[name]; !ok {
		nfs.FlagSets[name] = pflag.NewFlagSet(name, pflag.ExitOnError)
		nfs.Order = append(nfs.Order, name)
	}
	return nfs.FlagSets[name]
}

// CliOptions 可交给 App 的命令行配置。
type CliOptions interface {
	// Flags 返回分组后的 flag。
	Flags() NamedFlagSets
	// Complete 用环境变量等补全默认值。
	Complete() error
	// Validate 校验全部配置，返回聚合错误。
	Validate() error
}
